package domain

// OAuthErrorType is the closed set of OAuth2 error codes the IdP may
// return, RFC 6749 §4.1.2.1 plus the token-endpoint codes.
type OAuthErrorType string

const (
	OAuthInvalidRequest          OAuthErrorType = "invalid_request"
	OAuthAccessDenied            OAuthErrorType = "access_denied"
	OAuthUnauthorizedClient      OAuthErrorType = "unauthorized_client"
	OAuthUnsupportedResponseType OAuthErrorType = "unsupported_response_type"
	OAuthInvalidScope            OAuthErrorType = "invalid_scope"
	OAuthServerError             OAuthErrorType = "server_error"
	OAuthTemporarilyUnavailable  OAuthErrorType = "temporarily_unavailable"
	OAuthInvalidClient           OAuthErrorType = "invalid_client"
	OAuthInvalidGrant            OAuthErrorType = "invalid_grant"
	OAuthUnsupportedGrantType    OAuthErrorType = "unsupported_grant_type"
)

// CallbackType selects how the terminal redirect reaches the caller.
type CallbackType string

const (
	// CallbackOpenTab answers the parked local HTTP request with a 302.
	CallbackOpenTab CallbackType = "OPEN_TAB"
	// CallbackDirect returns the redirect URI in the response body
	// instead of a Location header.
	CallbackDirect CallbackType = "DIRECT"
	// CallbackDeeplink hands the result to another local app via a
	// custom-scheme URL.
	CallbackDeeplink CallbackType = "DEEPLINK"
)

// IdpError carries the gematik-specific error detail attached to an
// OAuth2 error body.
type IdpError struct {
	OAuthType   OAuthErrorType
	GematikText string
	GematikCode string

	// ErrorURI is the IdP's error page from the error_uri response
	// header; when set, the terminal redirect points there.
	ErrorURI string
}
