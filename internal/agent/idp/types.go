package idp

import "github.com/golang-jwt/jwt/v5"

// OpenIDConfiguration is the subset of the discovery document the agent
// uses. The document arrives as a signed JWT whose claims hold the
// endpoint map.
type OpenIDConfiguration struct {
	jwt.RegisteredClaims

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	URIPukIdpEnc          string `json:"uri_puk_idp_enc"`
	URIPukIdpSig          string `json:"uri_puk_idp_sig"`
}

// ChallengeData is what a challenge fetch yields. SID and SubmitURL are
// only set by the legacy authorization server, which names its own
// submit endpoint per challenge.
type ChallengeData struct {
	Challenge string
	SID       string
	SubmitURL string
}

type challengeBody struct {
	Challenge         string `json:"challenge"`
	SID               string `json:"sid"`
	ChallengeEndpoint string `json:"challenge_endpoint"`
}

type errorBody struct {
	Error            string `json:"error"`
	GematikErrorText string `json:"gematik_error_text"`
	GematikCode      string `json:"gematik_code"`
}
