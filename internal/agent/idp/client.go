// Package idp speaks the authorization side of the login: discovery,
// challenge fetch and signed-challenge submission, for both the central
// IdP and the legacy authorization server.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/healthsign/authagent/internal/agent/domain"
	"github.com/healthsign/authagent/pkg/josex"
)

const openIDConfigurationPath = "/.well-known/openid-configuration"

// Discovery documents and encryption keys rotate rarely; a short cache
// keeps repeated logins from refetching them.
const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// Client talks to the IdP over the pinned TLS client. The privileged
// client, when configured, carries extra transport credentials (e.g. a
// forward-proxy certificate) and is only used as a second attempt on
// continuation URLs.
type Client struct {
	std   *http.Client
	priv  *http.Client
	cache *gocache.Cache
	log   *slog.Logger

	clientID string
	version  string
}

func New(std, priv *http.Client, clientID, version string, log *slog.Logger) *Client {
	if priv == nil {
		priv = std
	}
	return &Client{
		std:      std,
		priv:     priv,
		cache:    gocache.New(cacheTTL, cacheCleanup),
		log:      log,
		clientID: clientID,
		version:  version,
	}
}

func (c *Client) userAgent() string {
	return fmt.Sprintf("authagent/%s gematik/%s", c.version, c.clientID)
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.std.Do(req)
	if err != nil {
		return nil, nil, domain.NewFlowError(domain.KindNetwork, domain.CodeIdpError, "idp unreachable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, domain.NewFlowError(domain.KindNetwork, domain.CodeIdpError, "idp read failed", err)
	}
	return resp, body, nil
}

// Discovery fetches and decodes the discovery document. The body is a
// JWT signed by the IdP; its signature binds to a trust chain the agent
// does not hold, so the claims are decoded without verification and the
// transport pin is what authenticates the source.
func (c *Client) Discovery(ctx context.Context, idpHost string) (*OpenIDConfiguration, error) {
	if v, ok := c.cache.Get("discovery:" + idpHost); ok {
		return v.(*OpenIDConfiguration), nil
	}

	resp, body, err := c.get(ctx, idpHost+openIDConfigurationPath)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp, body, "discovery fetch failed")
	}

	parts := strings.Split(strings.TrimSpace(string(body)), ".")
	if len(parts) != 3 {
		return nil, domain.NewFlowError(domain.KindIdp, domain.CodeIdpError, "discovery document is not a jwt", nil)
	}
	cfg := &OpenIDConfiguration{}
	if err := josex.DecodeSegment(parts[1], cfg); err != nil {
		return nil, domain.NewFlowError(domain.KindIdp, domain.CodeIdpError, "discovery document undecodable", err)
	}
	if cfg.AuthorizationEndpoint == "" {
		return nil, domain.NewFlowError(domain.KindIdp, domain.CodeIdpError, "discovery document lacks authorization_endpoint", nil)
	}
	c.cache.SetDefault("discovery:"+idpHost, cfg)
	return cfg, nil
}

// EncryptionKey fetches the IdP's public encryption JWK. An empty
// uri_puk_idp_enc means the IdP does not take encrypted challenges and
// the flow submits the bare JWS.
func (c *Client) EncryptionKey(ctx context.Context, cfg *OpenIDConfiguration) (*josex.EncryptionKey, error) {
	if cfg.URIPukIdpEnc == "" {
		return nil, nil
	}
	if v, ok := c.cache.Get("jwk:" + cfg.URIPukIdpEnc); ok {
		return v.(*josex.EncryptionKey), nil
	}

	resp, body, err := c.get(ctx, cfg.URIPukIdpEnc)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp, body, "encryption key fetch failed")
	}
	key := &josex.EncryptionKey{}
	if err := json.Unmarshal(body, key); err != nil {
		return nil, domain.NewFlowError(domain.KindIdp, domain.CodeIdpError, "encryption key undecodable", err)
	}
	c.cache.SetDefault("jwk:"+cfg.URIPukIdpEnc, key)
	return key, nil
}

// FetchChallenge retrieves the challenge behind the deep link's
// challenge URL. The legacy server additionally names the endpoint the
// signed challenge must go back to, validated field by field before use.
func (c *Client) FetchChallenge(ctx context.Context, variant josex.Variant, challengeURL string) (*ChallengeData, error) {
	resp, body, err := c.get(ctx, challengeURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp, body, "challenge fetch failed")
	}

	var cb challengeBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, domain.NewFlowError(domain.KindIdp, domain.CodeResponseInvalid, "challenge response undecodable", err)
	}
	if cb.Challenge == "" {
		return nil, domain.NewFlowError(domain.KindIdp, domain.CodeResponseInvalid, "challenge missing in response", nil)
	}

	data := &ChallengeData{Challenge: cb.Challenge}
	if variant == josex.VariantOGR {
		if cb.ChallengeEndpoint == "" {
			return nil, domain.NewFlowError(domain.KindIdp, domain.CodeResponseInvalid, "challenge_endpoint missing in response", nil)
		}
		if cb.SID == "" {
			return nil, domain.NewFlowError(domain.KindIdp, domain.CodeResponseInvalid, "sid missing in response", nil)
		}
		base, err := url.Parse(challengeURL)
		if err != nil {
			return nil, domain.NewFlowError(domain.KindValidation, domain.CodeLaunchParams, "challenge url invalid", err)
		}
		data.SID = cb.SID
		data.SubmitURL = base.Scheme + "://" + base.Host + cb.ChallengeEndpoint
	}
	return data, nil
}

// SubmitCentral posts the (possibly encrypted) signed challenge to the
// authorization endpoint. Success is a redirect whose Location carries
// the authorization code back to the caller.
func (c *Client) SubmitCentral(ctx context.Context, authzEndpoint, signedChallenge string) (string, error) {
	form := url.Values{"signed_challenge": {signedChallenge}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authzEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.std.Do(req)
	if err != nil {
		return "", domain.NewFlowError(domain.KindNetwork, domain.CodeIdpError, "idp unreachable", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", c.responseError(resp, body, "authorization rejected")
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", domain.NewFlowError(domain.KindIdp, domain.CodeIdpError,
			fmt.Sprintf("no redirect in authorization response (status %d)", resp.StatusCode), nil)
	}
	return location, nil
}

// SubmitOGR posts both signed challenges as JSON to the per-challenge
// submit endpoint. The redirect comes back in x-callback-location.
func (c *Client) SubmitOGR(ctx context.Context, submitURL, hbaJWS, smcbJWS string) (string, error) {
	payload := map[string]map[string]string{
		"hba":  {"signed_challenge": hbaJWS},
		"smcb": {"signed_challenge": smcbJWS},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, strings.NewReader(string(buf)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.std.Do(req)
	if err != nil {
		return "", domain.NewFlowError(domain.KindNetwork, domain.CodeIdpError, "idp unreachable", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", c.responseError(resp, body, "authorization rejected")
	}
	location := resp.Header.Get("x-callback-location")
	if location == "" {
		return "", domain.NewFlowError(domain.KindIdp, domain.CodeIdpError,
			fmt.Sprintf("no callback location in authorization response (status %d)", resp.StatusCode), nil)
	}
	return location, nil
}

// FollowContinuation resolves a continuation URL the IdP handed back,
// first with the standard client, once more with the privileged one if
// the first attempt fails. Returns the final redirect target.
func (c *Client) FollowContinuation(ctx context.Context, rawURL string) (string, error) {
	location, err := c.follow(ctx, c.std, rawURL)
	if err == nil {
		return location, nil
	}
	c.log.Warn("continuation fetch failed, retrying privileged", "err", err)
	location, err2 := c.follow(ctx, c.priv, rawURL)
	if err2 != nil {
		return "", err
	}
	return location, nil
}

func (c *Client) follow(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent())
	resp, err := client.Do(req)
	if err != nil {
		return "", domain.NewFlowError(domain.KindNetwork, domain.CodeIdpError, "continuation unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if location := resp.Header.Get("Location"); location != "" {
		return location, nil
	}
	if resp.StatusCode >= 400 {
		return "", domain.NewFlowError(domain.KindIdp, domain.CodeIdpError,
			fmt.Sprintf("continuation answered %d", resp.StatusCode), nil)
	}
	return rawURL, nil
}

// responseError turns a structured IdP error body into a FlowError,
// carrying the OAuth2 error type and the gematik detail fields. The
// error_uri header, when present, becomes the terminal redirect.
func (c *Client) responseError(resp *http.Response, body []byte, msg string) *domain.FlowError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	fe := domain.NewFlowError(domain.KindIdp, domain.CodeIdpError, msg, nil)
	if eb.Error != "" || eb.GematikCode != "" || resp.Header.Get("error_uri") != "" {
		fe.OAuth = &domain.IdpError{
			OAuthType:   domain.OAuthErrorType(eb.Error),
			GematikText: eb.GematikErrorText,
			GematikCode: eb.GematikCode,
			ErrorURI:    resp.Header.Get("error_uri"),
		}
	}
	c.log.Error("idp error response",
		"status", resp.StatusCode,
		"oauth_error", eb.Error,
		"gematik_code", eb.GematikCode,
		"error_uri", resp.Header.Get("error_uri"),
	)
	return fe
}
