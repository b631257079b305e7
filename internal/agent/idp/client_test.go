package idp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/healthsign/authagent/internal/agent/domain"
	"github.com/healthsign/authagent/pkg/josex"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// unsigned JWT carrying the given claims, enough for ParseUnverified.
func discoveryJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "BP256R1", "typ": "JWT"})
	return header + "." + enc(claims) + "." + base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func TestDiscovery(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		require.Contains(t, r.Header.Get("User-Agent"), "authagent/")
		require.Contains(t, r.Header.Get("User-Agent"), "gematik/testclient")
		hits++
		_, _ = w.Write([]byte(discoveryJWT(t, map[string]any{
			"authorization_endpoint": "https://idp.example/auth",
			"uri_puk_idp_enc":        "https://idp.example/jwk",
			"iss":                    "https://idp.example",
		})))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())

	cfg, err := c.Discovery(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "https://idp.example/auth", cfg.AuthorizationEndpoint)
	require.Equal(t, "https://idp.example/jwk", cfg.URIPukIdpEnc)

	t.Run("cached on second call", func(t *testing.T) {
		_, err := c.Discovery(context.Background(), srv.URL)
		require.NoError(t, err)
		require.Equal(t, 1, hits)
	})
}

func TestDiscoveryMissingEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(discoveryJWT(t, map[string]any{"iss": "x"})))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())
	_, err := c.Discovery(context.Background(), srv.URL)
	require.Equal(t, domain.KindIdp, domain.AsFlowError(err).Kind)
}

func TestEncryptionKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"kid": "puk_idp_enc", "kty": "EC", "crv": "BP-256", "x": "eHg", "y": "eXk",
		})
	}))
	defer srv.Close()

	c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())

	t.Run("no enc uri means no key", func(t *testing.T) {
		key, err := c.EncryptionKey(context.Background(), &OpenIDConfiguration{})
		require.NoError(t, err)
		require.Nil(t, key)
	})

	key, err := c.EncryptionKey(context.Background(), &OpenIDConfiguration{URIPukIdpEnc: srv.URL + "/jwk"})
	require.NoError(t, err)
	require.Equal(t, "puk_idp_enc", key.Kid)
	require.Equal(t, josex.CrvBP256, key.Crv)
}

func TestFetchChallenge(t *testing.T) {
	t.Parallel()

	t.Run("central idp", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"challenge": "eyJhbGciOi.challenge.jwt"})
		}))
		defer srv.Close()

		c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())
		data, err := c.FetchChallenge(context.Background(), josex.VariantCentralIdp, srv.URL+"/auth?client_id=x")
		require.NoError(t, err)
		require.Equal(t, "eyJhbGciOi.challenge.jwt", data.Challenge)
		require.Empty(t, data.SID)
		require.Empty(t, data.SubmitURL)
	})

	t.Run("ogr builds submit url from challenge_endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"challenge":          "abc",
				"sid":                "sid-1",
				"challenge_endpoint": "/realms/ogr/challenge",
			})
		}))
		defer srv.Close()

		c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())
		data, err := c.FetchChallenge(context.Background(), josex.VariantOGR, srv.URL+"/start")
		require.NoError(t, err)
		require.Equal(t, "sid-1", data.SID)
		require.Equal(t, srv.URL+"/realms/ogr/challenge", data.SubmitURL)
	})

	t.Run("ogr without sid fails validation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"challenge":          "abc",
				"challenge_endpoint": "/x",
			})
		}))
		defer srv.Close()

		c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())
		_, err := c.FetchChallenge(context.Background(), josex.VariantOGR, srv.URL)
		require.Equal(t, domain.CodeResponseInvalid, domain.AsFlowError(err).Code)
	})
}

func TestSubmitCentral(t *testing.T) {
	t.Parallel()

	t.Run("redirect on success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			require.NotEmpty(t, r.PostForm.Get("signed_challenge"))
			w.Header().Set("Location", "https://rp.example/cb?code=authcode")
			w.WriteHeader(http.StatusFound)
		}))
		defer srv.Close()

		// redirects must not be followed: the Location header is the result
		client := *srv.Client()
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}

		c := New(&client, nil, "testclient", "1.0.0", testLogger())
		location, err := c.SubmitCentral(context.Background(), srv.URL+"/auth", "eyJhbGc..jwe.parts.x")
		require.NoError(t, err)
		require.Equal(t, "https://rp.example/cb?code=authcode", location)
	})

	t.Run("structured error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("error_uri", "https://idp.example/error/2030")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":              "invalid_request",
				"gematik_error_text": "challenge ist abgelaufen",
				"gematik_code":       "2030",
			})
		}))
		defer srv.Close()

		c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())
		_, err := c.SubmitCentral(context.Background(), srv.URL+"/auth", "jwe")
		fe := domain.AsFlowError(err)
		require.Equal(t, domain.KindIdp, fe.Kind)
		require.NotNil(t, fe.OAuth)
		require.Equal(t, domain.OAuthInvalidRequest, fe.OAuth.OAuthType)
		require.Equal(t, "2030", fe.OAuth.GematikCode)
		require.Equal(t, "https://idp.example/error/2030", fe.OAuth.ErrorURI)
	})
}

func TestSubmitOGR(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "hba.jws.sig", payload["hba"]["signed_challenge"])
		require.Equal(t, "smcb.jws.sig", payload["smcb"]["signed_challenge"])
		w.Header().Set("x-callback-location", "https://rp.example/cb?code=ogr")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.Client(), nil, "testclient", "1.0.0", testLogger())
	location, err := c.SubmitOGR(context.Background(), srv.URL+"/challenge", "hba.jws.sig", "smcb.jws.sig")
	require.NoError(t, err)
	require.Equal(t, "https://rp.example/cb?code=ogr", location)
}

func TestFollowContinuation(t *testing.T) {
	t.Parallel()

	t.Run("privileged client is the second attempt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Privileged") != "yes" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Location", "https://rp.example/done")
			w.WriteHeader(http.StatusFound)
		}))
		defer srv.Close()

		std := *srv.Client()
		std.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		priv := std
		priv.Transport = headerTransport{base: std.Transport}

		c := New(&std, &priv, "testclient", "1.0.0", testLogger())
		location, err := c.FollowContinuation(context.Background(), srv.URL+"/continue")
		require.NoError(t, err)
		require.Equal(t, "https://rp.example/done", location)
	})
}

type headerTransport struct{ base http.RoundTripper }

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("X-Privileged", "yes")
	return h.base.RoundTrip(req)
}
