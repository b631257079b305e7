// Package josex builds the compact JOSE objects exchanged with the
// central IdP: the JWS envelope whose digest is signed on the smart card,
// and the JWE that wraps the signed challenge for submission.
//
// Signing itself happens inside the card via the connector's
// ExternalAuthenticate operation, so there is no private key material
// here; this package only assembles and encodes the envelopes.
package josex

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// b64url encodes without padding, as required for every JOSE segment.
func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// encodeSegment JSON-marshals v and base64url-encodes the result.
func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal jose segment: %w", err)
	}
	return b64url(raw), nil
}

// DecodeSegment reverses encodeSegment into the given target. Exported
// for tests and for peeking into received JOSE objects.
func DecodeSegment(seg string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return fmt.Errorf("decode jose segment: %w", err)
	}
	return json.Unmarshal(raw, v)
}
