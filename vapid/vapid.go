// Package vapid implements VAPID (Voluntary Application Server
// Identification) authentication for Web Push, per RFC 8292.
package vapid

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/maicoln90cpu/boardmd-sub001/codec"
)

// TokenLifetime is how far ahead every minted token expires. Push services
// reject anything beyond 24 hours.
const TokenLifetime = 12 * time.Hour

// Signer signs VAPID tokens.
// This mirrors the keys.Signer interface to avoid import cycles.
type Signer interface {
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	PublicKey() []byte
}

// Authenticator mints VAPID tokens proving ownership of the application
// server key to a push service. It is immutable after construction and safe
// for concurrent use.
type Authenticator struct {
	signer  Signer
	subject string
	now     func() time.Time
}

// New creates an Authenticator. subject is the contact URI carried in the
// token's sub claim, an https: URL or mailto: address.
func New(signer Signer, subject string) (*Authenticator, error) {
	if !strings.HasPrefix(subject, "https:") && !strings.HasPrefix(subject, "mailto:") {
		return nil, fmt.Errorf("vapid: invalid subject %q", subject)
	}
	return &Authenticator{signer: signer, subject: subject, now: time.Now}, nil
}

// Audience derives the token audience from a push endpoint: its scheme and
// host, nothing else.
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("vapid: parsing endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("vapid: invalid endpoint %q", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Token mints a compact JWT scoped to the given audience, expiring
// TokenLifetime from now. The signature is JOSE (raw r||s) per RFC 7515,
// not ASN.1 DER.
func (a *Authenticator) Token(ctx context.Context, audience string) (string, error) {
	header := map[string]string{
		"typ": "JWT",
		"alg": "ES256",
	}
	claims := map[string]any{
		"aud": audience,
		"exp": a.now().Add(TokenLifetime).Unix(),
		"sub": a.subject,
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("vapid: marshaling header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("vapid: marshaling claims: %w", err)
	}

	signingInput := codec.Encode(headerJSON) + "." + codec.Encode(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))

	sig, err := a.signer.Sign(ctx, digest[:])
	if err != nil {
		return "", fmt.Errorf("vapid: signing token: %w", err)
	}

	return signingInput + "." + codec.Encode(sig), nil
}

// AuthorizationHeader mints a token for the audience of the given endpoint
// and formats the Authorization header value defined by RFC 8292.
func (a *Authenticator) AuthorizationHeader(ctx context.Context, endpoint string) (string, error) {
	audience, err := Audience(endpoint)
	if err != nil {
		return "", err
	}
	token, err := a.Token(ctx, audience)
	if err != nil {
		return "", err
	}
	return "vapid t=" + token + ", k=" + codec.Encode(a.signer.PublicKey()), nil
}

// ApplicationServerKey formats a public key for use with the JavaScript
// PushManager.subscribe() method.
func ApplicationServerKey(publicKey []byte) string {
	return codec.Encode(publicKey)
}

// DecodeApplicationServerKey decodes a base64url-encoded application server key.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	return codec.Decode(key)
}
