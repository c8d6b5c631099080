// Package diag provides operational diagnostics for the push engine:
// validating configured VAPID keys without touching the network, and
// sending a single test message to one device.
package diag

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	webpush "github.com/maicoln90cpu/boardmd-sub001"
	"github.com/maicoln90cpu/boardmd-sub001/codec"
	"github.com/maicoln90cpu/boardmd-sub001/keys"
	"github.com/maicoln90cpu/boardmd-sub001/storage"
	"github.com/maicoln90cpu/boardmd-sub001/vapid"
)

// referenceAudience is a fixed audience used to mint the throwaway token
// during validation. Nothing is sent to it.
const referenceAudience = "https://fcm.googleapis.com"

// VAPIDReport is the result of validating configured VAPID keys.
type VAPIDReport struct {
	Valid            bool `json:"valid"`
	PublicKeyLength  int  `json:"publicKeyLength"`
	PrivateKeyLength int  `json:"privateKeyLength"`
	JWTValid         bool `json:"jwtValid"`
}

// ValidateVAPID checks that the configured key pair is well-formed and
// usable: correct lengths, a public key that matches the private scalar,
// and a mintable token that verifies under an independent ES256
// implementation. No network request is made.
func ValidateVAPID(ctx context.Context, publicKeyB64, privateKeyB64, subject string) *VAPIDReport {
	report := &VAPIDReport{}

	pub, err := codec.Decode(publicKeyB64)
	if err == nil {
		report.PublicKeyLength = len(pub)
	}
	priv, privErr := codec.Decode(privateKeyB64)
	if privErr == nil {
		report.PrivateKeyLength = len(priv)
	}

	if err != nil || privErr != nil {
		return report
	}
	if len(pub) != keys.PublicKeyLen || pub[0] != 0x04 || len(priv) != keys.PrivateKeyLen {
		return report
	}

	signer, err := keys.NewLocalSigner(privateKeyB64)
	if err != nil {
		return report
	}
	// The two key representations must agree.
	if signer.PublicKeyBase64() != codec.Encode(pub) {
		return report
	}

	report.JWTValid = mintAndVerify(ctx, signer, subject, pub)
	report.Valid = report.JWTValid
	return report
}

func mintAndVerify(ctx context.Context, signer *keys.LocalSigner, subject string, pub []byte) bool {
	auth, err := vapid.New(signer, subject)
	if err != nil {
		return false
	}
	token, err := auth.Token(ctx, referenceAudience)
	if err != nil {
		return false
	}

	x, y := elliptic.Unmarshal(elliptic.P256(), pub)
	if x == nil {
		return false
	}
	ecdsaPub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: new(big.Int).Set(y)}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return ecdsaPub, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithAudience(referenceAudience))
	return err == nil && parsed.Valid
}

// TestResult is the synchronous result of a single-device test send.
type TestResult struct {
	Success    bool   `json:"success"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

// ErrDeviceNotFound is returned when the named device does not exist or
// does not belong to the given user.
var ErrDeviceNotFound = errors.New("device not found")

// TestSingle runs the full delivery pipeline against exactly one stored
// subscription with a fixed test message and reports the outcome
// synchronously. The outcome is also written to the delivery log like any
// other dispatch.
func TestSingle(ctx context.Context, client *webpush.Client, store storage.Storage, deviceID, userID, title, body string) (*TestResult, error) {
	record, err := store.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("loading device: %w", err)
	}
	if userID != "" && record.UserID != userID {
		return nil, ErrDeviceNotFound
	}

	if title == "" {
		title = "Test notification"
	}
	if body == "" {
		body = "If you can read this, push delivery works on this device."
	}

	outcome := client.Deliver(ctx, &webpush.Notification{
		Title: title,
		Body:  body,
		Type:  "test",
	}, record.Target())

	return &TestResult{
		Success:    outcome.Success,
		LatencyMs:  outcome.LatencyMs,
		Error:      outcome.ErrorMessage,
		DeviceName: record.DeviceName,
	}, nil
}
