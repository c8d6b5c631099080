// Package keys provides VAPID credential implementations.
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"

	"github.com/maicoln90cpu/boardmd-sub001/codec"
)

// PublicKeyLen is the length of an uncompressed P-256 point.
const PublicKeyLen = 65

// PrivateKeyLen is the length of a P-256 scalar.
const PrivateKeyLen = 32

// Signer signs VAPID tokens on behalf of the application server.
// The credential is loaded once and never mutated afterwards, so a Signer
// may be shared freely across goroutines.
type Signer interface {
	// Sign signs the given SHA-256 digest and returns the signature in
	// JOSE form (r || s, 64 bytes).
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	// PublicKey returns the public key as an uncompressed P-256 point.
	PublicKey() []byte
}

// LocalSigner holds an in-process ECDSA P-256 key pair.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte // uncompressed point
}

// NewLocalSigner creates a LocalSigner from a base64url-encoded 32-byte
// private scalar, the form VAPID keys are carried in configuration.
func NewLocalSigner(privateKeyB64 string) (*LocalSigner, error) {
	raw, err := codec.Decode(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(raw) != PrivateKeyLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeyLen, len(raw))
	}

	priv := new(ecdsa.PrivateKey)
	priv.Curve = elliptic.P256()
	priv.D = new(big.Int).SetBytes(raw)
	priv.X, priv.Y = priv.Curve.ScalarBaseMult(raw)

	return &LocalSigner{
		privateKey: priv,
		publicKey:  elliptic.Marshal(priv.Curve, priv.X, priv.Y),
	}, nil
}

// LoadPEM creates a LocalSigner from a PEM-encoded EC private key on disk.
func LoadPEM(path string) (*LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing EC private key: %w", err)
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key must be P-256 curve")
	}

	return &LocalSigner{
		privateKey: priv,
		publicKey:  elliptic.Marshal(priv.Curve, priv.X, priv.Y),
	}, nil
}

// Sign signs the given digest with ECDSA and returns the signature in JOSE
// form. Push services reject ASN.1 DER signatures, so the conversion here
// is load-bearing.
func (s *LocalSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	r, ss, err := ecdsa.Sign(rand.Reader, s.privateKey, digest)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return joseSignature(r, ss), nil
}

// PublicKey returns the public key as an uncompressed P-256 point.
func (s *LocalSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key as a base64url string, the form
// handed to PushManager.subscribe as the applicationServerKey.
func (s *LocalSigner) PublicKeyBase64() string {
	return codec.Encode(s.publicKey)
}

// ECDSAPublicKey returns the public key as a crypto/ecdsa key, for
// verifying tokens this signer minted.
func (s *LocalSigner) ECDSAPublicKey() *ecdsa.PublicKey {
	return &s.privateKey.PublicKey
}

// Generate generates a new P-256 key pair and returns both halves in
// base64url form, ready for VAPID_PRIVATE_KEY / VAPID_PUBLIC_KEY.
func Generate() (privateKeyB64, publicKeyB64 string, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}

	scalar := make([]byte, PrivateKeyLen)
	priv.D.FillBytes(scalar)
	pub := elliptic.Marshal(priv.Curve, priv.X, priv.Y)

	return codec.Encode(scalar), codec.Encode(pub), nil
}

// joseSignature packs r and s into the fixed 64-byte JOSE layout.
func joseSignature(r, s *big.Int) []byte {
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}
