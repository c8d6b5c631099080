package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSSigner signs VAPID tokens with a key held in Google Cloud KMS, so the
// private scalar never enters process memory.
type KMSSigner struct {
	client    *kms.KeyManagementClient
	keyName   string
	publicKey []byte // uncompressed point
}

// NewKMSSigner creates a KMS-backed signer. keyName is the full resource
// name of a P-256 signing key version:
// projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{key}/cryptoKeyVersions/{version}
func NewKMSSigner(ctx context.Context, keyName string) (*KMSSigner, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyName})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("getting public key: %w", err)
	}

	block, _ := pem.Decode([]byte(resp.Pem))
	if block == nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse public key PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		client.Close()
		return nil, fmt.Errorf("key is not ECDSA")
	}
	if ecdsaPub.Curve != elliptic.P256() {
		client.Close()
		return nil, fmt.Errorf("key must be P-256 curve")
	}

	return &KMSSigner{
		client:    client,
		keyName:   keyName,
		publicKey: elliptic.Marshal(ecdsaPub.Curve, ecdsaPub.X, ecdsaPub.Y),
	}, nil
}

// Sign signs the given SHA-256 digest via KMS and returns the signature in
// JOSE form.
func (s *KMSSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.keyName,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: digest},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("signing with KMS: %w", err)
	}

	// KMS emits ASN.1 DER signatures.
	return derToJOSE(resp.Signature)
}

// PublicKey returns the public key as an uncompressed P-256 point.
func (s *KMSSigner) PublicKey() []byte {
	return s.publicKey
}

// Close closes the underlying KMS client.
func (s *KMSSigner) Close() error {
	return s.client.Close()
}

func derToJOSE(der []byte) ([]byte, error) {
	var sig struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, fmt.Errorf("parsing DER signature: %w", err)
	}
	return joseSignature(sig.R, sig.S), nil
}
