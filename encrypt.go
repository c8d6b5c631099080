package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// Push services are not required to accept records larger than this;
	// Apple's does not.
	maxRecordSize = 4096

	// salt (16) + record size (4) + key id length (1) + key id (65).
	recordHeaderLen = 86

	// header + delimiter byte + AES-128-GCM tag.
	minOverhead = recordHeaderLen + 1 + 16
)

var (
	keyInfoPrefix = []byte("WebPush: info\x00")
	cekInfo       = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo     = []byte("Content-Encoding: nonce\x00")
)

// EncryptionResult is one sealed message. Record is the complete aes128gcm
// body (RFC 8188 header followed by the ciphertext and its GCM tag). Salt
// and LocalPublicKey are also part of the header; they are exposed
// separately for the legacy Crypto-Key/Encryption request headers.
type EncryptionResult struct {
	Record         []byte
	Salt           []byte // 16 bytes, fresh per message
	LocalPublicKey []byte // 65 bytes, ephemeral, fresh per message
}

// Encrypt seals plaintext for a subscriber per RFC 8291. The salt and the
// local ECDH key pair are freshly random on every call; reusing either for
// two messages to the same subscriber would break the construction.
func (s *Subscription) Encrypt(plaintext []byte) (*EncryptionResult, error) {
	p256dh, auth, err := s.decodeKeys()
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	localKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	return encryptWithMaterial(plaintext, p256dh, auth, salt, localKey)
}

// encryptWithMaterial is the deterministic core: fixed inputs produce a
// fixed record. Split out so the RFC 8291 test vector can be asserted
// byte-for-byte.
func encryptWithMaterial(plaintext, p256dh, auth, salt []byte, localKey *ecdh.PrivateKey) (*EncryptionResult, error) {
	if len(plaintext) > maxRecordSize-minOverhead {
		return nil, fmt.Errorf("message length %d exceeds record capacity %d", len(plaintext), maxRecordSize-minOverhead)
	}

	subscriberKey, err := ecdh.P256().NewPublicKey(p256dh)
	if err != nil {
		return nil, fmt.Errorf("parsing subscriber public key: %w", err)
	}

	sharedSecret, err := localKey.ECDH(subscriberKey)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}

	localPub := localKey.PublicKey().Bytes()

	// IKM = HKDF(salt=auth, ikm=ecdh_secret, info="WebPush: info"||0x00||ua_pub||as_pub)
	keyInfo := make([]byte, 0, len(keyInfoPrefix)+len(p256dh)+len(localPub))
	keyInfo = append(keyInfo, keyInfoPrefix...)
	keyInfo = append(keyInfo, p256dh...)
	keyInfo = append(keyInfo, localPub...)
	ikm, err := hkdfDerive(32, sharedSecret, auth, keyInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving IKM: %w", err)
	}

	cek, err := hkdfDerive(16, ikm, salt, cekInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving CEK: %w", err)
	}

	nonce, err := hkdfDerive(12, ikm, salt, nonceInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving nonce: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// Last (only) record: plaintext followed by the 0x02 delimiter, no
	// extra padding.
	padded := make([]byte, 0, len(plaintext)+1)
	padded = append(padded, plaintext...)
	padded = append(padded, 0x02)
	sealed := gcm.Seal(nil, nonce, padded, nil)

	record := make([]byte, 0, recordHeaderLen+len(sealed))
	record = append(record, salt...)
	record = binary.BigEndian.AppendUint32(record, maxRecordSize)
	record = append(record, byte(len(localPub)))
	record = append(record, localPub...)
	record = append(record, sealed...)

	return &EncryptionResult{
		Record:         record,
		Salt:           salt,
		LocalPublicKey: localPub,
	}, nil
}

func hkdfDerive(length int, secret, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
