// Package codec provides the base64url conversions used throughout the
// Web Push wire format.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedInput is returned when a string is not valid base64 in any
// of the accepted variants.
var ErrMalformedInput = errors.New("codec: malformed base64 input")

// Encode returns the base64url encoding of b with padding stripped.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode decodes a base64 string. Browsers and push services are not
// consistent about URL-safe alphabets or padding, so all four variants are
// accepted. Invalid input is reported as ErrMalformedInput.
func Decode(s string) ([]byte, error) {
	b, err := encodingFor(s).DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return b, nil
}

// encodingFor picks the base64 variant matching the alphabet and padding
// actually present in s.
func encodingFor(s string) *base64.Encoding {
	padded := len(s) > 0 && s[len(s)-1] == '='
	urlSafe := false

outer:
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '-', '_':
			urlSafe = true
			break outer
		case '+', '/':
			break outer
		}
	}

	switch {
	case urlSafe && padded:
		return base64.URLEncoding
	case urlSafe:
		return base64.RawURLEncoding
	case padded:
		return base64.StdEncoding
	}
	return base64.RawStdEncoding
}
