package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// Code verifier length bounds from RFC 7636 §4.1.
const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

// ValidateCodeVerifierFormat checks the RFC 7636 format rules before any
// hashing happens: 43–128 characters from the unreserved set
// [A-Za-z0-9-._~].
func ValidateCodeVerifierFormat(verifier string) error {
	if len(verifier) < minVerifierLen || len(verifier) > maxVerifierLen {
		return Validation("invalid_request", "code_verifier must be between 43 and 128 characters")
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return Validation("invalid_request", "code_verifier contains invalid characters")
		}
	}
	return nil
}

// VerifyPKCE checks a code_verifier against the stored challenge.  For
// S256 the challenge must equal base64url(SHA-256(verifier)) without
// padding; for plain it must equal the verifier literally.  The comparison
// is constant time in both cases.
func VerifyPKCE(verifier, challenge, method string) error {
	if err := ValidateCodeVerifierFormat(verifier); err != nil {
		return err
	}
	var computed string
	switch method {
	case PKCEMethodS256, "": // S256 is the default when the method was omitted
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return Validation("invalid_request", "unsupported code_challenge_method")
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return Validation("invalid_grant", "code_verifier does not match code_challenge")
	}
	return nil
}
