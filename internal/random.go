package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// CodeID is the public half of a verification code or bearer token. The
// paired secret never touches storage; only its SHA-256 hash does.
type CodeID [16]byte

const (
	codeSecretSize  = 32
	codeRawSize     = 48
	tokenSecretSize = 32
	bearerRawSize   = 48
)

func NewCodeID() (CodeID, error) {
	var id CodeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c CodeID) Bytes() []byte {
	return c[:]
}

func (c CodeID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

func ParseCodeID(codeID string) (CodeID, error) {
	var id CodeID

	raw, err := base64.RawURLEncoding.DecodeString(codeID)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid code id size")
	}

	copy(id[:], raw)
	return id, nil
}

func NewCodeSecret() ([codeSecretSize]byte, error) {
	var secret [codeSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashCodeSecret(secret [codeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeCode packs a code ID and its secret into the single URL-safe value
// handed to the user. DecodeCode splits it back apart on consumption.
func EncodeCode(codeID string, secret [codeSecretSize]byte) (string, error) {
	id, err := ParseCodeID(codeID)
	if err != nil {
		return "", err
	}

	var raw [codeRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeCode(value string) (string, [codeSecretSize]byte, error) {
	var secret [codeSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != codeRawSize {
		return "", secret, errors.New("invalid code size")
	}

	var id CodeID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}

func NewTokenSecret() ([tokenSecretSize]byte, error) {
	var secret [tokenSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashTokenSecret(secret [tokenSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeBearer packs a token ID and its secret into the opaque bearer value
// presented on authenticated requests.
func EncodeBearer(tokenID string, secret [tokenSecretSize]byte) (string, error) {
	id, err := ParseCodeID(tokenID)
	if err != nil {
		return "", err
	}

	var raw [bearerRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeBearer(token string) (string, [tokenSecretSize]byte, error) {
	var secret [tokenSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != bearerRawSize {
		return "", secret, errors.New("invalid bearer token size")
	}

	var id CodeID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}

func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
