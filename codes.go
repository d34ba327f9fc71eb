package usercore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/usercore-dev/usercore/internal"
)

// generateCodeChallenge produces a fresh verification code under the
// configured strategy. It returns the storage ID, the full value handed to
// the user, and the hash the store keeps for comparison on consumption.
func generateCodeChallenge(strategy CodeStrategyType, otpDigits int) (string, string, [32]byte, error) {
	var emptyHash [32]byte

	switch strategy {
	case CodeToken:
		codeID, err := internal.NewCodeID()
		if err != nil {
			return "", "", emptyHash, err
		}

		secret, err := internal.NewCodeSecret()
		if err != nil {
			return "", "", emptyHash, err
		}

		value, err := internal.EncodeCode(codeID.String(), secret)
		if err != nil {
			return "", "", emptyHash, err
		}

		return codeID.String(), value, internal.HashCodeSecret(secret), nil

	case CodeUUID:
		codeUUID := uuid.New()
		codeID := codeUUID.String()
		return codeID, codeID, internal.HashBytes([]byte(codeID)), nil

	case CodeOTP:
		codeID, err := internal.NewCodeID()
		if err != nil {
			return "", "", emptyHash, err
		}
		otp, err := internal.NewOTP(otpDigits)
		if err != nil {
			return "", "", emptyHash, err
		}

		value := codeID.String() + "." + otp
		return codeID.String(), value, internal.HashBytes([]byte(otp)), nil

	default:
		return "", "", emptyHash, fmt.Errorf("unsupported code strategy")
	}
}

// parseCodeChallenge splits a user-supplied code value back into the
// storage ID and the hash to compare against the stored one.
func parseCodeChallenge(strategy CodeStrategyType, value string, otpDigits int) (string, [32]byte, error) {
	var emptyHash [32]byte

	switch strategy {
	case CodeToken:
		codeID, secret, err := internal.DecodeCode(value)
		if err != nil {
			return "", emptyHash, err
		}
		return codeID, internal.HashCodeSecret(secret), nil

	case CodeUUID:
		parsed, err := uuid.Parse(value)
		if err != nil {
			return "", emptyHash, err
		}
		codeID := parsed.String()
		return codeID, internal.HashBytes([]byte(codeID)), nil

	case CodeOTP:
		parts := strings.SplitN(value, ".", 2)
		if len(parts) != 2 {
			return "", emptyHash, errors.New("invalid otp code format")
		}

		codeID := parts[0]
		otp := parts[1]
		if _, err := internal.ParseCodeID(codeID); err != nil {
			return "", emptyHash, err
		}
		if len(otp) != otpDigits {
			return "", emptyHash, errors.New("invalid otp length")
		}
		if !isNumericString(otp) {
			return "", emptyHash, errors.New("invalid otp format")
		}
		return codeID, internal.HashBytes([]byte(otp)), nil

	default:
		return "", emptyHash, errors.New("unsupported code strategy")
	}
}

func isNumericString(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
