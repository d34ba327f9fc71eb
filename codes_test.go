package usercore

import (
	"strings"
	"testing"
)

func TestCodeChallengeTokenRoundtrip(t *testing.T) {
	codeID, value, secretHash, err := generateCodeChallenge(CodeToken, 0)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if codeID == value {
		t.Fatal("token strategy must not expose the code ID as the value")
	}

	parsedID, parsedHash, err := parseCodeChallenge(CodeToken, value, 0)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsedID != codeID {
		t.Fatalf("id mismatch: %s vs %s", parsedID, codeID)
	}
	if parsedHash != secretHash {
		t.Fatal("hash mismatch")
	}
}

func TestCodeChallengeUUIDRoundtrip(t *testing.T) {
	codeID, value, secretHash, err := generateCodeChallenge(CodeUUID, 0)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if codeID != value {
		t.Fatal("uuid strategy uses the uuid as both id and value")
	}

	parsedID, parsedHash, err := parseCodeChallenge(CodeUUID, value, 0)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsedID != codeID || parsedHash != secretHash {
		t.Fatal("roundtrip mismatch")
	}
}

func TestCodeChallengeOTPRoundtrip(t *testing.T) {
	codeID, value, secretHash, err := generateCodeChallenge(CodeOTP, 6)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	parts := strings.SplitN(value, ".", 2)
	if len(parts) != 2 {
		t.Fatalf("expected id.otp format, got %q", value)
	}
	if len(parts[1]) != 6 || !isNumericString(parts[1]) {
		t.Fatalf("expected 6-digit otp, got %q", parts[1])
	}

	parsedID, parsedHash, err := parseCodeChallenge(CodeOTP, value, 6)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsedID != codeID || parsedHash != secretHash {
		t.Fatal("roundtrip mismatch")
	}
}

func TestParseCodeChallengeRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		strategy CodeStrategyType
		value    string
	}{
		{CodeToken, ""},
		{CodeToken, "not-base64!"},
		{CodeToken, "QUJD"},
		{CodeUUID, "not-a-uuid"},
		{CodeOTP, "missing-separator"},
		{CodeOTP, "bad_id.123456"},
		{CodeOTP, "QUJD.12345"},
		{CodeOTP, "QUJD.12345a"},
	}

	for _, tc := range cases {
		if _, _, err := parseCodeChallenge(tc.strategy, tc.value, 6); err == nil {
			t.Errorf("strategy %v value %q: expected parse error", tc.strategy, tc.value)
		}
	}
}

func TestGenerateCodeChallengeUnsupportedStrategy(t *testing.T) {
	if _, _, _, err := generateCodeChallenge(CodeStrategyType(42), 0); err == nil {
		t.Fatal("expected error for unsupported strategy")
	}
	if _, _, err := parseCodeChallenge(CodeStrategyType(42), "x", 0); err == nil {
		t.Fatal("expected error for unsupported strategy")
	}
}
