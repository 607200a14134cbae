package authmw

import (
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	secret := "test-secret-key-for-jwt-signing"

	token, err := GenerateToken(secret, "dashboard", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := parseToken(token, secret)
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}
	if claims.Caller != "dashboard" {
		t.Errorf("Caller = %q, want %q", claims.Caller, "dashboard")
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("correct-secret", "dashboard", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := parseToken(token, "wrong-secret"); err == nil {
		t.Error("parseToken() should fail with wrong secret")
	}
}

func TestParseToken_Malformed(t *testing.T) {
	if _, err := parseToken("not-a-valid-jwt", "secret"); err == nil {
		t.Error("parseToken() should fail with invalid token string")
	}
	if _, err := parseToken("", "secret"); err == nil {
		t.Error("parseToken() should fail with empty token")
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("secret", "dashboard", 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := parseToken(token, "secret")
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}

	expected := time.Now().Add(defaultTokenTTL)
	diff := claims.ExpiresAt.Time.Sub(expected)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~%v, got expiry diff of %v", defaultTokenTTL, diff)
	}
}
