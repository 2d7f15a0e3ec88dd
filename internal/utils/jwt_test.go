package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-testing"

func init() {
	SetJWTSecret(testSecret)
}

func TestParseToken_RoundTrip(t *testing.T) {
	tests := []struct {
		userID   uint
		username string
		role     string
	}{
		{42, "prof", "instructor"},
		{7, "ana", "project_manager"},
		{9, "dr_lim", "adviser"},
	}
	for _, tt := range tests {
		token, err := GenerateToken(tt.userID, tt.username, tt.role, 24)
		if err != nil {
			t.Fatalf("GenerateToken(%s) error = %v", tt.username, err)
		}
		claims, err := ParseToken(token)
		if err != nil {
			t.Fatalf("ParseToken(%s) error = %v", tt.username, err)
		}
		if claims.UserID != tt.userID || claims.Username != tt.username || claims.Role != tt.role {
			t.Errorf("claims = %+v", claims)
		}
		if claims.Issuer != "capstrack" {
			t.Errorf("issuer = %q", claims.Issuer)
		}
	}
}

func TestGenerateToken_Expiration(t *testing.T) {
	token, _ := GenerateToken(1, "ana", "member", 1)
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatal(err)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(time.Hour))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiration time is off by more than 1 minute: %v", diff)
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, _ := GenerateToken(1, "ana", "member", -1)
	if _, err := ParseToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	foreignIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 1, Role: "instructor",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))

	otherMethod, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: 1, Role: "instructor",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "capstrack", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"empty":          "",
		"not a jwt":      "not.a.token",
		"bad signature":  "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
		"foreign issuer": foreignIssuer,
		"HS512":          otherMethod,
	}
	for name, token := range tests {
		if _, err := ParseToken(token); err == nil {
			t.Errorf("%s: ParseToken should fail", name)
		}
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	SetJWTSecret("original-secret")
	token, _ := GenerateToken(1, "prof", "instructor", 24)
	SetJWTSecret("rotated-secret")
	_, err := ParseToken(token)
	SetJWTSecret(testSecret)

	if err == nil {
		t.Error("a token signed before rotation should not verify")
	}
}
