package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sentinel/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestValidator(t *testing.T) (Validator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	validator := NewValidator(config.Auth{
		TokenPath:      path,
		Secret:         testSecret,
		RequestTimeout: 5,
	})
	return validator, path
}

func writeToken(t *testing.T, path, token string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}
}

func TestValidateMissingFileIsNotAuthenticated(t *testing.T) {
	validator, _ := newTestValidator(t)
	result := validator.Validate(context.Background())
	if result.State != StateNotAuthenticated {
		t.Fatalf("state = %s, want %s", result.State, StateNotAuthenticated)
	}
}

func TestValidateEmptyFileIsNotAuthenticated(t *testing.T) {
	validator, path := newTestValidator(t)
	writeToken(t, path, "   ")
	result := validator.Validate(context.Background())
	if result.State != StateNotAuthenticated {
		t.Fatalf("state = %s, want %s", result.State, StateNotAuthenticated)
	}
}

func TestValidateGoodToken(t *testing.T) {
	validator, path := newTestValidator(t)
	writeToken(t, path, signToken(t, testSecret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-42",
	}))

	result := validator.Validate(context.Background())
	if result.State != StateValid {
		t.Fatalf("state = %s, want %s", result.State, StateValid)
	}
	if result.PrincipalID != "user-42" {
		t.Errorf("principal = %q, want user-42", result.PrincipalID)
	}
	if result.Token == "" {
		t.Error("token not returned")
	}
}

func TestValidateFallsBackToSubjectClaim(t *testing.T) {
	validator, path := newTestValidator(t)
	writeToken(t, path, signToken(t, testSecret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subject-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}))

	result := validator.Validate(context.Background())
	if result.State != StateValid || result.PrincipalID != "subject-7" {
		t.Fatalf("got %s/%q, want valid/subject-7", result.State, result.PrincipalID)
	}
}

func TestValidateWrongSecretIsInvalidToken(t *testing.T) {
	validator, path := newTestValidator(t)
	writeToken(t, path, signToken(t, "other-secret", claims{UserID: "user-42"}))

	result := validator.Validate(context.Background())
	if result.State != StateInvalidToken {
		t.Fatalf("state = %s, want %s", result.State, StateInvalidToken)
	}
}

func TestValidateExpiredTokenIsInvalidToken(t *testing.T) {
	validator, path := newTestValidator(t)
	writeToken(t, path, signToken(t, testSecret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		UserID: "user-42",
	}))

	result := validator.Validate(context.Background())
	if result.State != StateInvalidToken {
		t.Fatalf("state = %s, want %s", result.State, StateInvalidToken)
	}
}

func TestValidateMissingPrincipalIsInconsistent(t *testing.T) {
	validator, path := newTestValidator(t)
	writeToken(t, path, signToken(t, testSecret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}))

	result := validator.Validate(context.Background())
	if result.State != StateInconsistent {
		t.Fatalf("state = %s, want %s", result.State, StateInconsistent)
	}
}

func TestValidateGarbageIsInvalidToken(t *testing.T) {
	validator, path := newTestValidator(t)
	writeToken(t, path, "not-a-jwt")

	result := validator.Validate(context.Background())
	if result.State != StateInvalidToken {
		t.Fatalf("state = %s, want %s", result.State, StateInvalidToken)
	}
}
