// Package identity validates the locally cached auth token before uploads.
//
// The daemon never performs interactive login; a companion tool writes a
// signed token to disk and this package classifies its state so the upload
// pipeline can decide between waiting, retrying, and proceeding.
package identity

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sentinel/internal/config"
	"sentinel/internal/services"
)

// State classifies the outcome of a token check.
type State string

const (
	// StateValid means the token parsed, verified, and carries a principal.
	StateValid State = "valid"
	// StateNotAuthenticated means no token is present at all.
	StateNotAuthenticated State = "not_authenticated"
	// StateInvalidToken means a token exists but failed verification, it may
	// be mid-refresh and worth re-checking shortly.
	StateInvalidToken State = "invalid_token"
	// StateInconsistent means the token verified but its claims are unusable.
	StateInconsistent State = "inconsistent"
	// StateFailed means the check itself could not run.
	StateFailed State = "failed"
)

// Result is the outcome of a single validation pass.
type Result struct {
	State       State
	PrincipalID string
	Token       string
}

// Validator checks the on-disk token. Implementations must be safe for
// concurrent use.
type Validator interface {
	Validate(ctx context.Context) Result
}

type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

type tokenFileValidator struct {
	path    string
	secret  []byte
	timeout time.Duration
}

// NewValidator builds a validator over the configured token file and signing
// secret.
func NewValidator(cfg config.Auth) Validator {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &tokenFileValidator{
		path:    cfg.TokenPath,
		secret:  []byte(cfg.Secret),
		timeout: timeout,
	}
}

func (v *tokenFileValidator) Validate(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	type outcome struct {
		result Result
	}
	done := make(chan outcome, 1)
	go func() {
		done <- outcome{result: v.check()}
	}()

	select {
	case <-ctx.Done():
		return Result{State: StateFailed}
	case out := <-done:
		return out.result
	}
}

func (v *tokenFileValidator) check() Result {
	raw, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{State: StateNotAuthenticated}
	}
	if err != nil {
		return Result{State: StateFailed}
	}

	tokenString := strings.TrimSpace(string(raw))
	if tokenString == "" {
		return Result{State: StateNotAuthenticated}
	}

	parsed := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Result{State: StateInvalidToken, Token: tokenString}
	}

	principal := parsed.UserID
	if principal == "" {
		principal = parsed.Subject
	}
	if principal == "" {
		return Result{State: StateInconsistent, Token: tokenString}
	}
	return Result{State: StateValid, PrincipalID: principal, Token: tokenString}
}

// ErrForState maps a non-valid result to the matching service error marker.
func ErrForState(state State) error {
	switch state {
	case StateNotAuthenticated:
		return services.ErrNotAuthenticated
	case StateInvalidToken, StateInconsistent:
		return services.ErrInvalidToken
	default:
		return services.ErrTransient
	}
}
