package auth

import "errors"

// ErrNoToken is returned by a TokenSource when no bearer credential is
// currently available.
var ErrNoToken = errors.New("auth: no token available")

//go:generate mockgen -source=auth.go -destination=mock/auth.go -package=mock

// TokenSource yields the current bearer token for the messaging backend.
type TokenSource interface {
	// Token returns the current bearer token, or ErrNoToken.
	Token() (string, error)
}

// StaticTokenSource serves a fixed token, mainly for tests and the demo tool.
type StaticTokenSource string

func (s StaticTokenSource) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
