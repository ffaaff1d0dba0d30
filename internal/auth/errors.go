package auth

import "errors"

var (
	// ErrTokenInvalid is returned for malformed, expired or mis-signed tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidRole is returned when issuing a token for an unknown role.
	ErrInvalidRole = errors.New("auth: invalid role")

	// ErrNoSecret is returned when issuing a token without a signing secret.
	ErrNoSecret = errors.New("auth: signing secret not configured")

	// ErrForbidden indicates the role lacks a permission.
	ErrForbidden = errors.New("auth: insufficient permissions")
)
