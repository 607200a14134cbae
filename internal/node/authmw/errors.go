package authmw

import "errors"

// ErrMissingAuthHeader is returned when the request carries no Authorization header.
var ErrMissingAuthHeader = errors.New("authmw: missing authorization header")

// ErrMalformedAuthHeader is returned when the header is not "Bearer <token>".
var ErrMalformedAuthHeader = errors.New("authmw: malformed authorization header")

// ErrInvalidToken is returned when the token fails signature or expiry validation.
var ErrInvalidToken = errors.New("authmw: invalid or expired token")
