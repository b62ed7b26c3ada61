package auth

import "errors"

var (
	// ErrUnauthenticated means no credential validated.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrInvalidToken indicates the bearer token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUserNotFound and ErrUserInactive are distinct internally but must
	// map to an identical external response to prevent user enumeration.
	ErrUserNotFound = errors.New("auth: user not found")
	ErrUserInactive = errors.New("auth: user inactive")
	// ErrAccessDenied covers failed authorization rules and cross-tenant
	// attempts alike; the external body never says which.
	ErrAccessDenied = errors.New("auth: access denied")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrInternal      = errors.New("auth: internal error")
)

// IsDenied reports whether err should be collapsed into the shared 403
// response. UserNotFound and UserInactive belong here so a probing client
// cannot distinguish them from an ordinary denial by status code.
func IsDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrUserInactive)
}
