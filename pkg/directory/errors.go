package directory

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyMember is returned when a principal already belongs to a site
	ErrAlreadyMember = errors.New("principal is already a member of this site")
	// ErrLoginExists is returned when the login is taken
	ErrLoginExists = errors.New("login already exists")
	// ErrInvalidPrincipal is returned when required principal fields are missing
	ErrInvalidPrincipal = errors.New("invalid principal")
	// ErrInvalidCredentials is returned when a local password check fails
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// isUniqueViolation reports whether err is a unique constraint failure from
// PostgreSQL or SQLite
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return isSQLiteUniqueViolation(err)
}
