//go:build !cgo

package directory

// go-sqlite3 needs cgo, so without it no error can come from SQLite
func isSQLiteUniqueViolation(error) bool {
	return false
}
