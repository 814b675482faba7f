// Package directory is the SQL-backed user directory behind the sign-on layer.
//
// # Overview
//
// The directory owns principals (users), their federated metadata, site
// memberships, per-site and network-wide options, and pending invitations.
// The sign-on layer only reads principals, creates new rows and refreshes
// metadata; it never deletes principals.
//
// # Consistency
//
// users.login carries a UNIQUE constraint. Two concurrent first-time logins
// for the same identity therefore produce one row and one failed insert,
// never two principals. Metadata writes are upserts (last writer wins).
//
// # Usage Example
//
//	db, err := sql.Open("postgres", dsn)
//	if err := directory.Migrate(ctx, db); err != nil { ... }
//	store := directory.NewStore(db)
//
//	p, err := store.FindPrincipalByLogin(ctx, "jdoe1")
//	if errors.Is(err, directory.ErrNotFound) { ... }
//
// # Options
//
// Options are scoped by site ID; NetworkScope (0) holds network-wide values
// of a multisite install, for example the "registration" switch.
package directory
