// Package store persists job records in SQLite.
//
// Records carry an expiry timestamp. Reads treat expired rows as absent and a
// periodic sweep deletes them, so a record that outlives its TTL behaves the
// same as one that never existed.
package store
