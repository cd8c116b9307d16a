package store

import "errors"

// ErrNotFound indicates the requested job does not exist or has expired.
var ErrNotFound = errors.New("job not found")
