// Package daemon assembles the long-running celluloid service: the job store,
// the task pool, the lifecycle manager, and the HTTP API. It enforces
// single-instance execution with a file lock.
package daemon
