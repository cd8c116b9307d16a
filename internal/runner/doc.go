// Package runner executes jobs on an in-process worker pool.
//
// Task state lives only in memory. After a daemon restart every previously
// known task reads back as unknown, which is what lets the lifecycle manager
// detect work that died with the process.
package runner
