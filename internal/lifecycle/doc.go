// Package lifecycle coordinates job records with the task runner. It owns
// submission and deduplication, status reconciliation, cancellation, startup
// recovery, and periodic maintenance of the job store.
package lifecycle
