package testsupport

import (
	"context"
	"testing"

	"celluloid/internal/config"
	"celluloid/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// MustCreateJob inserts a job for tests using the provided store.
func MustCreateJob(t testing.TB, st *store.Store, job *store.Job) *store.Job {
	t.Helper()

	if err := st.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
