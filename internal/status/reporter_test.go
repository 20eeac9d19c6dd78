package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"notes-platform/internal/job"
)

func seed(t *testing.T, store job.Store, userID string) *job.Job {
	t.Helper()
	now := time.Now()
	src := &job.Source{ID: job.NewSourceID(), Kind: job.KindYouTube, Locator: "https://youtu.be/abc", UserID: userID, CreatedAt: now}
	j := job.NewQueued(src, now)
	if err := store.CreateWithSource(context.Background(), src, j); err != nil {
		t.Fatal(err)
	}
	return j
}

func TestReporter_Get(t *testing.T) {
	store := job.NewMemoryStore()
	r := NewReporter(store)
	j := seed(t, store, "alice")
	if _, err := store.Start(context.Background(), j.ID, "resolving video"); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateProgress(context.Background(), j.ID, 40, "reading metadata"); err != nil {
		t.Fatal(err)
	}

	snap, err := r.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != job.StatusProcessing || snap.Progress != 40 || snap.CurrentStep != "reading metadata" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.SourceID != j.SourceID || snap.Kind != job.KindYouTube {
		t.Errorf("snapshot = %+v", snap)
	}

	if _, err := r.Get(context.Background(), "job-nope"); !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("unknown job: got %v", err)
	}
}

func TestReporter_GetForUser(t *testing.T) {
	store := job.NewMemoryStore()
	r := NewReporter(store)
	j := seed(t, store, "alice")

	if _, err := r.GetForUser(context.Background(), j.ID, "alice"); err != nil {
		t.Fatalf("owner: %v", err)
	}
	if _, err := r.GetForUser(context.Background(), j.ID, "bob"); !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("other user: got %v, want ErrJobNotFound", err)
	}
}
