package janitor

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePurger struct {
	calls   int
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakePurger) PurgeArchivedTranscripts(ctx context.Context, olderThan time.Time) (int64, error) {
	f.calls++
	f.cutoff = olderThan
	return f.deleted, f.err
}

func TestSweepCutoff(t *testing.T) {
	purger := &fakePurger{deleted: 4}
	j := New(purger, Config{RetentionDays: 30}, nil)

	before := time.Now().UTC().AddDate(0, 0, -30)
	deleted, err := j.Sweep(context.Background())
	after := time.Now().UTC().AddDate(0, 0, -30)

	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}
	if purger.cutoff.Before(before) || purger.cutoff.After(after) {
		t.Errorf("cutoff %v not ~30 days ago", purger.cutoff)
	}
}

func TestSweepPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	j := New(&fakePurger{err: boom}, Config{RetentionDays: 7}, nil)

	if _, err := j.Sweep(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want purge error", err)
	}
}

func TestStartDisabledWhenRetentionZero(t *testing.T) {
	j := New(&fakePurger{}, Config{}, nil)
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if j.cron != nil {
		t.Error("cron loop started with retention disabled")
	}
	// Stop on a never-started janitor is a no-op.
	j.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New(&fakePurger{}, Config{RetentionDays: 7, Schedule: "not a schedule"}, nil)
	if err := j.Start(context.Background()); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestStartAndStop(t *testing.T) {
	j := New(&fakePurger{}, Config{RetentionDays: 7, Schedule: "@daily"}, nil)
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()
}
