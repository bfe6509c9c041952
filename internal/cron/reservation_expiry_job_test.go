package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
)

type fakeExpirer struct {
	expired int
	err     error
	calls   int
}

func (f *fakeExpirer) ExpireStale(context.Context) (int, error) {
	f.calls++
	return f.expired, f.err
}

func TestReservationExpiryJobRunsSweep(t *testing.T) {
	expirer := &fakeExpirer{expired: 3}
	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{Logger: logger.Nop(), Expirer: expirer})
	if err != nil {
		t.Fatalf("NewReservationExpiryJob: %v", err)
	}
	if job.Name() != ReservationExpiryJobName {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if expirer.calls != 1 {
		t.Fatalf("expected one sweep, got %d", expirer.calls)
	}
}

func TestReservationExpiryJobReportsFailure(t *testing.T) {
	boom := errors.New("db down")
	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{Logger: logger.Nop(), Expirer: &fakeExpirer{err: boom}})
	if err != nil {
		t.Fatalf("NewReservationExpiryJob: %v", err)
	}
	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewReservationExpiryJobValidates(t *testing.T) {
	if _, err := NewReservationExpiryJob(ReservationExpiryJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without expirer")
	}
}
