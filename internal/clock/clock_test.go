package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReal_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
}

func TestReal_SleepZero(t *testing.T) {
	if err := New().Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error = %v", err)
	}
}

func TestFake_SleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if err := f.Sleep(context.Background(), time.Second); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if err := f.Sleep(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	f.Advance(time.Minute)

	if got, want := f.Now(), start.Add(time.Minute+3*time.Second); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
	sleeps := f.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Sleeps() = %v, want [1s 2s]", sleeps)
	}
}
