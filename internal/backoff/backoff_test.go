package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowthAndCap(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 500 * time.Millisecond}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	for i, w := range want {
		if got := Delay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
}

func TestDelayDegenerateConfig(t *testing.T) {
	if got := Delay(Config{}, 3, nil); got != 0 {
		t.Fatalf("zero initial delay must stay zero, got %v", got)
	}
	cfg := Config{InitialDelay: time.Second, Multiplier: 0.1}
	if got := Delay(cfg, 4, nil); got != time.Second {
		t.Fatalf("multiplier below 1 must clamp to 1, got %v", got)
	}
}

func TestDelayJitterWithoutRNGHalves(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Multiplier: 2, Jitter: true}
	if got := Delay(cfg, 2, nil); got != time.Second {
		t.Fatalf("expected deterministic half jitter, got %v", got)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, Config{InitialDelay: time.Hour}, 1, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := Wait(context.Background(), Config{InitialDelay: time.Millisecond}, 1, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
