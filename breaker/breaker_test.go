package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/metrics"
)

var errNotFound = errors.New("not found")

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := NewBreaker(Settings{
		Name:        "test",
		Config:      config.CircuitBreakerConfig{Enabled: true, Timeout: time.Minute},
		MinRequests: 3,
	}, metrics.NewMetrics("test"))

	for range 3 {
		_ = Do(b, func() error { return errors.New("boom") })
	}

	called := false
	err := Do(b, func() error { called = true; return nil })
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
	if called {
		t.Error("function should not run while open")
	}
}

func TestBreakerIgnoresSuccessfulErrors(t *testing.T) {
	b := NewBreaker(Settings{
		Name:         "notfound",
		Config:       config.CircuitBreakerConfig{Enabled: true, Timeout: time.Minute},
		MinRequests:  2,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errNotFound) },
	}, nil)

	for range 5 {
		if err := Do(b, func() error { return errNotFound }); !errors.Is(err, errNotFound) {
			t.Fatalf("expected errNotFound, got %v", err)
		}
	}
	v, err := ExecuteTyped(b, func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("expected 7, nil; got %d, %v", v, err)
	}
}

func TestDisabledBreakerPassesThrough(t *testing.T) {
	b := NewBreaker(Settings{Name: "off"}, nil)
	for range 10 {
		_ = Do(b, func() error { return errors.New("boom") })
	}
	if err := Do(b, func() error { return nil }); err != nil {
		t.Errorf("expected pass-through, got %v", err)
	}
}
