// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/fird/internal/reliability"
)

func waitForRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop in time")
		return nil
	}
}

func TestShutdownRunsHooksLIFOAfterDrain(t *testing.T) {
	token := reliability.NewShutdownToken(time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	drainStarted := false
	m := New(Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		OnDrainStart:    func() { drainStarted = true },
	}, token, http.NewServeMux(), nil)
	m.RegisterShutdownHook("monitor", record("monitor"))
	m.RegisterShutdownHook("fir-store", record("fir-store"))
	m.RegisterShutdownHook("sessions", record("sessions"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := waitForRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !drainStarted {
		t.Error("OnDrainStart was not invoked")
	}
	if !token.IsShuttingDown() {
		t.Error("token was not flipped")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"sessions", "fir-store", "monitor"}
	if len(order) != len(want) {
		t.Fatalf("hooks ran %d times, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook order %v, want %v", order, want)
		}
	}
}

func TestHooksRunEvenWhenDrainTimesOut(t *testing.T) {
	token := reliability.NewShutdownToken(50 * time.Millisecond)
	if !token.Enter() {
		t.Fatal("enter before drain must succeed")
	}
	// Never Exit: the drain has to give up.

	flushed := false
	m := New(Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	}, token, http.NewServeMux(), nil)
	m.RegisterShutdownHook("flush", func(context.Context) error {
		flushed = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := waitForRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !flushed {
		t.Error("flush hook must run despite the drain timeout")
	}
}

func TestHookFailuresAreReported(t *testing.T) {
	token := reliability.NewShutdownToken(time.Second)
	m := New(Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	}, token, http.NewServeMux(), nil)
	m.RegisterShutdownHook("mysql", func(context.Context) error {
		return errors.New("connection already closed")
	})
	m.RegisterShutdownHook("sessions", func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	err := waitForRun(t, done)
	if err == nil {
		t.Fatal("expected the mysql hook failure to surface")
	}
	if !strings.Contains(err.Error(), "mysql") {
		t.Errorf("error %q does not name the failing hook", err)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	token := reliability.NewShutdownToken(time.Second)
	m := New(Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	}, token, http.NewServeMux(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := m.Run(context.Background()); err == nil {
		t.Error("second Run must fail while the first is active")
	}

	cancel()
	if err := waitForRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestInternalListenerServes(t *testing.T) {
	token := reliability.NewShutdownToken(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	m := New(Config{
		ListenAddr:      "127.0.0.1:0",
		MetricsAddr:     "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	}, token, http.NewServeMux(), mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := waitForRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}
