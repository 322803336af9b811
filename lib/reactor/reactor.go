// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reactor runs closures one at a time on a single goroutine.
//
// State that is only ever touched from inside [Loop.Do] needs no
// locking: the loop goroutine is the one logical thread that owns it.
// Callers do their blocking work (file I/O, network writes) on their
// own goroutine and submit only the state mutation.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("reactor: loop closed")

type job struct {
	fn   func()
	done chan any // receives the recovered panic value, or nil
}

// Loop is a single goroutine executing submitted closures in order.
type Loop struct {
	jobs    chan job
	stop    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
}

// New starts a loop. A nil logger discards.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	loop := &Loop{
		jobs:    make(chan job),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go loop.run()
	return loop
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.stop:
			return
		case j := <-l.jobs:
			j.done <- l.execute(j.fn)
		}
	}
}

// execute runs fn and returns whatever it panicked with.
func (l *Loop) execute(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}

// Do runs fn on the loop goroutine and waits for it to return. If ctx
// is done before fn starts, fn never runs and ctx's error is returned.
// Once fn has started, Do waits for it regardless of ctx. A panic in
// fn is logged and returned as an error; the loop keeps running.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job{fn: fn, done: make(chan any, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrClosed
	case l.jobs <- j:
	}
	if recovered := <-j.done; recovered != nil {
		l.logger.Error("panic on reactor loop", "panic", recovered)
		return fmt.Errorf("reactor: panic: %v", recovered)
	}
	return nil
}

// Close stops the loop after the closure in progress, if any, returns.
// Subsequent Do calls return ErrClosed. Close must be called at most
// once.
func (l *Loop) Close() {
	close(l.stop)
	<-l.stopped
}
