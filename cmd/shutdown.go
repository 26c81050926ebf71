package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// exitInterrupted is the conventional status for a process killed by SIGINT.
const exitInterrupted = 130

// osExit is swapped by tests.
var osExit = os.Exit

// exitOnSecondSignal waits for ctx to end and then exits on the next signal
// delivered to sigs. It subscribes only after ctx ends so the first signal,
// which cancelled ctx, is not counted twice.
func exitOnSecondSignal(ctx context.Context, sigs chan os.Signal, exit func(int)) {
	<-ctx.Done()
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	if _, ok := <-sigs; ok {
		fmt.Fprintln(os.Stderr, "second interrupt, exiting without waiting for in-flight items")
		exit(exitInterrupted)
	}
}

// watchShutdown exits through exit when ctx is cancelled and the returned
// stop func has not been called within grace.
func watchShutdown(ctx context.Context, grace time.Duration, logger *zap.Logger, exit func(int)) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			logger.Error("shutdown grace period elapsed, exiting with items in flight", zap.Duration("grace", grace))
			exit(exitInterrupted)
		}
	}()
	return func() { close(done) }
}
