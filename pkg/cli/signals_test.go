package cli

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSetupSignalHandler(t *testing.T) {
	ctx := SetupSignalHandler()

	select {
	case <-ctx.Done():
		t.Error("Context should not be cancelled initially")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestHandleSignals(t *testing.T) {
	sigChan := make(chan os.Signal, 2)
	forced := make(chan struct{})
	ctx := handleSignals(sigChan, func() { close(forced) })

	sigChan <- syscall.SIGTERM
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after first signal")
	}

	select {
	case <-forced:
		t.Fatal("forced exit after a single signal")
	case <-time.After(10 * time.Millisecond):
	}

	sigChan <- os.Interrupt
	select {
	case <-forced:
	case <-time.After(time.Second):
		t.Fatal("second signal did not force exit")
	}
}
