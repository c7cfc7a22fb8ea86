package rverr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindConnection, "remote.exec", "connection refused")
	if KindOf(err) != KindConnection {
		t.Errorf("KindOf = %v, want connection", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("foreign errors must map to unknown")
	}
	if KindOf(nil) != KindUnknown {
		t.Error("nil maps to unknown")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(KindNotInitialized, "store.config", "no config")
	outer := fmt.Errorf("loading session: %w", inner)
	if !IsKind(outer, KindNotInitialized) {
		t.Error("kind must survive fmt.Errorf wrapping")
	}
}

func TestExitCode(t *testing.T) {
	re := RemoteExit("remote.exec", 137, "oom killed")
	if got := ExitCode(re, 1); got != 137 {
		t.Errorf("ExitCode = %d, want 137", got)
	}
	if got := ExitCode(New(KindParse, "p", "x"), 1); got != 1 {
		t.Errorf("non-remote-exit errors use the default, got %d", got)
	}
	wrapped := fmt.Errorf("running: %w", re)
	if got := ExitCode(wrapped, 1); got != 137 {
		t.Errorf("exit code must survive wrapping, got %d", got)
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindParse, "slurm.parseJobs", errors.New("bad row"), "no parseable rows")
	want := "slurm.parseJobs: no parseable rows: bad row"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
