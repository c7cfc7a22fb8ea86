package remote

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/charliemeyer2000/rv/rverr"
)

func TestJoinBatch(t *testing.T) {
	joined := joinBatch([]string{"squeue -h", "sshare -U -h"})
	// the trailing guard keeps a failing last command from turning the
	// whole round-trip into a transport error
	if !strings.HasSuffix(joined, " ; true") {
		t.Errorf("batch must end with a success guard, got %q", joined)
	}
	if got := strings.Count(joined, BatchDelim); got != 1 {
		t.Errorf("delimiter echoes = %d, want 1", got)
	}

	single := joinBatch([]string{"sshare -U -h"})
	if !strings.HasSuffix(single, " ; true") {
		t.Errorf("single-command batch keeps the guard, got %q", single)
	}
	if strings.Contains(single, BatchDelim) {
		t.Errorf("single-command batch has no delimiter, got %q", single)
	}
}

func TestSplitBatch(t *testing.T) {
	t.Run("outputs come back in input order", func(t *testing.T) {
		out := fmt.Sprintf("one\n%s\ntwo\nlines\n%s\n\n", BatchDelim, BatchDelim)
		parts, err := SplitBatch(out, 3)
		if err != nil {
			t.Fatalf("SplitBatch: %v", err)
		}
		want := []string{"one", "two\nlines", ""}
		for i := range want {
			if parts[i] != want[i] {
				t.Errorf("part %d = %q, want %q", i, parts[i], want[i])
			}
		}
	})

	t.Run("count mismatch is a parse error", func(t *testing.T) {
		_, err := SplitBatch("only one output", 2)
		if err == nil {
			t.Fatal("expected error")
		}
		if !rverr.IsKind(err, rverr.KindParse) {
			t.Errorf("expected parse kind, got %v", rverr.KindOf(err))
		}
	})

	t.Run("interior newlines survive, edges are trimmed", func(t *testing.T) {
		parts, err := SplitBatch("\na\nb\n", 1)
		if err != nil {
			t.Fatalf("SplitBatch: %v", err)
		}
		if parts[0] != "a\nb" {
			t.Errorf("got %q", parts[0])
		}
	})
}

func TestClassify(t *testing.T) {
	base := errors.New("exit status 255")
	tests := []struct {
		name   string
		stderr string
		kind   rverr.Kind
	}{
		{"auth failure", "user@host: Permission denied (publickey)", rverr.KindConnection},
		{"unknown host", "ssh: Could not resolve hostname cluster: Name or service not known", rverr.KindConnection},
		{"refused", "connect to host cluster port 22: Connection refused", rverr.KindConnection},
		{"timeout", "connect to host cluster port 22: Operation timed out", rverr.KindConnection},
		{"no match falls back to connection", "something else entirely", rverr.KindConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("remote.exec", base, tt.stderr)
			if !rverr.IsKind(err, tt.kind) {
				t.Errorf("classify(%q) kind = %v, want %v", tt.stderr, rverr.KindOf(err), tt.kind)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("  a\nb\nc"); got != "a" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine = %q", got)
	}
}
