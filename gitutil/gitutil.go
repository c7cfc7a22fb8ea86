// Package gitutil reads VCS metadata for request records and sanitizes branch
// names into filesystem-safe directory components.
package gitutil

import (
	"bytes"
	"os/exec"
	"regexp"
	"strings"
)

// Snapshot is the VCS state attached to a request record.
type Snapshot struct {
	Branch string
	Commit string
	Dirty  bool
}

// Read collects branch, commit, and dirty state from the repo at dir.
// Returns nil when dir is not inside a git repository.
func Read(dir string) *Snapshot {
	branch, err := git(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil
	}
	commit, err := git(dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return nil
	}
	status, err := git(dir, "status", "--porcelain")
	if err != nil {
		return nil
	}
	return &Snapshot{Branch: branch, Commit: commit, Dirty: status != ""}
}

// TrackedFiles lists the files git tracks at dir, for exact-mirror pushes.
func TrackedFiles(dir string) ([]string, error) {
	out, err := git(dir, "ls-files")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

var (
	unsafeRe   = regexp.MustCompile(`[^a-z0-9._-]+`)
	collapseRe = regexp.MustCompile(`-{2,}`)
)

// SanitizeBranch maps a branch name to a safe directory component:
// lowercase, unsafe runs collapsed to single dashes, trimmed, capped at 64
// bytes. Idempotent: sanitizing twice yields the same string. Empty input
// (detached HEAD rendered as "") becomes "detached".
func SanitizeBranch(branch string) string {
	s := strings.ToLower(branch)
	s = unsafeRe.ReplaceAllString(s, "-")
	s = collapseRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	if len(s) > 64 {
		s = s[:64]
		s = strings.Trim(s, "-.")
	}
	if s == "" {
		return "detached"
	}
	return s
}
