// Package remote runs commands and moves files over a persistent multiplexed
// SSH connection to the cluster login node.
//
// The transport is the system ssh/rsync binaries: a ControlMaster socket is
// opened on first use and every subsequent call rides the same connection, so
// per-call latency is one round-trip rather than one handshake.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charliemeyer2000/rv/rverr"
)

// BatchDelim separates command outputs inside a single ExecBatch round-trip.
// It must never occur in real command output; the underscores and prefix keep
// it out of any plausible log line.
const BatchDelim = "___RV_DELIM___"

// DefaultTimeout bounds a single remote command unless the caller overrides it.
const DefaultTimeout = 30 * time.Second

// StreamOptions tune PullStream/PushStream rsync transfers.
type StreamOptions struct {
	Delete   bool     // remove extraneous files on the receiving side
	DryRun   bool     // report what would transfer without transferring
	Excludes []string // rsync --exclude patterns
	Filters  []string // rsync --filter rules, applied in order
}

// Executor is the remote-execution surface the rest of the tool consumes.
// Implementations must preserve input order in ExecBatch results.
type Executor interface {
	Exec(ctx context.Context, command string) (string, error)
	ExecTimeout(ctx context.Context, command string, timeout time.Duration) (string, error)
	ExecBatch(ctx context.Context, commands []string) ([]string, error)
	WriteFile(ctx context.Context, remotePath string, data []byte) error
	PullStream(ctx context.Context, remotePath, localPath string, opts StreamOptions) error
	PushStream(ctx context.Context, localPath, remotePath string, opts StreamOptions) error
	PushStreamWithList(ctx context.Context, localPath, remotePath string, files []string, opts StreamOptions) error
	ExecInteractive(argv []string) (int, error)
}

// SSHExecutor drives the system ssh binary against a single host alias. The
// control socket lives under socketDir and persists across rv invocations.
type SSHExecutor struct {
	Host      string // ssh destination (alias from ~/.ssh/config or user@host)
	SocketDir string // directory for the ControlMaster socket
}

// NewSSHExecutor returns an executor multiplexing over one control connection.
func NewSSHExecutor(host, socketDir string) *SSHExecutor {
	return &SSHExecutor{Host: host, SocketDir: socketDir}
}

func (e *SSHExecutor) controlArgs() []string {
	sock := filepath.Join(e.SocketDir, "cm-%C")
	return []string{
		"-o", "ControlMaster=auto",
		"-o", "ControlPath=" + sock,
		"-o", "ControlPersist=10m",
		"-o", "BatchMode=yes",
	}
}

// Exec runs command on the remote host and returns its stdout.
func (e *SSHExecutor) Exec(ctx context.Context, command string) (string, error) {
	return e.ExecTimeout(ctx, command, DefaultTimeout)
}

// ExecTimeout runs command with an explicit wall-clock bound. On expiry the
// remote process is killed via the transport and a timeout error surfaces.
func (e *SSHExecutor) ExecTimeout(ctx context.Context, command string, timeout time.Duration) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(e.controlArgs(), e.Host, command)
	cmd := exec.CommandContext(tctx, "ssh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logrus.Debugf("remote exec: %s", command)
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if tctx.Err() == context.DeadlineExceeded {
		return "", rverr.New(rverr.KindConnection, "remote.exec", "timed out after %s running %q", timeout, command)
	}
	return "", classify("remote.exec", err, stderr.String())
}

// ExecBatch joins commands with `;` so a failing command does not short-circuit
// the rest, prints the delimiter between outputs, and splits the combined
// stdout back into one entry per command, in input order. Batch success
// depends only on the transport: a failing command yields an empty slot.
func (e *SSHExecutor) ExecBatch(ctx context.Context, commands []string) ([]string, error) {
	if len(commands) == 0 {
		return nil, nil
	}
	out, err := e.ExecTimeout(ctx, joinBatch(commands), DefaultTimeout+time.Duration(len(commands))*5*time.Second)
	if err != nil {
		return nil, err
	}
	return SplitBatch(out, len(commands))
}

// joinBatch interleaves the delimiter echoes and ends on `true` so the remote
// shell's exit status never reflects the last command.
func joinBatch(commands []string) string {
	return strings.Join(commands, fmt.Sprintf(" ; echo %s ; ", BatchDelim)) + " ; true"
}

// SplitBatch divides combined batch output into n per-command chunks.
func SplitBatch(out string, n int) ([]string, error) {
	parts := strings.Split(out, BatchDelim)
	if len(parts) != n {
		return nil, rverr.New(rverr.KindParse, "remote.execBatch", "expected %d outputs, got %d", n, len(parts))
	}
	results := make([]string, n)
	for i, p := range parts {
		results[i] = strings.Trim(p, "\n")
	}
	return results, nil
}

// WriteFile streams data into remotePath, creating parent directories.
func (e *SSHExecutor) WriteFile(ctx context.Context, remotePath string, data []byte) error {
	tctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	dir := filepath.Dir(remotePath)
	command := fmt.Sprintf("mkdir -p %q && cat > %q", dir, remotePath)
	args := append(e.controlArgs(), e.Host, command)
	cmd := exec.CommandContext(tctx, "ssh", args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return classify("remote.writeFile", err, stderr.String())
	}
	return nil
}

// PullStream mirrors a remote tree to a local path with rsync.
func (e *SSHExecutor) PullStream(ctx context.Context, remotePath, localPath string, opts StreamOptions) error {
	src := e.Host + ":" + remotePath
	return e.rsync(ctx, src, localPath, nil, opts)
}

// PushStream mirrors a local tree to a remote path with rsync.
func (e *SSHExecutor) PushStream(ctx context.Context, localPath, remotePath string, opts StreamOptions) error {
	dst := e.Host + ":" + remotePath
	return e.rsync(ctx, localPath, dst, nil, opts)
}

// PushStreamWithList transfers exactly the named files, used to mirror the set
// of VCS-tracked files without consulting ignore rules twice.
func (e *SSHExecutor) PushStreamWithList(ctx context.Context, localPath, remotePath string, files []string, opts StreamOptions) error {
	dst := e.Host + ":" + remotePath
	return e.rsync(ctx, localPath, dst, files, opts)
}

func (e *SSHExecutor) rsync(ctx context.Context, src, dst string, fileList []string, opts StreamOptions) error {
	args := []string{"-az", "--partial"}
	rsh := "ssh " + strings.Join(e.controlArgs(), " ")
	args = append(args, "-e", rsh)
	if opts.Delete {
		args = append(args, "--delete")
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	for _, ex := range opts.Excludes {
		args = append(args, "--exclude", ex)
	}
	for _, f := range opts.Filters {
		args = append(args, "--filter", f)
	}

	var stdin *bytes.Buffer
	if fileList != nil {
		args = append(args, "--files-from=-")
		stdin = bytes.NewBufferString(strings.Join(fileList, "\n") + "\n")
	}
	args = append(args, src, dst)

	cmd := exec.CommandContext(ctx, "rsync", args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stdout
	logrus.Debugf("rsync %s -> %s", src, dst)
	if err := cmd.Run(); err != nil {
		return classify("remote.stream", err, stderr.String())
	}
	return nil
}

// ExecInteractive allocates a terminal on the remote side and proxies the
// user's stdio through. Returns the remote exit code.
func (e *SSHExecutor) ExecInteractive(argv []string) (int, error) {
	args := append(e.controlArgs(), "-t", e.Host)
	args = append(args, argv...)
	cmd := exec.Command("ssh", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if ok := asExitError(err, &ee); ok {
		return ee.ExitCode(), nil
	}
	return 1, classify("remote.interactive", err, "")
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// classify maps transport stderr to typed error kinds by substring, falling
// back to a remote-exit error when the connection itself was fine.
func classify(op string, err error, stderr string) error {
	low := strings.ToLower(stderr)
	switch {
	case strings.Contains(low, "permission denied") || strings.Contains(low, "too many authentication failures"):
		return rverr.Wrap(rverr.KindConnection, op, err, "authentication failed: %s", firstLine(stderr))
	case strings.Contains(low, "could not resolve hostname") || strings.Contains(low, "name or service not known") || strings.Contains(low, "no route to host"):
		return rverr.Wrap(rverr.KindConnection, op, err, "host unreachable: %s", firstLine(stderr))
	case strings.Contains(low, "connection refused"):
		return rverr.Wrap(rverr.KindConnection, op, err, "connection refused: %s", firstLine(stderr))
	case strings.Contains(low, "timed out"):
		return rverr.Wrap(rverr.KindConnection, op, err, "connection timed out: %s", firstLine(stderr))
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return rverr.RemoteExit(op, ee.ExitCode(), strings.TrimSpace(stderr))
	}
	return rverr.Wrap(rverr.KindConnection, op, err, "transport failed")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
