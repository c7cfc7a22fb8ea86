// Package slurm wraps the remote scheduler CLI in typed calls. Parsers are
// pure (text in, data out); the Client owns the remote round-trips.
package slurm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charliemeyer2000/rv/remote"
	"github.com/charliemeyer2000/rv/rverr"
)

const (
	squeueFormat = "%i|%j|%T|%M|%l|%P|%b|%N|%R"
	sacctFormat  = "JobID,JobName,State,Elapsed,ExitCode,Partition,NodeList"
)

// Client is the typed surface over the scheduler CLI for one user.
type Client struct {
	exec     remote.Executor
	user     string
	stateDir string // remote directory for scripts and env files
}

// NewClient builds a scheduler client. stateDir defaults to ~/.rv on the
// remote side when empty.
func NewClient(exec remote.Executor, user, stateDir string) *Client {
	if stateDir == "" {
		stateDir = "$HOME/.rv"
	}
	return &Client{exec: exec, user: user, stateDir: stateDir}
}

// ListJobs returns the live queue for the configured user.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	out, err := c.exec.Exec(ctx, c.squeueCmd(""))
	if err != nil {
		return nil, err
	}
	return ParseJobs(out)
}

func (c *Client) squeueCmd(states string) string {
	cmd := fmt.Sprintf("squeue -u %s -h -o '%s'", c.user, squeueFormat)
	if states != "" {
		cmd += " -t " + states
	}
	return cmd
}

// ListHistory returns accounting records starting at since.
func (c *Client) ListHistory(ctx context.Context, since time.Time) ([]Accounting, error) {
	cmd := c.sacctCmd(since)
	out, err := c.exec.Exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return ParseAccounting(out)
}

func (c *Client) sacctCmd(since time.Time) string {
	return fmt.Sprintf("sacct -u %s -n -P -o %s -S %s", c.user, sacctFormat, since.Format("2006-01-02T15:04:05"))
}

// Submit writes scriptText to a remote temp path, submits it, and returns the
// assigned job id. The script file is left in place for checkpoint
// resubmission ($0 must remain valid across segments).
func (c *Client) Submit(ctx context.Context, scriptText string) (string, error) {
	path := fmt.Sprintf("%s/scripts/rv-%d.slurm", c.stateDir, time.Now().UnixNano())
	if err := c.exec.WriteFile(ctx, path, []byte(scriptText)); err != nil {
		return "", err
	}
	out, err := c.exec.Exec(ctx, "sbatch "+path)
	if err != nil {
		return "", err
	}
	return ParseSubmitAck(out)
}

// Cancel cancels a single job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.CancelMany(ctx, []string{jobID})
}

// CancelMany cancels all given jobs in one remote call.
func (c *Client) CancelMany(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := c.exec.Exec(ctx, "scancel "+strings.Join(jobIDs, " "))
	return err
}

// ProbeRequest describes one dry-run submission.
type ProbeRequest struct {
	Partition       string
	Gres            string
	GPUsPerNode     int
	Nodes           int
	WalltimeSeconds int
	Account         string
	Features        []string
}

func (p ProbeRequest) command() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sbatch --test-only --job-name=rv-probe --partition=%s --gres=%s --nodes=%d --time=%s",
		p.Partition, p.Gres, max(p.Nodes, 1), FormatSeconds(p.WalltimeSeconds))
	if p.Account != "" {
		fmt.Fprintf(&b, " --account=%s", p.Account)
	}
	if len(p.Features) > 0 {
		fmt.Fprintf(&b, " --constraint=%s", strings.Join(p.Features, "&"))
	}
	// --test-only reports on stderr and exits non-zero; fold both so the
	// batch keeps going and the parser sees the line
	b.WriteString(" --wrap=true 2>&1 || true")
	return b.String()
}

// Probe issues one dry-run submission and returns the scheduler's estimated
// start time, or nil if it did not emit one.
func (c *Client) Probe(ctx context.Context, req ProbeRequest) (*time.Time, error) {
	times, err := c.ProbeBatch(ctx, []ProbeRequest{req})
	if err != nil {
		return nil, err
	}
	return times[0], nil
}

// ProbeBatch issues every dry-run in one remote round-trip. The result slice
// matches the input order; entries are nil where no start time was reported.
func (c *Client) ProbeBatch(ctx context.Context, reqs []ProbeRequest) ([]*time.Time, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	cmds := make([]string, len(reqs))
	for i, r := range reqs {
		cmds[i] = r.command()
	}
	outs, err := c.exec.ExecBatch(ctx, cmds)
	if err != nil {
		return nil, err
	}
	results := make([]*time.Time, len(reqs))
	for i, out := range outs {
		raw := ParseProbeStart(out)
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.Local)
		if err != nil {
			logrus.Debugf("unparseable probe start %q", raw)
			continue
		}
		results[i] = &t
	}
	return results, nil
}

// EnvFilePath is the remote path of the per-job env file the synthesized
// script sources and deletes at startup.
func (c *Client) EnvFilePath(jobID string) string {
	return fmt.Sprintf("%s/env/%s.env", c.stateDir, jobID)
}

// WriteEnvFile serializes vars as export statements to the per-job env file.
// Keys are written in sorted order so repeated writes are byte-stable.
func (c *Client) WriteEnvFile(ctx context.Context, jobID string, vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return c.exec.WriteFile(ctx, c.EnvFilePath(jobID), []byte(FormatExport(vars, keys)))
}

// ExecBatch exposes the transport's batched execution for callers that read
// remote files alongside scheduler queries (the log tailer).
func (c *Client) ExecBatch(ctx context.Context, commands []string) ([]string, error) {
	return c.exec.ExecBatch(ctx, commands)
}

// GetSystemState batches the four most common queries into one round-trip.
func (c *Client) GetSystemState(ctx context.Context) (*SystemState, error) {
	cmds := []string{
		"sinfo -N -h -o '%N %t %G %C %m'",
		c.squeueCmd("RUNNING"),
		c.squeueCmd("PENDING"),
		fmt.Sprintf("sshare -U -u %s -h", c.user),
	}
	outs, err := c.exec.ExecBatch(ctx, cmds)
	if err != nil {
		return nil, err
	}
	nodes, err := ParseNodes(outs[0])
	if err != nil {
		return nil, err
	}
	running, err := ParseJobs(outs[1])
	if err != nil {
		return nil, err
	}
	pending, err := ParseJobs(outs[2])
	if err != nil {
		return nil, err
	}
	return &SystemState{
		Nodes:       nodes,
		RunningJobs: running,
		PendingJobs: pending,
		FairShare:   ParseFairShare(outs[3]),
		FetchedAt:   time.Now(),
	}, nil
}

// NodeGres returns the gres string of one node, for allocation verification.
func (c *Client) NodeGres(ctx context.Context, node string) (string, error) {
	out, err := c.exec.Exec(ctx, fmt.Sprintf("sinfo -N -h -n %s -o '%%G'", node))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// JobExit asks accounting for the authoritative terminal state and exit code
// of one job.
func (c *Client) JobExit(ctx context.Context, jobID string) (JobState, int, error) {
	cmd := fmt.Sprintf("sacct -j %s -n -P -o State,ExitCode", jobID)
	out, err := c.exec.Exec(ctx, cmd)
	if err != nil {
		return StateUnknown, 0, err
	}
	for _, line := range nonEmptyLines(out) {
		fields := strings.Split(line, "|")
		if len(fields) < 2 {
			continue
		}
		state := ParseJobState(fields[0])
		code := 0
		if c := strings.SplitN(fields[1], ":", 2)[0]; c != "" {
			fmt.Sscanf(c, "%d", &code)
		}
		return state, code, nil
	}
	return StateUnknown, 0, rverr.New(rverr.KindParse, "slurm.jobExit", "no accounting row for job %s", jobID)
}

// ListAllocations fetches the service-unit balance table. Best-effort.
func (c *Client) ListAllocations(ctx context.Context) []Allocation {
	out, err := c.exec.Exec(ctx, "allocations")
	if err != nil {
		logrus.Debugf("allocations query failed: %v", err)
		return nil
	}
	return ParseAllocations(out)
}

// ListQuotas fetches the storage quota report. Best-effort.
func (c *Client) ListQuotas(ctx context.Context) []Quota {
	out, err := c.exec.Exec(ctx, "hdquota")
	if err != nil {
		logrus.Debugf("quota query failed: %v", err)
		return nil
	}
	return ParseQuotas(out)
}
