package slurm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charliemeyer2000/rv/rverr"
)

// ParseJobs reads the pipe-delimited squeue listing:
//
//	id|name|state|elapsed|limit|partition|gres|nodelist|reason
//
// Malformed rows are skipped with a debug log; the live listing is a primary
// path, so a listing with zero parseable rows out of nonzero lines is a parse
// error.
func ParseJobs(text string) ([]Job, error) {
	lines := nonEmptyLines(text)
	jobs := make([]Job, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "|")
		if len(fields) < 8 {
			logrus.Debugf("skipping malformed squeue row: %q", line)
			continue
		}
		elapsed, err := ParseTimeToSeconds(fields[3])
		if err != nil {
			logrus.Debugf("skipping squeue row with bad elapsed %q", fields[3])
			continue
		}
		limit, err := ParseTimeToSeconds(fields[4])
		if err != nil {
			logrus.Debugf("skipping squeue row with bad limit %q", fields[4])
			continue
		}
		nodes, err := ExpandNodeList(fields[7])
		if err != nil {
			logrus.Debugf("skipping squeue row with bad nodelist %q", fields[7])
			continue
		}
		reason := ""
		if len(fields) > 8 {
			// the reason is free-form and may itself contain pipes
			reason = strings.TrimSpace(strings.Join(fields[8:], "|"))
			reason = strings.Trim(reason, "()")
			if reason == "None" {
				reason = ""
			}
		}
		jobs = append(jobs, Job{
			ID:             strings.TrimSpace(fields[0]),
			Name:           fields[1],
			State:          ParseJobState(fields[2]),
			ElapsedText:    fields[3],
			ElapsedSeconds: elapsed,
			LimitText:      fields[4],
			LimitSeconds:   limit,
			Partition:      fields[5],
			Gres:           emptyGres(fields[6]),
			Nodes:          nodes,
			Reason:         reason,
		})
	}
	if len(jobs) == 0 && len(lines) > 0 {
		return nil, rverr.New(rverr.KindParse, "slurm.parseJobs", "no parseable rows in %d-line listing", len(lines))
	}
	return jobs, nil
}

func emptyGres(s string) string {
	s = strings.TrimSpace(s)
	if s == "(null)" || s == "N/A" {
		return ""
	}
	return s
}

// ParseAccounting reads the pipe-delimited sacct listing:
//
//	id|name|state|elapsed|exit|partition|nodes
//
// Sub-job rows (ids containing '.') are skipped: only the batch-level row
// carries the state the monitor cares about.
func ParseAccounting(text string) ([]Accounting, error) {
	var records []Accounting
	for _, line := range nonEmptyLines(text) {
		fields := strings.Split(line, "|")
		if len(fields) < 7 {
			logrus.Debugf("skipping malformed sacct row: %q", line)
			continue
		}
		id := strings.TrimSpace(fields[0])
		if strings.Contains(id, ".") {
			continue
		}
		elapsed, err := ParseTimeToSeconds(fields[3])
		if err != nil {
			continue
		}
		exitCode := 0
		// sacct exit field is "code:signal"
		if c := strings.SplitN(fields[4], ":", 2)[0]; c != "" {
			if n, err := strconv.Atoi(c); err == nil {
				exitCode = n
			}
		}
		nodes, err := ExpandNodeList(fields[6])
		if err != nil {
			nodes = nil
		}
		records = append(records, Accounting{
			ID:             id,
			Name:           fields[1],
			State:          ParseJobState(fields[2]),
			ElapsedSeconds: elapsed,
			ExitCode:       exitCode,
			Partition:      fields[5],
			Nodes:          nodes,
		})
	}
	return records, nil
}

// nodeStateSuffixes are sinfo annotations (drain pending, powering up, ...)
// stripped before state mapping.
const nodeStateSuffixes = "*~#$@+"

// ParseNodes reads the whitespace-separated sinfo inventory:
//
//	name state gres cpus(alloc/idle/other/total) memoryMB
//
// gres may contain commas inside parentheses, so fields are taken from both
// ends: memory last, cpus second-to-last, name and state first.
func ParseNodes(text string) ([]Node, error) {
	lines := nonEmptyLines(text)
	nodes := make([]Node, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			logrus.Debugf("skipping malformed sinfo row: %q", line)
			continue
		}
		name := fields[0]
		state := parseNodeState(fields[1])
		mem, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			logrus.Debugf("skipping sinfo row with bad memory %q", fields[len(fields)-1])
			continue
		}
		cpus := strings.Split(fields[len(fields)-2], "/")
		if len(cpus) != 4 {
			logrus.Debugf("skipping sinfo row with bad cpu field %q", fields[len(fields)-2])
			continue
		}
		cpuAlloc, _ := strconv.Atoi(cpus[0])
		cpuIdle, _ := strconv.Atoi(cpus[1])
		cpuTotal, _ := strconv.Atoi(cpus[3])
		gres := strings.Join(fields[2:len(fields)-2], " ")

		gpuType, gpuTotal := parseGresGPU(gres)
		n := Node{
			Name:     name,
			State:    state,
			Gres:     gres,
			GPUType:  gpuType,
			GPUTotal: gpuTotal,
			CPUAlloc: cpuAlloc,
			CPUIdle:  cpuIdle,
			CPUTotal: cpuTotal,
			MemoryMB: mem,
		}
		n.GPUFree = freeGPUs(state, gpuTotal)
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 && len(lines) > 0 {
		return nil, rverr.New(rverr.KindParse, "slurm.parseNodes", "no parseable rows in %d-line inventory", len(lines))
	}
	return nodes, nil
}

func parseNodeState(s string) NodeState {
	s = strings.TrimRight(s, nodeStateSuffixes)
	switch strings.ToLower(s) {
	case "idle":
		return NodeIdle
	case "mix", "mixed":
		return NodeMixed
	case "alloc", "allocated":
		return NodeAllocated
	case "drain", "draining", "drained", "drng":
		return NodeDraining
	case "down", "fail", "failing", "maint":
		return NodeDown
	}
	return NodeUnknown
}

// freeGPUs infers availability from node state. The mixed estimate is a
// policy guess, not data: sinfo does not report per-GPU allocation here.
func freeGPUs(state NodeState, total int) int {
	switch state {
	case NodeIdle:
		return total
	case NodeMixed:
		return (total + 1) / 2
	default:
		return 0
	}
}

var gresGPURe = regexp.MustCompile(`gpu:([A-Za-z0-9_]+):(\d+)`)

// parseGresGPU extracts the GPU label and count from a gres string like
// "gpu:a100:8(S:0-1),tmpfs:100G".
func parseGresGPU(gres string) (string, int) {
	m := gresGPURe.FindStringSubmatch(gres)
	if m == nil {
		return "", 0
	}
	n, _ := strconv.Atoi(m[2])
	return m[1], n
}

// ParseAllocations reads the fixed-column allocations table:
//
//	account  balance  reserved  available
//
// Best-effort: header and malformed rows are skipped, never fatal.
func ParseAllocations(text string) []Allocation {
	var allocs []Allocation
	for _, line := range nonEmptyLines(text) {
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		bal, err1 := strconv.ParseFloat(fields[1], 64)
		res, err2 := strconv.ParseFloat(fields[2], 64)
		avail, err3 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		allocs = append(allocs, Allocation{Account: fields[0], Balance: bal, Reserved: res, Available: avail})
	}
	return allocs
}

var quotaRe = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z ]*?)\s+(/\S+)\s+([\d.]+)\s*([KMGTP]?B)\b`)

// ParseQuotas reads the storage quota report. Best-effort, never fatal.
func ParseQuotas(text string) []Quota {
	var quotas []Quota
	for _, line := range nonEmptyLines(text) {
		m := quotaRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		size, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		quotas = append(quotas, Quota{
			Kind:    strings.TrimSpace(m[1]),
			Path:    m[2],
			SizeGB:  toGB(size, m[4]),
			UnitRaw: m[4],
		})
	}
	return quotas
}

func toGB(size float64, unit string) float64 {
	switch unit {
	case "KB":
		return size / 1024 / 1024
	case "MB":
		return size / 1024
	case "GB":
		return size
	case "TB":
		return size * 1024
	case "PB":
		return size * 1024 * 1024
	}
	return size
}

var userLikeRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*\d*$`)

// ParseFairShare extracts the user's fair-share factor from the sshare
// listing: column 7 (0-based) of the row whose second column looks like a
// username. Best-effort with a neutral 0.5 default, clamped to [0, 1].
func ParseFairShare(text string) float64 {
	for _, line := range nonEmptyLines(text) {
		fields := strings.Fields(line)
		if len(fields) < 8 || !userLikeRe.MatchString(fields[1]) {
			continue
		}
		f, err := strconv.ParseFloat(fields[7], 64)
		if err != nil {
			continue
		}
		if f < 0 {
			return 0
		}
		if f > 1 {
			return 1
		}
		return f
	}
	return 0.5
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// SubmitAckRe matches the sbatch acknowledgement line.
var submitAckRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseSubmitAck extracts the job id from sbatch output. Missing
// acknowledgement is fatal: the submission state is unknown without it.
func ParseSubmitAck(out string) (string, error) {
	m := submitAckRe.FindStringSubmatch(out)
	if m == nil {
		return "", rverr.New(rverr.KindParse, "slurm.submit", "no submission acknowledgement in %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

var startTimeRe = regexp.MustCompile(`to start at (\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})`)

// ParseProbeStart extracts the estimated start timestamp from a dry-run
// submission. Returns the raw timestamp string, or "" when the scheduler did
// not emit one.
func ParseProbeStart(out string) string {
	m := startTimeRe.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}

// FormatExport renders env vars as a sourceable export block.
func FormatExport(vars map[string]string, keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%q\n", k, vars[k])
	}
	return b.String()
}
