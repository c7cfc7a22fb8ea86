// Package script synthesizes the batch script text for a strategy. Three
// shapes share one preamble: simple, multi-node, and checkpoint-restart.
package script

import (
	"fmt"
	"strings"

	"github.com/charliemeyer2000/rv/alloc"
	"github.com/charliemeyer2000/rv/slurm"
)

// Config carries the per-user pieces the script embeds.
type Config struct {
	User           string
	Account        string
	Scratch        string // remote scratch base, cache dirs live under it
	StateDir       string // remote state dir holding env/<jobid>.env, default $HOME/.rv
	Venv           string // virtualenv to activate, optional
	WorkDir        string // cd target, optional
	NotifyEndpoint string
	// NotifySecret is shared with the notification receiver, not a
	// per-user credential. It is embedded into the script text.
	NotifySecret  string
	SharedHFCache string // group-shared HF cache, optional
	CPUsPerGPU    int    // default 4
	ExcludeNodes  []string
}

// checkpointBuffer is subtracted from the segment walltime so the wrapped
// command is killed with enough margin to flush and resubmit.
const checkpointBuffer = 600

// Synthesize renders the batch script for one strategy.
func Synthesize(req *alloc.UserRequest, strat alloc.Strategy, cfg Config) string {
	if cfg.CPUsPerGPU == 0 {
		cfg.CPUsPerGPU = 4
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "$HOME/.rv"
	}

	var b strings.Builder
	writeDirectives(&b, req, strat, cfg)
	writePreamble(&b, req, strat, cfg)

	switch {
	case strat.Checkpoint:
		writeCheckpointBody(&b, req, strat)
	case strat.Nodes > 1:
		writeMultiNodeBody(&b, req, strat)
	default:
		writeSimpleBody(&b, req, strat)
	}
	return b.String()
}

func writeDirectives(b *strings.Builder, req *alloc.UserRequest, strat alloc.Strategy, cfg Config) {
	cpus := cfg.CPUsPerGPU * strat.GPUsPerNode

	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(b, "#SBATCH --job-name=%s\n", req.JobName)
	fmt.Fprintf(b, "#SBATCH --partition=%s\n", strat.Partition)
	fmt.Fprintf(b, "#SBATCH --gres=%s\n", strat.Gres)
	fmt.Fprintf(b, "#SBATCH --time=%s\n", slurm.FormatSeconds(strat.WalltimeSeconds))
	if strat.TimeMinSeconds > 0 {
		fmt.Fprintf(b, "#SBATCH --time-min=%s\n", slurm.FormatSeconds(strat.TimeMinSeconds))
	}
	fmt.Fprintf(b, "#SBATCH --account=%s\n", req.Account)
	b.WriteString("#SBATCH --output=%x-%j.out\n")
	b.WriteString("#SBATCH --error=%x-%j.err\n")
	if strat.Nodes > 1 {
		fmt.Fprintf(b, "#SBATCH --nodes=%d\n", strat.Nodes)
		fmt.Fprintf(b, "#SBATCH --ntasks=%d\n", strat.Nodes)
		b.WriteString("#SBATCH --ntasks-per-node=1\n")
	}
	fmt.Fprintf(b, "#SBATCH --cpus-per-task=%d\n", cpus)
	if req.MemoryGB > 0 {
		fmt.Fprintf(b, "#SBATCH --mem=%dG\n", req.MemoryGB)
	}
	if len(strat.Features) > 0 {
		fmt.Fprintf(b, "#SBATCH --constraint=%s\n", strings.Join(strat.Features, "&"))
	}
	if len(cfg.ExcludeNodes) > 0 {
		fmt.Fprintf(b, "#SBATCH --exclude=%s\n", strings.Join(cfg.ExcludeNodes, ","))
	}
	b.WriteString("\n")
}

func writePreamble(b *strings.Builder, req *alloc.UserRequest, strat alloc.Strategy, cfg Config) {
	b.WriteString("module purge >/dev/null 2>&1 || true\n")
	b.WriteString("module load cuda >/dev/null 2>&1 || true\n\n")

	// per-job env file: sourced once, then removed
	fmt.Fprintf(b, "ENV_FILE=\"%s/env/${SLURM_JOB_ID}.env\"\n", cfg.StateDir)
	b.WriteString("if [ -f \"$ENV_FILE\" ]; then\n")
	b.WriteString("  source \"$ENV_FILE\"\n")
	b.WriteString("  rm -f \"$ENV_FILE\"\n")
	b.WriteString("fi\n\n")

	writeNotifyHelper(b, req, cfg)

	if cfg.Venv != "" {
		fmt.Fprintf(b, "source %q/bin/activate\n\n", cfg.Venv)
	}

	cpus := cfg.CPUsPerGPU * strat.GPUsPerNode
	fmt.Fprintf(b, "export OMP_NUM_THREADS=${SLURM_CPUS_PER_TASK:-%d}\n", cpus)
	b.WriteString("export TOKENIZERS_PARALLELISM=false\n")
	// deterministic per-job port in [29500, 30499]
	b.WriteString("export MASTER_PORT=$((29500 + SLURM_JOB_ID % 1000))\n")
	fmt.Fprintf(b, "export UV_CACHE_DIR=%q\n", cfg.Scratch+"/.cache/uv")
	fmt.Fprintf(b, "export PIP_CACHE_DIR=%q\n", cfg.Scratch+"/.cache/pip")
	hfHome := cfg.Scratch + "/.cache/huggingface"
	if cfg.SharedHFCache != "" {
		hfHome = cfg.SharedHFCache
	}
	fmt.Fprintf(b, "export HF_HOME=%q\n", hfHome)
	fmt.Fprintf(b, "export VLLM_CACHE_DIR=%q\n", cfg.Scratch+"/.cache/vllm")
	fmt.Fprintf(b, "export RV_CHECKPOINT_DIR=\"%s/checkpoints/${SLURM_JOB_ID}\"\n", cfg.Scratch)
	b.WriteString("export CHECKPOINT_DIR=\"$RV_CHECKPOINT_DIR\"\n")
	b.WriteString("mkdir -p \"$RV_CHECKPOINT_DIR\"\n\n")

	if cfg.WorkDir != "" {
		fmt.Fprintf(b, "cd %q\n\n", cfg.WorkDir)
	}

	b.WriteString("rv_notify STARTED\n\n")
}

func writeNotifyHelper(b *strings.Builder, req *alloc.UserRequest, cfg Config) {
	endpoint := cfg.NotifyEndpoint
	if req.NotifyEndpoint != "" {
		endpoint = req.NotifyEndpoint
	}
	if endpoint == "" || cfg.NotifySecret == "" {
		b.WriteString("rv_notify() { :; }\n\n")
		return
	}
	b.WriteString("rv_notify() {\n")
	b.WriteString("  local event=\"$1\"\n")
	b.WriteString("  local epoch=\"$(date +%s)\"\n")
	b.WriteString("  local ts=\"$(date -u +%Y-%m-%dT%H:%M:%SZ)\"\n")
	b.WriteString("  local node=\"$(hostname -s)\"\n")
	fmt.Fprintf(b, "  local sig=\"$(printf '%%s' \"%s:${SLURM_JOB_ID}:${event}:${epoch}\" | openssl dgst -sha256 -hmac '%s' | awk '{print $NF}')\"\n",
		cfg.User, cfg.NotifySecret)
	fmt.Fprintf(b, "  curl -fsS -m 10 -X POST -H 'Content-Type: application/json' \\\n")
	fmt.Fprintf(b, "    -d \"{\\\"user\\\":\\\"%s\\\",\\\"jobId\\\":\\\"${SLURM_JOB_ID}\\\",\\\"jobName\\\":\\\"%s\\\",\\\"event\\\":\\\"${event}\\\",\\\"node\\\":\\\"${node}\\\",\\\"ts\\\":\\\"${ts}\\\",\\\"epoch\\\":${epoch},\\\"sig\\\":\\\"${sig}\\\"}\" \\\n",
		cfg.User, req.JobName)
	fmt.Fprintf(b, "    '%s' >/dev/null 2>&1 || true\n", endpoint)
	b.WriteString("}\n\n")
}

func writeSimpleBody(b *strings.Builder, req *alloc.UserRequest, strat alloc.Strategy) {
	cmd := req.Command
	if cmd == "" {
		cmd = "sleep infinity"
	}
	cmd = InjectMasterPort(cmd)
	b.WriteString(cmd + "\n")
	writeEpilogue(b)
}

func writeMultiNodeBody(b *strings.Builder, req *alloc.UserRequest, strat alloc.Strategy) {
	cmd := req.Command
	if cmd == "" {
		cmd = "sleep infinity"
	}
	cmd = InjectDistributedFlags(cmd)

	writeMultiNodeEnv(b)
	fmt.Fprintf(b, "%s\n", srunInvocation(strat, cmd))
	writeEpilogue(b)
}

func writeCheckpointBody(b *strings.Builder, req *alloc.UserRequest, strat alloc.Strategy) {
	cmd := req.Command
	if cmd == "" {
		cmd = "sleep infinity"
	}
	run := ""
	if strat.Nodes == 1 {
		run = InjectMasterPort(cmd)
	} else {
		writeMultiNodeEnv(b)
		run = srunInvocation(strat, InjectDistributedFlags(cmd))
	}

	fmt.Fprintf(b, "RV_TOTAL_REQUESTED=%d\n", req.TotalTimeSeconds)
	b.WriteString("RV_TOTAL_ELAPSED=${RV_TOTAL_ELAPSED:-0}\n")
	b.WriteString("SEG_START=$(date +%s)\n")
	// the real segment limit comes from the scheduler: with --time-min the
	// granted walltime can undercut the requested one
	b.WriteString("if [ -n \"${SLURM_JOB_END_TIME:-}\" ]; then\n")
	b.WriteString("  SEG_LIMIT=$(( SLURM_JOB_END_TIME - SEG_START ))\n")
	b.WriteString("else\n")
	fmt.Fprintf(b, "  SEG_LIMIT=%d\n", strat.WalltimeSeconds)
	b.WriteString("fi\n")
	fmt.Fprintf(b, "RUN_SECS=$(( SEG_LIMIT - %d ))\n", checkpointBuffer)
	b.WriteString("if [ \"$RUN_SECS\" -lt 60 ]; then RUN_SECS=60; fi\n\n")

	fmt.Fprintf(b, "timeout \"${RUN_SECS}s\" bash -c %s\n", shellQuote(run))
	b.WriteString("EXIT_CODE=$?\n")
	b.WriteString("SEG_ELAPSED=$(( $(date +%s) - SEG_START ))\n")
	b.WriteString("RV_TOTAL_ELAPSED=$(( RV_TOTAL_ELAPSED + SEG_ELAPSED ))\n\n")

	b.WriteString("if [ $EXIT_CODE -ne 0 ] && [ $RV_TOTAL_ELAPSED -lt $RV_TOTAL_REQUESTED ]; then\n")
	b.WriteString("  rv_notify RESUBMITTED\n")
	b.WriteString("  sbatch --export=ALL,RV_TOTAL_ELAPSED=$RV_TOTAL_ELAPSED \"$0\"\n")
	b.WriteString("  exit 0\n")
	b.WriteString("fi\n")
	b.WriteString("if [ $EXIT_CODE -ne 0 ]; then rv_notify FAILED; else rv_notify COMPLETED; fi\n")
	b.WriteString("exit $EXIT_CODE\n")
}

// writeMultiNodeEnv emits the NCCL setup and rendezvous address shared by
// every multi-node shape.
func writeMultiNodeEnv(b *strings.Builder) {
	b.WriteString("export NCCL_DEBUG=WARN\n")
	b.WriteString("export NCCL_SOCKET_IFNAME=^lo,docker0\n")
	b.WriteString("nodes=($(scontrol show hostnames \"$SLURM_JOB_NODELIST\"))\n")
	b.WriteString("export MASTER_ADDR=\"${nodes[0]}\"\n\n")
}

// srunInvocation wraps cmd so per-task env (RANK, WORLD_SIZE, NODE_RANK) is
// set inside the srun task context, with per-node output files.
func srunInvocation(strat alloc.Strategy, cmd string) string {
	wrapped := "export RANK=$SLURM_PROCID; export WORLD_SIZE=$SLURM_NTASKS; export NODE_RANK=$SLURM_NODEID; " + cmd
	return fmt.Sprintf("srun --ntasks=%d --ntasks-per-node=1 --output=\"%%x-%%j-node%%n.out\" --error=\"%%x-%%j-node%%n.err\" bash -c %s",
		strat.Nodes, shellQuote(wrapped))
}

func writeEpilogue(b *strings.Builder) {
	b.WriteString("EXIT_CODE=$?\n")
	b.WriteString("if [ $EXIT_CODE -ne 0 ]; then rv_notify FAILED; else rv_notify COMPLETED; fi\n")
	b.WriteString("exit $EXIT_CODE\n")
}

// distributed launchers that understand master-port flags
var launchers = []string{"torchrun", "torch.distributed.run", "torch.distributed.launch", "accelerate launch"}

// InjectMasterPort appends --master-port=$MASTER_PORT to a single-node
// distributed launcher invocation that does not already pin one.
func InjectMasterPort(cmd string) string {
	if !isLauncher(cmd) || hasFlag(cmd, "--master-port") || hasFlag(cmd, "--master_port") {
		return cmd
	}
	return injectAfterLauncher(cmd, "--master-port=$MASTER_PORT")
}

// InjectDistributedFlags adds the multi-node rendezvous flags a launcher
// needs, skipping any the user already set.
func InjectDistributedFlags(cmd string) string {
	if !isLauncher(cmd) {
		return cmd
	}
	var flags []string
	if !hasFlag(cmd, "--nnodes") {
		flags = append(flags, "--nnodes=$SLURM_NNODES")
	}
	if !hasFlag(cmd, "--node-rank") && !hasFlag(cmd, "--node_rank") {
		flags = append(flags, "--node-rank=$NODE_RANK")
	}
	if !hasFlag(cmd, "--master-addr") && !hasFlag(cmd, "--master_addr") {
		flags = append(flags, "--master-addr=$MASTER_ADDR")
	}
	if !hasFlag(cmd, "--master-port") && !hasFlag(cmd, "--master_port") {
		flags = append(flags, "--master-port=$MASTER_PORT")
	}
	if len(flags) == 0 {
		return cmd
	}
	return injectAfterLauncher(cmd, strings.Join(flags, " "))
}

func isLauncher(cmd string) bool {
	for _, l := range launchers {
		if strings.Contains(cmd, l) {
			return true
		}
	}
	return false
}

func hasFlag(cmd, flag string) bool {
	return strings.Contains(cmd, flag)
}

func injectAfterLauncher(cmd, flags string) string {
	for _, l := range launchers {
		if i := strings.Index(cmd, l); i >= 0 {
			end := i + len(l)
			return cmd[:end] + " " + flags + cmd[end:]
		}
	}
	return cmd
}

// shellQuote single-quotes s for safe embedding, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
