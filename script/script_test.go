package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliemeyer2000/rv/alloc"
)

func baseReq() *alloc.UserRequest {
	return &alloc.UserRequest{
		GPUCount:         2,
		TotalTimeSeconds: 14400,
		JobName:          "rv-main",
		Account:          "acct1",
		User:             "abc5xy",
		Command:          "python train.py",
	}
}

func baseCfg() Config {
	return Config{
		User:    "abc5xy",
		Account: "acct1",
		Scratch: "/scratch/abc5xy",
	}
}

func TestSynthesize_SimpleScript(t *testing.T) {
	strat := alloc.Strategy{
		Kind:            alloc.KindDirect,
		GPUType:         alloc.A6000,
		Partition:       "gpu",
		Gres:            "gpu:a6000:2",
		WalltimeSeconds: 14400,
		GPUsPerNode:     2,
		Nodes:           1,
	}
	text := Synthesize(baseReq(), strat, baseCfg())

	assert.True(t, strings.HasPrefix(text, "#!/bin/bash\n"))
	assert.Contains(t, text, "#SBATCH --job-name=rv-main\n")
	assert.Contains(t, text, "#SBATCH --partition=gpu\n")
	assert.Contains(t, text, "#SBATCH --gres=gpu:a6000:2\n")
	assert.Contains(t, text, "#SBATCH --time=04:00:00\n")
	assert.Contains(t, text, "#SBATCH --output=%x-%j.out\n")
	assert.Contains(t, text, "#SBATCH --cpus-per-task=8\n", "4 cpus per gpu by default")
	assert.NotContains(t, text, "--time-min", "no floor without probe data")
	assert.NotContains(t, text, "--nodes=", "single node needs no node directives")

	assert.Contains(t, text, "python train.py\n")
	assert.Contains(t, text, "export MASTER_PORT=$((29500 + SLURM_JOB_ID % 1000))")
	assert.Contains(t, text, "exit $EXIT_CODE")
}

func TestSynthesize_EnvFileContract(t *testing.T) {
	strat := alloc.Strategy{Gres: "gpu:a6000:1", GPUsPerNode: 1, Nodes: 1, WalltimeSeconds: 3600}
	text := Synthesize(baseReq(), strat, baseCfg())

	// the env file is sourced once and removed so secrets do not linger
	idxSource := strings.Index(text, "source \"$ENV_FILE\"")
	idxRemove := strings.Index(text, "rm -f \"$ENV_FILE\"")
	require.Greater(t, idxSource, 0)
	require.Greater(t, idxRemove, idxSource)
	assert.Contains(t, text, "ENV_FILE=\"$HOME/.rv/env/${SLURM_JOB_ID}.env\"")

	// body runs only after the env file handling
	idxBody := strings.Index(text, "python train.py")
	assert.Greater(t, idxBody, idxRemove)
}

func TestSynthesize_TimeMinDirective(t *testing.T) {
	strat := alloc.Strategy{
		Gres: "gpu:a6000:2", GPUsPerNode: 2, Nodes: 1,
		WalltimeSeconds: 14400, TimeMinSeconds: 3600,
	}
	text := Synthesize(baseReq(), strat, baseCfg())
	assert.Contains(t, text, "#SBATCH --time-min=01:00:00\n")
}

func TestSynthesize_MultiNode(t *testing.T) {
	req := baseReq()
	req.Command = "torchrun train.py --lr 1e-4"
	strat := alloc.Strategy{
		Kind:            alloc.KindDirect,
		Gres:            "gpu:a100:4",
		WalltimeSeconds: 14400,
		GPUsPerNode:     4,
		Nodes:           2,
	}
	text := Synthesize(req, strat, baseCfg())

	assert.Contains(t, text, "#SBATCH --nodes=2\n")
	assert.Contains(t, text, "#SBATCH --ntasks=2\n")
	assert.Contains(t, text, "#SBATCH --ntasks-per-node=1\n")

	assert.Contains(t, text, "export MASTER_ADDR=\"${nodes[0]}\"")
	assert.Contains(t, text, "srun --ntasks=2 --ntasks-per-node=1")
	assert.Contains(t, text, "--output=\"%x-%j-node%n.out\"", "per-node log files")

	// rank env must be exported inside the srun task, not in the sbatch shell
	assert.Contains(t, text, "bash -c 'export RANK=$SLURM_PROCID; export WORLD_SIZE=$SLURM_NTASKS; export NODE_RANK=$SLURM_NODEID; ")
	// rendezvous flags injected into the launcher invocation
	assert.Contains(t, text, "--nnodes=$SLURM_NNODES")
	assert.Contains(t, text, "--master-addr=$MASTER_ADDR")
}

func TestSynthesize_Checkpoint(t *testing.T) {
	req := baseReq()
	req.TotalTimeSeconds = 28800
	strat := alloc.Strategy{
		Kind:            alloc.KindCheckpoint,
		Checkpoint:      true,
		Gres:            "gpu:a6000:2",
		WalltimeSeconds: 7200, // one segment
		GPUsPerNode:     2,
		Nodes:           1,
	}
	text := Synthesize(req, strat, baseCfg())

	assert.Contains(t, text, "RV_TOTAL_REQUESTED=28800\n")
	assert.Contains(t, text, "RV_TOTAL_ELAPSED=${RV_TOTAL_ELAPSED:-0}\n")
	// the buffer keeps margin for flushing before the scheduler kills us
	assert.Contains(t, text, "RUN_SECS=$(( SEG_LIMIT - 600 ))")
	assert.Contains(t, text, "timeout \"${RUN_SECS}s\" bash -c ")
	// resubmission re-runs the very same script with elapsed carried over
	assert.Contains(t, text, "sbatch --export=ALL,RV_TOTAL_ELAPSED=$RV_TOTAL_ELAPSED \"$0\"")
	assert.Contains(t, text, "RV_TOTAL_ELAPSED -lt $RV_TOTAL_REQUESTED")
	assert.Contains(t, text, "export RV_CHECKPOINT_DIR=")
}

func TestSynthesize_NotifyHelper(t *testing.T) {
	t.Run("with endpoint and secret", func(t *testing.T) {
		cfg := baseCfg()
		cfg.NotifyEndpoint = "https://hooks.example.com/rv"
		cfg.NotifySecret = "s3cret"
		text := Synthesize(baseReq(), alloc.Strategy{Gres: "g", GPUsPerNode: 1, Nodes: 1, WalltimeSeconds: 3600}, cfg)

		assert.Contains(t, text, "openssl dgst -sha256 -hmac 's3cret'")
		assert.Contains(t, text, "https://hooks.example.com/rv")
		assert.Contains(t, text, "rv_notify STARTED")
		assert.Contains(t, text, "|| true", "a dead receiver never fails the job")
	})

	t.Run("without endpoint the helper is a no-op", func(t *testing.T) {
		text := Synthesize(baseReq(), alloc.Strategy{Gres: "g", GPUsPerNode: 1, Nodes: 1, WalltimeSeconds: 3600}, baseCfg())
		assert.Contains(t, text, "rv_notify() { :; }")
		assert.NotContains(t, text, "curl")
	})
}

func TestSynthesize_InteractivePlaceholder(t *testing.T) {
	req := baseReq()
	req.Command = ""
	text := Synthesize(req, alloc.Strategy{Gres: "g", GPUsPerNode: 1, Nodes: 1, WalltimeSeconds: 3600}, baseCfg())
	assert.Contains(t, text, "sleep infinity\n", "no command keeps the allocation alive")
}

func TestSynthesize_SharedCache(t *testing.T) {
	cfg := baseCfg()
	cfg.SharedHFCache = "/project/shared/hf"
	text := Synthesize(baseReq(), alloc.Strategy{Gres: "g", GPUsPerNode: 1, Nodes: 1, WalltimeSeconds: 3600}, cfg)
	assert.Contains(t, text, "export HF_HOME=\"/project/shared/hf\"")
}

func TestInjectMasterPort(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain python untouched",
			in:   "python train.py",
			want: "python train.py",
		},
		{
			name: "torchrun gets the port",
			in:   "torchrun train.py --lr 1e-4",
			want: "torchrun --master-port=$MASTER_PORT train.py --lr 1e-4",
		},
		{
			name: "existing port respected",
			in:   "torchrun --master_port=1234 train.py",
			want: "torchrun --master_port=1234 train.py",
		},
		{
			name: "accelerate launch",
			in:   "accelerate launch train.py",
			want: "accelerate launch --master-port=$MASTER_PORT train.py",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InjectMasterPort(tt.in))
		})
	}
}

func TestInjectDistributedFlags(t *testing.T) {
	t.Run("all flags injected", func(t *testing.T) {
		out := InjectDistributedFlags("torchrun train.py")
		assert.Contains(t, out, "--nnodes=$SLURM_NNODES")
		assert.Contains(t, out, "--node-rank=$NODE_RANK")
		assert.Contains(t, out, "--master-addr=$MASTER_ADDR")
		assert.Contains(t, out, "--master-port=$MASTER_PORT")
		assert.True(t, strings.HasSuffix(out, " train.py"))
	})

	t.Run("user flags win", func(t *testing.T) {
		out := InjectDistributedFlags("torchrun --nnodes=2 --master-addr=h0 train.py")
		assert.Equal(t, 1, strings.Count(out, "--nnodes"))
		assert.Equal(t, 1, strings.Count(out, "--master-addr"))
	})

	t.Run("non-launcher untouched", func(t *testing.T) {
		assert.Equal(t, "python train.py", InjectDistributedFlags("python train.py"))
	})
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
