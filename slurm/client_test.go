package slurm_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliemeyer2000/rv/internal/testutil"
	"github.com/charliemeyer2000/rv/slurm"
)

func TestClient_Submit(t *testing.T) {
	// GIVEN an executor that acknowledges the sbatch call
	exec := &testutil.FakeExecutor{
		Responses: map[string]string{
			"sbatch ": "Submitted batch job 424242\n",
		},
	}
	c := slurm.NewClient(exec, "abc5xy", "")

	// WHEN a script is submitted
	id, err := c.Submit(context.Background(), "#!/bin/bash\necho hi\n")

	// THEN the script lands under the remote state dir and the id is parsed
	require.NoError(t, err)
	assert.Equal(t, "424242", id)
	require.Len(t, exec.Writes, 1)
	for path, data := range exec.Writes {
		assert.True(t, strings.HasPrefix(path, "$HOME/.rv/scripts/rv-"), "script path %q", path)
		assert.Contains(t, string(data), "echo hi")
	}
}

func TestClient_CancelMany(t *testing.T) {
	exec := &testutil.FakeExecutor{}
	c := slurm.NewClient(exec, "abc5xy", "")

	require.NoError(t, c.CancelMany(context.Background(), []string{"1", "2", "3"}))
	require.Len(t, exec.Commands, 1, "all ids must go out in one call")
	assert.Equal(t, "scancel 1 2 3", exec.Commands[0])

	// empty cancels never touch the wire
	require.NoError(t, c.CancelMany(context.Background(), nil))
	assert.Len(t, exec.Commands, 1)
}

func TestClient_ProbeBatch(t *testing.T) {
	exec := &testutil.FakeExecutor{
		Responses: map[string]string{
			"--time=04:00:00": "sbatch: Job 1 to start at 2026-08-24T15:00:00 using 4 processors",
			"--time=02:00:00": "sbatch: error: Requested node configuration is not available",
		},
	}
	c := slurm.NewClient(exec, "abc5xy", "")

	reqs := []slurm.ProbeRequest{
		{Partition: "gpu", Gres: "gpu:a100:4", Nodes: 1, WalltimeSeconds: 14400},
		{Partition: "gpu", Gres: "gpu:h200:2", Nodes: 1, WalltimeSeconds: 7200},
	}
	times, err := c.ProbeBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, times, 2)

	require.NotNil(t, times[0])
	want := time.Date(2026, 8, 24, 15, 0, 0, 0, time.Local)
	assert.True(t, times[0].Equal(want), "got %v", times[0])
	assert.Nil(t, times[1], "no estimate means nil, not an error")

	// dry-run flags must be present so nothing actually submits
	for _, cmd := range exec.Commands {
		assert.Contains(t, cmd, "--test-only")
		assert.Contains(t, cmd, "|| true")
	}
}

func TestClient_WriteEnvFile(t *testing.T) {
	exec := &testutil.FakeExecutor{}
	c := slurm.NewClient(exec, "abc5xy", "")

	vars := map[string]string{"WANDB_API_KEY": "k", "HF_TOKEN": "t"}
	require.NoError(t, c.WriteEnvFile(context.Background(), "777", vars))

	data, ok := exec.Writes["$HOME/.rv/env/777.env"]
	require.True(t, ok, "env file path must be keyed by job id")
	// sorted keys keep repeated writes byte-stable
	assert.Equal(t, "export HF_TOKEN=\"t\"\nexport WANDB_API_KEY=\"k\"\n", string(data))
}

func TestClient_JobExit(t *testing.T) {
	exec := &testutil.FakeExecutor{
		Responses: map[string]string{
			"sacct -j 99": "FAILED|137:0\nFAILED|137:0\n",
		},
	}
	c := slurm.NewClient(exec, "abc5xy", "")

	state, code, err := c.JobExit(context.Background(), "99")
	require.NoError(t, err)
	assert.Equal(t, slurm.StateFailed, state)
	assert.Equal(t, 137, code)
}

func TestClient_GetSystemState(t *testing.T) {
	exec := &testutil.FakeExecutor{
		Responses: map[string]string{
			"sinfo -N -h -o": "n1 idle gpu:a100:8 0/64/0/64 512000\n",
			"-t RUNNING":     "1|a|RUNNING|1:00|02:00:00|gpu|gpu:a100:4|n1|None\n",
			"-t PENDING":     "2|b|PENDING|0:00|02:00:00|gpu|gpu:a100:4||(Priority)\n",
			"sshare":         "acct1 abc5xy 1 0.001 100 0.0001 0.0001 0.9\n",
		},
	}
	c := slurm.NewClient(exec, "abc5xy", "")

	st, err := c.GetSystemState(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Nodes, 1)
	require.Len(t, st.RunningJobs, 1)
	require.Len(t, st.PendingJobs, 1)
	assert.InDelta(t, 0.9, st.FairShare, 1e-9)
	assert.Len(t, exec.Commands, 4, "the state fetch is one batched round-trip")
}
