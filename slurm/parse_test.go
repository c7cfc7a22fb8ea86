package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliemeyer2000/rv/rverr"
)

func TestParseJobs(t *testing.T) {
	t.Run("well-formed listing", func(t *testing.T) {
		text := "12345|train-run|RUNNING|10:05|04:00:00|gpu|gpu:a100:4|udc-an[28-29]|None\n" +
			"12346|eval|PENDING|0:00|02:00:00|gpu|gpu:a6000:1||(Priority)\n"
		jobs, err := ParseJobs(text)
		require.NoError(t, err)
		require.Len(t, jobs, 2)

		assert.Equal(t, "12345", jobs[0].ID)
		assert.Equal(t, StateRunning, jobs[0].State)
		assert.Equal(t, 605, jobs[0].ElapsedSeconds)
		assert.Equal(t, 14400, jobs[0].LimitSeconds)
		assert.Equal(t, []string{"udc-an28", "udc-an29"}, jobs[0].Nodes)
		assert.Equal(t, "", jobs[0].Reason)

		assert.Equal(t, StatePending, jobs[1].State)
		assert.Empty(t, jobs[1].Nodes)
		assert.Equal(t, "Priority", jobs[1].Reason)
	})

	t.Run("malformed rows are skipped", func(t *testing.T) {
		text := "garbage line\n" +
			"12345|ok|RUNNING|1:00|02:00:00|gpu|gpu:v100:2|n1|None\n"
		jobs, err := ParseJobs(text)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "12345", jobs[0].ID)
	})

	t.Run("zero parseable rows is fatal", func(t *testing.T) {
		_, err := ParseJobs("garbage\nmore garbage\n")
		require.Error(t, err)
		assert.True(t, rverr.IsKind(err, rverr.KindParse))
	})

	t.Run("empty listing is fine", func(t *testing.T) {
		jobs, err := ParseJobs("")
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestParseAccounting(t *testing.T) {
	text := "12345|train|COMPLETED|01:00:00|0:0|gpu|n1\n" +
		"12345.batch|batch|COMPLETED|01:00:00|0:0|gpu|n1\n" +
		"12346|eval|FAILED|00:10:00|1:0|gpu|n2\n" +
		"12347|x|CANCELLED by 100|00:00:05|0:0|gpu|\n"
	records, err := ParseAccounting(text)
	require.NoError(t, err)
	require.Len(t, records, 3, "sub-job rows must be dropped")

	assert.Equal(t, StateCompleted, records[0].State)
	assert.Equal(t, 0, records[0].ExitCode)
	assert.Equal(t, StateFailed, records[1].State)
	assert.Equal(t, 1, records[1].ExitCode)
	assert.Equal(t, StateCancelled, records[2].State)
}

func TestParseNodes(t *testing.T) {
	text := "udc-an28 idle gpu:a100:8(S:0-1),tmpfs:100G 0/64/0/64 512000\n" +
		"udc-an29 mix gpu:a100:8 32/32/0/64 512000\n" +
		"udc-an30 alloc gpu:a6000:4 64/0/0/64 256000\n" +
		"udc-an31 drain* gpu:v100:4 0/64/0/64 256000\n"
	nodes, err := ParseNodes(text)
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	assert.Equal(t, NodeIdle, nodes[0].State)
	assert.Equal(t, "a100", nodes[0].GPUType)
	assert.Equal(t, 8, nodes[0].GPUTotal)
	assert.Equal(t, 8, nodes[0].GPUFree, "idle node offers every GPU")

	assert.Equal(t, NodeMixed, nodes[1].State)
	assert.Equal(t, 4, nodes[1].GPUFree, "mixed node estimate is half rounded up")

	assert.Equal(t, NodeAllocated, nodes[2].State)
	assert.Equal(t, 0, nodes[2].GPUFree)

	assert.Equal(t, NodeDraining, nodes[3].State, "state suffix must be stripped")
	assert.Equal(t, 0, nodes[3].GPUFree)
}

func TestParseFairShare(t *testing.T) {
	t.Run("user row found", func(t *testing.T) {
		text := "Account  User  RawShares  NormShares  RawUsage  NormUsage  EffectvUsage  FairShare\n" +
			"acct1  abc5xy  1  0.001  100  0.0001  0.0001  0.731\n"
		assert.InDelta(t, 0.731, ParseFairShare(text), 1e-9)
	})
	t.Run("no user row defaults to neutral", func(t *testing.T) {
		assert.InDelta(t, 0.5, ParseFairShare("header only\n"), 1e-9)
	})
}

func TestParseSubmitAck(t *testing.T) {
	id, err := ParseSubmitAck("Submitted batch job 987654\n")
	require.NoError(t, err)
	assert.Equal(t, "987654", id)

	_, err = ParseSubmitAck("sbatch: error: invalid partition\n")
	require.Error(t, err)
	assert.True(t, rverr.IsKind(err, rverr.KindParse))
}

func TestParseProbeStart(t *testing.T) {
	out := "sbatch: Job 1 to start at 2026-08-24T13:45:00 using 4 processors on nodes udc-an28 in partition gpu"
	assert.Equal(t, "2026-08-24T13:45:00", ParseProbeStart(out))
	assert.Equal(t, "", ParseProbeStart("sbatch: error: Requested node configuration is not available"))
}

func TestParseJobState(t *testing.T) {
	assert.Equal(t, StateCancelled, ParseJobState("CANCELLED by 1000"))
	assert.Equal(t, StateCancelled, ParseJobState("CANCELLED+"))
	assert.Equal(t, StateRunning, ParseJobState("RUNNING"))
	assert.Equal(t, StateUnknown, ParseJobState("REQUEUED_WEIRD"))

	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateNodeFail.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateCompleting.Terminal())
}

func TestParseAllocationsAndQuotas(t *testing.T) {
	allocs := ParseAllocations("Account Balance Reserved Available\nacct1 100000.0 2500.0 97500.0\n")
	require.Len(t, allocs, 1)
	assert.Equal(t, "acct1", allocs[0].Account)
	assert.InDelta(t, 97500.0, allocs[0].Available, 1e-9)

	quotas := ParseQuotas("Home /home/abc5xy 38.2 GB used of 50 GB\nScratch /scratch/abc5xy 1.5 TB used\n")
	require.Len(t, quotas, 2)
	assert.Equal(t, "/home/abc5xy", quotas[0].Path)
	assert.InDelta(t, 38.2, quotas[0].SizeGB, 1e-9)
	assert.InDelta(t, 1.5*1024, quotas[1].SizeGB, 1e-9)
}
