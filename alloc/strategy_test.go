package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func specByType(t *testing.T, types ...GPUType) []GPUSpec {
	t.Helper()
	table, err := GPUTable("")
	require.NoError(t, err)
	var out []GPUSpec
	for _, ty := range types {
		s, ok := SpecFor(table, ty)
		require.True(t, ok, "no spec for %s", ty)
		out = append(out, s)
	}
	return out
}

func TestGenerateStrategies_DirectAndBackfill(t *testing.T) {
	specs := specByType(t, A6000)
	req := &UserRequest{GPUCount: 2, TotalTimeSeconds: 7200}

	t.Run("request inside the ceiling becomes a backfill strategy", func(t *testing.T) {
		probes := map[GPUType]BackfillProbe{
			A6000: {MaxBackfillSeconds: 10800, Probed: true},
		}
		out := GenerateStrategies(specs, req, probes)
		require.Len(t, out, 1)
		assert.Equal(t, KindBackfill, out[0].Kind)
		assert.True(t, out[0].BackfillEligible)
		assert.Equal(t, 7200, out[0].WalltimeSeconds)
		assert.Equal(t, 0, out[0].TimeMinSeconds)
		assert.Equal(t, "gpu:a6000:2", out[0].Gres)
	})

	t.Run("request above the ceiling gets a time-min floor and a checkpoint sibling", func(t *testing.T) {
		probes := map[GPUType]BackfillProbe{
			A6000: {MaxBackfillSeconds: 3600, Probed: true},
		}
		long := &UserRequest{GPUCount: 2, TotalTimeSeconds: 14400}
		out := GenerateStrategies(specs, long, probes)
		require.Len(t, out, 2)

		assert.Equal(t, KindDirect, out[0].Kind)
		assert.Equal(t, 14400, out[0].WalltimeSeconds)
		assert.Equal(t, 3600, out[0].TimeMinSeconds)
		assert.False(t, out[0].BackfillEligible)

		assert.Equal(t, KindCheckpoint, out[1].Kind)
		assert.True(t, out[1].Checkpoint)
		assert.Equal(t, 3600, out[1].WalltimeSeconds, "segments run at the ceiling")
		assert.True(t, out[1].BackfillEligible, "each segment fits the window")
	})

	t.Run("no probe data yields a plain direct strategy", func(t *testing.T) {
		out := GenerateStrategies(specs, req, map[GPUType]BackfillProbe{})
		require.Len(t, out, 1)
		assert.Equal(t, KindDirect, out[0].Kind)
		assert.Equal(t, noProbeWaitEstimate, out[0].EstimatedWaitSeconds)
	})
}

func TestGenerateStrategies_TwoNodeSplit(t *testing.T) {
	specs := specByType(t, A100_40)
	probes := map[GPUType]BackfillProbe{}

	t.Run("even count above one node splits in half", func(t *testing.T) {
		req := &UserRequest{GPUCount: 8, TotalTimeSeconds: 7200}
		out := GenerateStrategies(specs, req, probes)
		var multi []Strategy
		for _, s := range out {
			if s.Nodes == 2 {
				multi = append(multi, s)
			}
		}
		require.Len(t, multi, 1)
		assert.Equal(t, 4, multi[0].GPUsPerNode)
		assert.Equal(t, MultiNode, multi[0].Topology)
		assert.Equal(t, multi[0].GPUsPerNode*multi[0].Nodes, req.GPUCount)
	})

	t.Run("odd counts never split", func(t *testing.T) {
		req := &UserRequest{GPUCount: 3, TotalTimeSeconds: 7200}
		out := GenerateStrategies(specs, req, probes)
		for _, s := range out {
			assert.Equal(t, 1, s.Nodes, "strategy %s", s.Label)
		}
	})
}

func TestGenerateStrategies_Specials(t *testing.T) {
	t.Run("mig for a single gpu", func(t *testing.T) {
		specs := specByType(t, MIG)
		out := GenerateStrategies(specs, &UserRequest{GPUCount: 1, TotalTimeSeconds: 7200}, nil)
		require.Len(t, out, 1)
		assert.Equal(t, KindMIG, out[0].Kind)
		assert.True(t, out[0].BackfillEligible)
	})

	t.Run("mig never serves multi-gpu", func(t *testing.T) {
		specs := specByType(t, MIG)
		out := GenerateStrategies(specs, &UserRequest{GPUCount: 2, TotalTimeSeconds: 7200}, nil)
		assert.Empty(t, out)
	})

	t.Run("interactive within pool limits", func(t *testing.T) {
		specs := specByType(t, RTX3090)
		out := GenerateStrategies(specs, &UserRequest{GPUCount: 2, TotalTimeSeconds: 7200}, nil)
		require.Len(t, out, 1)
		assert.Equal(t, KindInteractive, out[0].Kind)
	})

	t.Run("interactive rejects over-long requests", func(t *testing.T) {
		specs := specByType(t, RTX3090)
		out := GenerateStrategies(specs, &UserRequest{GPUCount: 2, TotalTimeSeconds: 2 * 86400}, nil)
		assert.Empty(t, out)
	})
}

func TestGenerateStrategies_IDsAreSequential(t *testing.T) {
	specs := specByType(t, A6000, A40)
	out := GenerateStrategies(specs, &UserRequest{GPUCount: 2, TotalTimeSeconds: 7200}, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "s01", out[0].ID)
	assert.Equal(t, "s02", out[1].ID)
}

func TestEstimatedWait(t *testing.T) {
	assert.Equal(t, backfillWaitEstimate, estimatedWait(true, 7200, 3600))
	assert.Equal(t, noProbeWaitEstimate, estimatedWait(false, 7200, 0))
	// twice the ceiling waits roughly two scheduling windows
	assert.Equal(t, 7200, estimatedWait(false, 7200, 3600))
	assert.Equal(t, maxWaitEstimate, estimatedWait(false, 100*86400, 3600))
}
