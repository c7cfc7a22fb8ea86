package alloc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatibleTypes(t *testing.T) {
	table, err := GPUTable("")
	require.NoError(t, err)

	t.Run("four gpus, any type", func(t *testing.T) {
		// MIG serves single-GPU only, the interactive pool caps at 2 per
		// job, and the newest type caps at 2 per user
		specs := CompatibleTypes(table, &UserRequest{GPUCount: 4})
		got := make([]GPUType, len(specs))
		for i, s := range specs {
			got[i] = s.Type
		}
		assert.Equal(t, []GPUType{A100_40, A100_80, A40, A6000, V100}, got)
	})

	t.Run("explicit type narrows to one", func(t *testing.T) {
		specs := CompatibleTypes(table, &UserRequest{GPUCount: 2, GPUType: A6000})
		require.Len(t, specs, 1)
		assert.Equal(t, A6000, specs[0].Type)
	})

	t.Run("vram floor filters", func(t *testing.T) {
		specs := CompatibleTypes(table, &UserRequest{GPUCount: 1, VRAMMinGB: 60})
		for _, s := range specs {
			assert.GreaterOrEqual(t, s.VRAMGB, 60, "type %s", s.Type)
		}
		require.NotEmpty(t, specs)
	})

	t.Run("single gpu includes the mig slice", func(t *testing.T) {
		specs := CompatibleTypes(table, &UserRequest{GPUCount: 1})
		found := false
		for _, s := range specs {
			if s.Type == MIG {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("count above every per-user cap yields nothing", func(t *testing.T) {
		specs := CompatibleTypes(table, &UserRequest{GPUCount: 64})
		assert.Empty(t, specs)
	})

	t.Run("two-node split admits counts above the per-job cap", func(t *testing.T) {
		// 8 GPUs exceeds MaxPerJob=4 everywhere but splits as 4+4
		specs := CompatibleTypes(table, &UserRequest{GPUCount: 8})
		require.NotEmpty(t, specs)
		for _, s := range specs {
			assert.GreaterOrEqual(t, s.PerNode, 4, "type %s", s.Type)
		}
	})

	t.Run("odd count above the per-job cap yields nothing", func(t *testing.T) {
		// 5 has no even two-node split, so no type can place it
		specs := CompatibleTypes(table, &UserRequest{GPUCount: 5})
		assert.Empty(t, specs)
	})
}

func TestGPUTable_Overlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gputypes.yaml")
	overlay := `types:
  - type: v100
    partition: gpu-old
    gres: v100
    vram_gb: 32
    su_per_gpu_hour: 0.5
    max_per_user: 16
    max_per_job: 8
    max_walltime_seconds: 259200
    per_node: 8
    node_mem_gb: 384
  - type: l40s
    partition: gpu
    gres: l40s
    vram_gb: 48
    su_per_gpu_hour: 1.5
    max_per_user: 8
    max_per_job: 4
    max_walltime_seconds: 259200
    per_node: 4
    node_mem_gb: 512
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	table, err := GPUTable(path)
	require.NoError(t, err)

	v100, ok := SpecFor(table, V100)
	require.True(t, ok)
	assert.Equal(t, "gpu-old", v100.Partition, "overlay replaces the whole spec")
	assert.Equal(t, 16, v100.MaxPerUser)

	l40s, ok := SpecFor(table, GPUType("l40s"))
	require.True(t, ok, "unknown overlay types are appended")
	assert.Equal(t, 48, l40s.VRAMGB)

	// missing overlay file falls back to the built-in table
	fallback, err := GPUTable(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, fallback, len(gpuTable))
}
