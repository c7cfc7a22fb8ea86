package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliemeyer2000/rv/rverr"
)

// isolateHome points ~ at a temp dir for the duration of a test.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	return home
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("v1"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("v2"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// no temp droppings left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfig_RoundTrip(t *testing.T) {
	isolateHome(t)

	cfg := &Config{
		Connection: ConnectionConfig{HostAlias: "cluster", User: "abc5xy", Hostname: "login01"},
		Defaults:   DefaultsConfig{Account: "acct1", Time: "4h"},
		Paths:      PathsConfig{Scratch: "/scratch/abc5xy", Home: "/home/abc5xy"},
	}
	require.NoError(t, SaveConfig(cfg))

	got, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.Connection, got.Connection)
	assert.Equal(t, cfg.Defaults, got.Defaults)

	path, err := ConfigPath()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "config may hold a notification token")
}

func TestLoadConfig_Missing(t *testing.T) {
	isolateHome(t)

	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, rverr.IsKind(err, rverr.KindNotInitialized))
	assert.Contains(t, err.Error(), "rv init")
}

func TestLoadConfig_Malformed(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".rv")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not [toml"), 0o600))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, rverr.IsKind(err, rverr.KindConfig))
}

func TestEnvStore(t *testing.T) {
	isolateHome(t)

	s, err := LoadEnv()
	require.NoError(t, err)
	require.NoError(t, s.Set("HF_TOKEN", "t1"))
	require.NoError(t, s.Set("WANDB_API_KEY", "k"))
	require.NoError(t, s.Unset("HF_TOKEN"))

	got, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"WANDB_API_KEY": "k"}, got.Vars)
}

func TestForwards_PruneDeadPIDs(t *testing.T) {
	isolateHome(t)

	orig := pidAlive
	pidAlive = func(pid int) bool { return pid == 100 }
	t.Cleanup(func() { pidAlive = orig })

	f, err := LoadForwards()
	require.NoError(t, err)
	require.NoError(t, f.Add(TunnelEntry{PID: 100, JobID: "1", LocalPort: 8888, StartedAt: time.Now()}))
	require.NoError(t, f.Add(TunnelEntry{PID: 200, JobID: "2", LocalPort: 8889, StartedAt: time.Now()}))

	got, err := LoadForwards()
	require.NoError(t, err)
	require.Len(t, got.Entries, 1, "dead pid must be pruned on load")
	assert.Equal(t, 100, got.Entries[0].PID)

	// the prune persisted: a load with every pid alive still sees one entry
	pidAlive = func(int) bool { return true }
	again, err := LoadForwards()
	require.NoError(t, err)
	assert.Len(t, again.Entries, 1)
}

func TestRequests_RetentionPruning(t *testing.T) {
	isolateHome(t)

	r, err := LoadRequests()
	require.NoError(t, err)

	now := time.Now()
	r.now = func() time.Time { return now }
	require.NoError(t, r.Add(RequestRecord{ID: "old", CreatedAt: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, r.Add(RequestRecord{ID: "fresh", CreatedAt: now.Add(-time.Hour)}))

	got, err := LoadRequests()
	require.NoError(t, err)
	require.Len(t, got.Records, 1, "records past the retention window are dropped on write")
	assert.Equal(t, "fresh", got.Records[0].ID)
}

func TestRequests_SetWinner(t *testing.T) {
	isolateHome(t)

	r, err := LoadRequests()
	require.NoError(t, err)
	id := NewID()
	require.NotEmpty(t, id)
	require.NoError(t, r.Add(RequestRecord{
		ID:        id,
		Name:      "rv-main",
		CreatedAt: time.Now(),
		Jobs: []SubmittedJob{
			{JobID: "101", GPUType: "a6000", Topology: "single-node"},
			{JobID: "102", GPUType: "a100_40", Topology: "single-node"},
		},
	}))
	require.NoError(t, r.SetWinner(id, "102"))

	got, err := LoadRequests()
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "102", got.Records[0].WinnerJobID)
}
