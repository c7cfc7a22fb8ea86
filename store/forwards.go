package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// TunnelEntry is one live port forward: the ssh -L process pid plus the
// endpoints it connects.
type TunnelEntry struct {
	PID        int       `json:"pid"`
	JobID      string    `json:"jobId"`
	LocalPort  int       `json:"localPort"`
	RemotePort int       `json:"remotePort"`
	Node       string    `json:"node"`
	StartedAt  time.Time `json:"startedAt"`
}

// Forwards is ~/.rv/forwards.json. Stale entries (pid gone) are pruned on
// every load.
type Forwards struct {
	Entries []TunnelEntry `json:"forwards"`

	path string
}

// pidAlive probes a pid with signal 0.
var pidAlive = func(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// LoadForwards reads the registry, pruning dead entries. Pruning writes back
// only when something was removed.
func LoadForwards() (*Forwards, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "forwards.json")
	f := &Forwards{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}

	kept := f.Entries[:0]
	for _, e := range f.Entries {
		if pidAlive(e.PID) {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(f.Entries) {
		f.Entries = kept
		if err := f.save(); err != nil {
			return nil, err
		}
	}
	f.Entries = kept
	return f, nil
}

// Add registers a tunnel and persists.
func (f *Forwards) Add(e TunnelEntry) error {
	f.Entries = append(f.Entries, e)
	return f.save()
}

// Remove drops the entry with the given pid and persists.
func (f *Forwards) Remove(pid int) error {
	kept := f.Entries[:0]
	for _, e := range f.Entries {
		if e.PID != pid {
			kept = append(kept, e)
		}
	}
	f.Entries = kept
	return f.save()
}

func (f *Forwards) save() error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(f.path, data, 0o600)
}
