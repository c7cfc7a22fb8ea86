package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// retainRequests bounds how long request history is kept.
const retainRequests = 7 * 24 * time.Hour

// SubmittedJob records one strategy's submission inside a request.
type SubmittedJob struct {
	JobID       string `json:"jobId"`
	GPUType     string `json:"gpuType"`
	Partition   string `json:"partition"`
	Topology    string `json:"topology"` // single-node or multi-node
	Checkpoint  bool   `json:"checkpoint"`
	GPUsPerNode int    `json:"gpusPerNode"`
	Nodes       int    `json:"nodes"`
}

// RequestRecord is the persistent trace of one logical allocation request.
type RequestRecord struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Jobs         []SubmittedJob `json:"jobs"`
	WinnerJobID  string         `json:"winnerJobId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	Branch       string         `json:"branch,omitempty"`
	Commit       string         `json:"commit,omitempty"`
	Dirty        bool           `json:"dirty,omitempty"`
	SnapshotPath string         `json:"snapshotPath,omitempty"`
}

// Requests is ~/.rv/requests.json.
type Requests struct {
	Records []RequestRecord `json:"requests"`

	path string
	now  func() time.Time
}

// LoadRequests reads the request history.
func LoadRequests() (*Requests, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "requests.json")
	r := &Requests{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

// NewID returns a fresh client-generated request id.
func NewID() string { return uuid.NewString() }

// Add appends a record and persists; records older than the retention window
// are pruned on every write.
func (r *Requests) Add(rec RequestRecord) error {
	r.Records = append(r.Records, rec)
	return r.save()
}

// SetWinner marks the winning job on an existing record and persists.
func (r *Requests) SetWinner(requestID, jobID string) error {
	for i := range r.Records {
		if r.Records[i].ID == requestID {
			r.Records[i].WinnerJobID = jobID
		}
	}
	return r.save()
}

func (r *Requests) save() error {
	cutoff := r.now().Add(-retainRequests)
	kept := r.Records[:0]
	for _, rec := range r.Records {
		if rec.CreatedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	r.Records = kept
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(r.path, data, 0o600)
}
