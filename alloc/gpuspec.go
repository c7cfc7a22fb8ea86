// Package alloc is the allocation engine: it probes the scheduler's backfill
// behavior, enumerates viable submission strategies for a request, fans them
// out concurrently, monitors the race, and verifies the winner.
package alloc

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// GPUType identifies a hardware class on the cluster.
type GPUType string

const (
	MIG     GPUType = "mig"
	RTX3090 GPUType = "rtx3090"
	A6000   GPUType = "a6000"
	A40     GPUType = "a40"
	A100_40 GPUType = "a100_40"
	A100_80 GPUType = "a100_80"
	V100    GPUType = "v100"
	H200    GPUType = "h200"
)

// GPUSpec is the static description of one hardware class. The table is
// configuration data, never mutated at runtime.
type GPUSpec struct {
	Type            GPUType  `yaml:"type"`
	Partition       string   `yaml:"partition"`
	GresName        string   `yaml:"gres"`       // resource selector, also the node label sinfo reports
	VRAMGB          int      `yaml:"vram_gb"`
	SUPerGPUHour    float64  `yaml:"su_per_gpu_hour"`
	MaxPerUser      int      `yaml:"max_per_user"`
	MaxPerJob       int      `yaml:"max_per_job"`
	MaxWalltimeSecs int      `yaml:"max_walltime_seconds"`
	PerNode         int      `yaml:"per_node"`
	NodeMemGB       int      `yaml:"node_mem_gb"`
	Features        []string `yaml:"features,omitempty"`
	InfiniBand      bool     `yaml:"infiniband"`
	NVLink          bool     `yaml:"nvlink"`
	Interactive     bool     `yaml:"interactive"`
	IsMIG           bool     `yaml:"mig"`
}

const (
	day = 86400
)

// gpuTable is the built-in hardware inventory, overridable per entry through
// ~/.rv/gputypes.yaml.
var gpuTable = []GPUSpec{
	{Type: MIG, Partition: "gpu", GresName: "a100_1g.10gb", VRAMGB: 10, SUPerGPUHour: 0,
		MaxPerUser: 4, MaxPerJob: 1, MaxWalltimeSecs: 3 * day, PerNode: 8, NodeMemGB: 128, IsMIG: true},
	{Type: RTX3090, Partition: "interactive", GresName: "rtx3090", VRAMGB: 24, SUPerGPUHour: 0.33,
		MaxPerUser: 4, MaxPerJob: 2, MaxWalltimeSecs: 12 * 3600, PerNode: 4, NodeMemGB: 256, Interactive: true},
	{Type: A6000, Partition: "gpu", GresName: "a6000", VRAMGB: 48, SUPerGPUHour: 1.0,
		MaxPerUser: 8, MaxPerJob: 4, MaxWalltimeSecs: 3 * day, PerNode: 8, NodeMemGB: 512, NVLink: true},
	{Type: A40, Partition: "gpu", GresName: "a40", VRAMGB: 48, SUPerGPUHour: 1.0,
		MaxPerUser: 8, MaxPerJob: 4, MaxWalltimeSecs: 3 * day, PerNode: 4, NodeMemGB: 512},
	{Type: A100_40, Partition: "gpu", GresName: "a100", VRAMGB: 40, SUPerGPUHour: 2.0,
		MaxPerUser: 8, MaxPerJob: 4, MaxWalltimeSecs: 3 * day, PerNode: 8, NodeMemGB: 1024, InfiniBand: true, NVLink: true},
	{Type: A100_80, Partition: "gpu", GresName: "a100_80", VRAMGB: 80, SUPerGPUHour: 3.0,
		MaxPerUser: 8, MaxPerJob: 4, MaxWalltimeSecs: 3 * day, PerNode: 8, NodeMemGB: 2048, InfiniBand: true, NVLink: true},
	{Type: V100, Partition: "gpu", GresName: "v100", VRAMGB: 32, SUPerGPUHour: 0.75,
		MaxPerUser: 8, MaxPerJob: 4, MaxWalltimeSecs: 3 * day, PerNode: 4, NodeMemGB: 384},
	{Type: H200, Partition: "gpu-h200", GresName: "h200", VRAMGB: 141, SUPerGPUHour: 6.0,
		MaxPerUser: 2, MaxPerJob: 2, MaxWalltimeSecs: 1 * day, PerNode: 8, NodeMemGB: 2048,
		Features: []string{"h200"}, InfiniBand: true, NVLink: true},
}

// GPUTable returns the built-in table, with overrides from overlayPath
// applied when the file exists. Overlay entries replace whole specs by type.
func GPUTable(overlayPath string) ([]GPUSpec, error) {
	table := make([]GPUSpec, len(gpuTable))
	copy(table, gpuTable)
	if overlayPath == "" {
		return table, nil
	}
	data, err := os.ReadFile(overlayPath)
	if os.IsNotExist(err) {
		return table, nil
	}
	if err != nil {
		return nil, err
	}
	var overlay struct {
		Types []GPUSpec `yaml:"types"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing gpu overlay %s: %w", overlayPath, err)
	}
	for _, o := range overlay.Types {
		replaced := false
		for i := range table {
			if table[i].Type == o.Type {
				table[i] = o
				replaced = true
			}
		}
		if !replaced {
			table = append(table, o)
		}
	}
	return table, nil
}

// SpecFor looks a type up in the table.
func SpecFor(table []GPUSpec, t GPUType) (GPUSpec, bool) {
	for _, s := range table {
		if s.Type == t {
			return s, true
		}
	}
	return GPUSpec{}, false
}

// CompatibleTypes filters the table down to the classes that can serve the
// request, either on a single node or as a two-node split.
func CompatibleTypes(table []GPUSpec, req *UserRequest) []GPUSpec {
	var out []GPUSpec
	for _, spec := range table {
		if req.GPUType != "" && spec.Type != req.GPUType {
			continue
		}
		if spec.VRAMGB < req.VRAMMinGB {
			continue
		}
		if req.GPUCount > spec.MaxPerUser {
			continue
		}
		switch {
		case spec.IsMIG:
			if req.GPUCount != 1 {
				continue
			}
		case spec.Interactive:
			if req.GPUCount > spec.MaxPerJob {
				continue
			}
		default:
			singleNode := req.GPUCount <= spec.MaxPerJob
			// two-node splits are even only, so gpusPerNode*2 matches the
			// request exactly
			twoNode := req.GPUCount >= 4 && req.GPUCount%2 == 0 &&
				req.GPUCount/2 <= spec.PerNode
			if !singleNode && !twoNode {
				continue
			}
		}
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}
