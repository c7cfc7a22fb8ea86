package alloc

import (
	"fmt"
)

// Kind tags the submission shape of a strategy.
type Kind string

const (
	KindDirect      Kind = "direct"
	KindBackfill    Kind = "backfill"
	KindCheckpoint  Kind = "checkpoint"
	KindMIG         Kind = "mig"
	KindInteractive Kind = "interactive"
)

// Topology values.
const (
	SingleNode = "single-node"
	MultiNode  = "multi-node"
)

// Strategy is one concrete way to place the request on the cluster.
type Strategy struct {
	ID                   string
	Kind                 Kind
	GPUType              GPUType
	Partition            string
	Gres                 string
	WalltimeSeconds      int
	TimeMinSeconds       int // 0 = no floor; lets the scheduler start the job in a shorter slot
	GPUsPerNode          int
	Nodes                int
	Topology             string
	Checkpoint           bool
	EstimatedSU          float64
	EstimatedWaitSeconds int
	BackfillEligible     bool
	Features             []string
	Label                string
	Score                float64
}

const (
	backfillWaitEstimate = 30    // seconds, a backfilled job starts essentially now
	noProbeWaitEstimate  = 3600  // seconds, when no probe data exists
	maxWaitEstimate      = 86400 // clamp for the extrapolated wait
)

// estimatedWait extrapolates queue wait from the backfill ceiling: a job
// twice the ceiling waits roughly two scheduling windows.
func estimatedWait(backfillEligible bool, walltime, ceiling int) int {
	if backfillEligible {
		return backfillWaitEstimate
	}
	if ceiling <= 0 {
		return noProbeWaitEstimate
	}
	w := int(3600 * float64(walltime) / float64(ceiling))
	if w > maxWaitEstimate {
		return maxWaitEstimate
	}
	return w
}

// estimatedSU prices the requested work: cost tracks the total compute asked
// for, independent of how many segments deliver it.
func estimatedSU(spec GPUSpec, gpuCount, totalSeconds int) float64 {
	return spec.SUPerGPUHour * float64(gpuCount) * float64(totalSeconds) / 3600
}

// GenerateStrategies expands the compatible types into concrete submission
// plans: direct and checkpoint variants on one and two nodes, plus the MIG
// and interactive specials.
func GenerateStrategies(specs []GPUSpec, req *UserRequest, probes map[GPUType]BackfillProbe) []Strategy {
	var out []Strategy
	seq := 0
	add := func(s Strategy) {
		seq++
		s.ID = fmt.Sprintf("s%02d", seq)
		out = append(out, s)
	}

	for _, spec := range specs {
		probe := probes[spec.Type]

		switch {
		case spec.IsMIG:
			if req.GPUCount == 1 && req.VRAMMinGB <= spec.VRAMGB &&
				(req.GPUType == "" || req.GPUType == spec.Type) {
				add(migStrategy(spec, req))
			}
			continue
		case spec.Interactive:
			if req.GPUCount <= spec.MaxPerJob && req.TotalTimeSeconds <= spec.MaxWalltimeSecs &&
				req.VRAMMinGB <= spec.VRAMGB {
				add(interactiveStrategy(spec, req))
			}
			continue
		}

		// direct single-node
		if req.GPUCount <= spec.MaxPerJob && req.TotalTimeSeconds <= spec.MaxWalltimeSecs {
			add(directStrategy(spec, req, probe, req.GPUCount, 1))
		}
		// checkpoint single-node: segment at the backfill ceiling until the
		// cumulative elapsed reaches the requested total
		if req.GPUCount <= spec.MaxPerJob && probe.MaxBackfillSeconds > 0 &&
			req.TotalTimeSeconds > probe.MaxBackfillSeconds {
			add(checkpointStrategy(spec, req, probe, req.GPUCount, 1))
		}

		// two-node split: only for even counts so gpusPerNode*nodes matches
		// the request exactly
		if req.GPUCount >= 4 && req.GPUCount%2 == 0 {
			perNode := req.GPUCount / 2
			if perNode <= spec.PerNode {
				if req.TotalTimeSeconds <= spec.MaxWalltimeSecs {
					add(directStrategy(spec, req, probe, perNode, 2))
				}
				if probe.MaxBackfillSeconds > 0 && req.TotalTimeSeconds > probe.MaxBackfillSeconds {
					add(checkpointStrategy(spec, req, probe, perNode, 2))
				}
			}
		}
	}
	return out
}

func directStrategy(spec GPUSpec, req *UserRequest, probe BackfillProbe, perNode, nodes int) Strategy {
	kind := KindDirect
	backfill := probe.Probed && req.TotalTimeSeconds <= probe.MaxBackfillSeconds
	timeMin := 0
	if backfill {
		kind = KindBackfill
	} else if probe.MaxBackfillSeconds > 0 {
		// the scheduler may start us in a shorter slot down to the ceiling
		timeMin = probe.MaxBackfillSeconds
	}
	s := baseStrategy(spec, req, perNode, nodes)
	s.Kind = kind
	s.WalltimeSeconds = req.TotalTimeSeconds
	s.TimeMinSeconds = timeMin
	s.BackfillEligible = backfill
	s.EstimatedWaitSeconds = waitFor(probe, backfill, req.TotalTimeSeconds)
	s.Label = fmt.Sprintf("%s %dx%d %s %s", spec.Type, nodes, perNode, topology(nodes), kind)
	return s
}

func checkpointStrategy(spec GPUSpec, req *UserRequest, probe BackfillProbe, perNode, nodes int) Strategy {
	s := baseStrategy(spec, req, perNode, nodes)
	s.Kind = KindCheckpoint
	s.Checkpoint = true
	s.WalltimeSeconds = probe.MaxBackfillSeconds
	s.BackfillEligible = true // each segment fits the backfill window
	s.EstimatedWaitSeconds = backfillWaitEstimate
	s.Label = fmt.Sprintf("%s %dx%d %s checkpoint", spec.Type, nodes, perNode, topology(nodes))
	return s
}

func migStrategy(spec GPUSpec, req *UserRequest) Strategy {
	s := baseStrategy(spec, req, 1, 1)
	s.Kind = KindMIG
	s.WalltimeSeconds = minInt(req.TotalTimeSeconds, spec.MaxWalltimeSecs)
	s.BackfillEligible = true // MIG slices start essentially immediately
	s.EstimatedWaitSeconds = backfillWaitEstimate
	s.Label = "mig 1x1 single-node"
	return s
}

func interactiveStrategy(spec GPUSpec, req *UserRequest) Strategy {
	s := baseStrategy(spec, req, req.GPUCount, 1)
	s.Kind = KindInteractive
	s.WalltimeSeconds = req.TotalTimeSeconds
	s.EstimatedWaitSeconds = noProbeWaitEstimate
	s.Label = fmt.Sprintf("rtx3090 1x%d interactive", req.GPUCount)
	return s
}

func baseStrategy(spec GPUSpec, req *UserRequest, perNode, nodes int) Strategy {
	return Strategy{
		GPUType:     spec.Type,
		Partition:   spec.Partition,
		Gres:        fmt.Sprintf("gpu:%s:%d", spec.GresName, perNode),
		GPUsPerNode: perNode,
		Nodes:       nodes,
		Topology:    topology(nodes),
		EstimatedSU: estimatedSU(spec, perNode*nodes, req.TotalTimeSeconds),
		Features:    spec.Features,
	}
}

func waitFor(probe BackfillProbe, backfill bool, walltime int) int {
	if !probe.Probed {
		return noProbeWaitEstimate
	}
	return estimatedWait(backfill, walltime, probe.MaxBackfillSeconds)
}

func topology(nodes int) string {
	if nodes > 1 {
		return MultiNode
	}
	return SingleNode
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
