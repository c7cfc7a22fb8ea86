package alloc

import "sort"

const maxStrategies = 16

// scoring weights
const (
	backfillBase     = 10000.0
	typeMatchBonus   = 500.0
	costWeight       = 2000.0
	checkpointMalus  = 200.0
	migBonus         = 1000.0
	interactiveBonus = 300.0
)

// RankStrategies scores, sorts, and prunes the candidate set. Pruning drops
// dominated candidates only inside the same (gpuType, topology, checkpoint)
// bucket: cross-type diversity is the point of the fan-out, so a cheap slow
// type never shadows an expensive fast one. At most maxStrategies survive.
func RankStrategies(strategies []Strategy, req *UserRequest) []Strategy {
	if len(strategies) == 0 {
		return nil
	}

	maxSU := 0.0
	for _, s := range strategies {
		if s.EstimatedSU > maxSU {
			maxSU = s.EstimatedSU
		}
	}

	scored := make([]Strategy, len(strategies))
	copy(scored, strategies)
	for i := range scored {
		scored[i].Score = score(&scored[i], req, maxSU)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	type bucketKey struct {
		gpuType    GPUType
		topology   string
		checkpoint bool
	}
	kept := make([]Strategy, 0, len(scored))
	buckets := map[bucketKey][]Strategy{}
	for _, cand := range scored {
		key := bucketKey{cand.GPUType, cand.Topology, cand.Checkpoint}
		dominated := false
		for _, existing := range buckets[key] {
			if existing.EstimatedWaitSeconds <= cand.EstimatedWaitSeconds &&
				existing.EstimatedSU <= cand.EstimatedSU {
				dominated = true
				break
			}
		}
		if dominated {
			continue
		}
		buckets[key] = append(buckets[key], cand)
		kept = append(kept, cand)
	}

	if len(kept) > maxStrategies {
		kept = kept[:maxStrategies]
	}
	return kept
}

func score(s *Strategy, req *UserRequest, maxSU float64) float64 {
	v := 0.0
	if s.BackfillEligible {
		v += backfillBase
	}
	v -= float64(s.EstimatedWaitSeconds)
	if req.GPUType != "" && s.GPUType == req.GPUType {
		v += typeMatchBonus
	}
	if maxSU > 0 {
		v += costWeight * (1 - s.EstimatedSU/maxSU)
	} else {
		v += costWeight
	}
	if s.Checkpoint {
		v -= checkpointMalus
	}
	switch s.Kind {
	case KindMIG:
		v += migBonus
	case KindInteractive:
		v += interactiveBonus
	}
	return v
}
