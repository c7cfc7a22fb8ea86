package alloc

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charliemeyer2000/rv/slurm"
)

// coarseGrid is the first-pass walltime grid for backfill probing. The odd
// 2:59 entry sits just under a common 3-hour backfill policy boundary.
var coarseGrid = []int{1800, 3600, 7200, 10740, 14400, 21600}

const (
	// backfillImmediacy is how soon a probed start must be to count as
	// "starts now".
	backfillImmediacy = 300 * time.Second
	// refineStep is the walltime granularity of the cliff refinement pass.
	refineStep = 900
)

// BackfillProbe is the per-type outcome of the dry-run sweep, collapsed to
// the largest walltime that still starts immediately.
type BackfillProbe struct {
	MaxBackfillSeconds int
	FullyBackfillable  bool // every probed walltime backfilled, no cliff found
	Probed             bool
}

type probeSite struct {
	gpuType  GPUType
	walltime int
}

// ProbeBackfill sweeps every compatible non-instant GPU type across the
// coarse grid in one batched remote call, then refines any cliff at
// 15-minute steps in a second batched call.
func ProbeBackfill(ctx context.Context, sched Scheduler, specs []GPUSpec, req *UserRequest, now time.Time) (map[GPUType]BackfillProbe, error) {
	var reqs []slurm.ProbeRequest
	var sites []probeSite
	for _, spec := range specs {
		if spec.IsMIG || spec.Interactive {
			continue
		}
		perNode, nodes := probeGPUsPerNode(spec, req.GPUCount)
		for _, w := range coarseGrid {
			if w > spec.MaxWalltimeSecs {
				continue
			}
			reqs = append(reqs, probeRequest(spec, req, perNode, nodes, w))
			sites = append(sites, probeSite{gpuType: spec.Type, walltime: w})
		}
	}

	results := map[GPUType]BackfillProbe{}
	if len(reqs) == 0 {
		return results, nil
	}
	starts, err := sched.ProbeBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	byType := map[GPUType][]outcome{}
	for i, site := range sites {
		byType[site.gpuType] = append(byType[site.gpuType], outcome{
			walltime: site.walltime,
			backfill: backfills(starts[i], now),
		})
	}

	// second pass: refine each type that showed a cliff
	var refineReqs []slurm.ProbeRequest
	var refineSites []probeSite
	for _, spec := range specs {
		outs, ok := byType[spec.Type]
		if !ok {
			continue
		}
		lo, hi := cliff(outs)
		switch {
		case hi < 0: // everything backfilled
			results[spec.Type] = BackfillProbe{MaxBackfillSeconds: lo, FullyBackfillable: true, Probed: true}
		case lo == 0: // nothing backfilled
			results[spec.Type] = BackfillProbe{Probed: true}
		default:
			results[spec.Type] = BackfillProbe{MaxBackfillSeconds: lo, Probed: true}
			perNode, nodes := probeGPUsPerNode(spec, req.GPUCount)
			for w := lo + refineStep; w < hi; w += refineStep {
				refineReqs = append(refineReqs, probeRequest(spec, req, perNode, nodes, w))
				refineSites = append(refineSites, probeSite{gpuType: spec.Type, walltime: w})
			}
		}
	}
	if len(refineReqs) == 0 {
		return results, nil
	}

	starts, err = sched.ProbeBatch(ctx, refineReqs)
	if err != nil {
		// refinement is an optimization: the coarse ceiling is already valid
		logrus.Warnf("backfill refinement pass failed, using coarse ceilings: %v", err)
		return results, nil
	}
	for i, site := range refineSites {
		if !backfills(starts[i], now) {
			continue
		}
		p := results[site.gpuType]
		if site.walltime > p.MaxBackfillSeconds {
			p.MaxBackfillSeconds = site.walltime
			results[site.gpuType] = p
		}
	}
	return results, nil
}

func probeRequest(spec GPUSpec, req *UserRequest, perNode, nodes, walltime int) slurm.ProbeRequest {
	return slurm.ProbeRequest{
		Partition:       spec.Partition,
		Gres:            fmt.Sprintf("gpu:%s:%d", spec.GresName, perNode),
		GPUsPerNode:     perNode,
		Nodes:           nodes,
		WalltimeSeconds: walltime,
		Account:         req.Account,
		Features:        spec.Features,
	}
}

func backfills(start *time.Time, now time.Time) bool {
	return start != nil && start.Sub(now) < backfillImmediacy
}

type outcome struct {
	walltime int
	backfill bool
}

// cliff returns the largest backfillable walltime and the smallest
// non-backfillable one. hi < 0 means no cliff (all backfilled); lo == 0
// means nothing backfilled.
func cliff(outs []outcome) (lo, hi int) {
	hi = -1
	for _, o := range outs {
		if o.backfill {
			if o.walltime > lo {
				lo = o.walltime
			}
		} else if hi < 0 || o.walltime < hi {
			hi = o.walltime
		}
	}
	return lo, hi
}
