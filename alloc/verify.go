package alloc

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Verification compares the winning allocation's hardware against the
// strategy that requested it.
type Verification struct {
	ObservedLabel string
	ObservedCount int
	Mismatch      bool
	Warnings      []string
}

var nodeGresRe = regexp.MustCompile(`gpu:([A-Za-z0-9_.]+):(\d+)`)

// VerifyAllocation queries the winner's first node and checks the GPU label.
// The bare "a100" node label is ambiguous between the 40 and 80 GB variants
// and matches either; an explicit mismatched variant is flagged. Topology
// hazards (multi-node without a fast interconnect, multi-GPU without NVLink)
// surface as warnings, not failures.
func VerifyAllocation(ctx context.Context, sched Scheduler, table []GPUSpec, winner *Submission) (*Verification, error) {
	v := &Verification{}
	spec, ok := SpecFor(table, winner.Strategy.GPUType)
	if !ok {
		return nil, fmt.Errorf("no spec for gpu type %s", winner.Strategy.GPUType)
	}

	if len(winner.Nodes) > 0 {
		gres, err := sched.NodeGres(ctx, winner.Nodes[0])
		if err != nil {
			// verification is best-effort once the job is running
			logrus.Warnf("could not verify node %s: %v", winner.Nodes[0], err)
		} else if m := nodeGresRe.FindStringSubmatch(gres); m != nil {
			v.ObservedLabel = m[1]
			v.ObservedCount, _ = strconv.Atoi(m[2])
			v.Mismatch = labelMismatch(v.ObservedLabel, spec.GresName)
		}
	}

	if winner.Strategy.Nodes > 1 && !spec.InfiniBand {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("multi-node job on partition %s without a high-bandwidth interconnect; expect slow gradient sync", spec.Partition))
	}
	if winner.Strategy.GPUsPerNode > 1 && !spec.NVLink {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("multi-GPU job on partition %s without NVLink; peer-to-peer bandwidth is limited", spec.Partition))
	}
	return v, nil
}

func labelMismatch(observed, requested string) bool {
	if observed == requested {
		return false
	}
	// "a100" could be either variant; only a concrete wrong variant mismatches
	if observed == "a100" && strings.HasPrefix(requested, "a100") {
		return false
	}
	return true
}
