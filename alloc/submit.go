package alloc

import (
	"context"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/charliemeyer2000/rv/rverr"
	"github.com/charliemeyer2000/rv/slurm"
)

// Submission is a strategy the scheduler has accepted.
type Submission struct {
	Strategy Strategy
	JobID    string
	State    slurm.JobState
	Nodes    []string
}

// ScriptFunc renders the batch script for one strategy.
type ScriptFunc func(Strategy) (string, error)

// SubmitAll fans every strategy out to the scheduler concurrently and joins
// on all-settled: per-strategy failures are collected, not fatal. The env
// file is written right after each submission returns its job id so the
// script finds it at startup. Fails only when nothing submitted.
func SubmitAll(ctx context.Context, sched Scheduler, synthesize ScriptFunc, strategies []Strategy, envVars map[string]string) ([]*Submission, error) {
	results := make([]*Submission, len(strategies))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for i := range strategies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			strat := strategies[i]
			sub, err := submitOne(ctx, sched, synthesize, strat, envVars)
			if err != nil {
				logrus.Warnf("strategy %s (%s) failed to submit: %v", strat.ID, strat.Label, err)
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return
			}
			results[i] = sub
		}(i)
	}
	wg.Wait()

	subs := make([]*Submission, 0, len(results))
	for _, s := range results {
		if s != nil {
			subs = append(subs, s)
		}
	}
	if len(subs) == 0 {
		return nil, rverr.Wrap(rverr.KindAllocator, "alloc.submit", errs.ErrorOrNil(), "all %d strategies failed to submit", len(strategies))
	}
	return subs, nil
}

func submitOne(ctx context.Context, sched Scheduler, synthesize ScriptFunc, strat Strategy, envVars map[string]string) (*Submission, error) {
	script, err := synthesize(strat)
	if err != nil {
		return nil, err
	}
	jobID, err := sched.Submit(ctx, script)
	if err != nil {
		return nil, err
	}
	if len(envVars) > 0 {
		if err := sched.WriteEnvFile(ctx, jobID, envVars); err != nil {
			// the script tolerates a missing env file; warn and continue
			logrus.Warnf("env file for job %s not written: %v", jobID, err)
		}
	}
	logrus.Infof("submitted %s as job %s", strat.Label, jobID)
	return &Submission{Strategy: strat, JobID: jobID, State: slurm.StatePending}, nil
}

// LiveJobIDs returns the ids of submissions that could still run, for
// cancellation on interrupt or after a winner is found.
func LiveJobIDs(subs []*Submission) []string {
	var ids []string
	for _, s := range subs {
		if s.State == slurm.StatePending || s.State == slurm.StateRunning {
			ids = append(ids, s.JobID)
		}
	}
	return ids
}
