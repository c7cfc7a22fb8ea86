package alloc

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/charliemeyer2000/rv/rverr"
	"github.com/charliemeyer2000/rv/slurm"
)

// Monitor polls the live listing until one submission wins the race, then
// cancels the rest before returning. Zero-value fields fall back to the
// defaults below.
type Monitor struct {
	Scheduler Scheduler

	Initial       time.Duration // first poll interval (default 2s)
	Multiplier    float64       // backoff multiplier (default 1.5)
	MaxInterval   time.Duration // interval cap (default 10s)
	Timeout       time.Duration // overall ceiling (default 2h)
	HistoryWindow time.Duration // accounting lookback for vanished jobs (default 1h)

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is the outcome of a monitored race.
type Result struct {
	Winner         *Submission
	Submissions    []*Submission
	AllocationTime time.Duration
}

func (m *Monitor) defaults() {
	if m.Initial == 0 {
		m.Initial = 2 * time.Second
	}
	if m.Multiplier == 0 {
		m.Multiplier = 1.5
	}
	if m.MaxInterval == 0 {
		m.MaxInterval = 10 * time.Second
	}
	if m.Timeout == 0 {
		m.Timeout = 2 * time.Hour
	}
	if m.HistoryWindow == 0 {
		m.HistoryWindow = time.Hour
	}
	if m.Now == nil {
		m.Now = time.Now
	}
	if m.Sleep == nil {
		m.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
}

// Run drives the polling loop. Submissions are mutated in place; once a
// submission leaves PENDING/RUNNING it never re-enters. Losers are cancelled
// in one remote call before Run returns, so a caller never sees a winner
// alongside pending siblings.
func (m *Monitor) Run(ctx context.Context, subs []*Submission) (*Result, error) {
	m.defaults()
	start := m.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.Initial
	bo.Multiplier = m.Multiplier
	bo.MaxInterval = m.MaxInterval
	bo.MaxElapsedTime = m.Timeout
	bo.RandomizationFactor = 0
	bo.Reset()

	for {
		winner, err := m.poll(ctx, subs)
		if err != nil {
			return nil, err
		}
		if winner != nil {
			if err := m.cancelLosers(ctx, subs, winner); err != nil {
				return nil, err
			}
			return &Result{
				Winner:         winner,
				Submissions:    subs,
				AllocationTime: m.Now().Sub(start),
			}, nil
		}
		if allDead(subs) {
			return nil, rverr.New(rverr.KindAllocator, "alloc.monitor",
				"every submission reached a terminal state without starting")
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			return nil, rverr.New(rverr.KindAllocator, "alloc.monitor",
				"timed out after %s waiting for a strategy to start", m.Timeout)
		}
		if err := m.Sleep(ctx, next); err != nil {
			return nil, err
		}
	}
}

// poll refreshes every submission from one live listing and returns the
// winner if one is observed. Connection errors are not retried here; they
// surface with an actionable message.
func (m *Monitor) poll(ctx context.Context, subs []*Submission) (*Submission, error) {
	jobs, err := m.Scheduler.ListJobs(ctx)
	if err != nil {
		if rverr.IsKind(err, rverr.KindConnection) {
			return nil, rverr.Wrap(rverr.KindConnection, "alloc.monitor", err,
				"lost connection while waiting; check VPN or re-run setup")
		}
		return nil, err
	}
	live := make(map[string]slurm.Job, len(jobs))
	for _, j := range jobs {
		live[j.ID] = j
	}

	var vanished []*Submission
	for _, sub := range subs {
		if sub.State.Terminal() || sub.State == slurm.StateCancelled {
			continue
		}
		j, ok := live[sub.JobID]
		if !ok {
			vanished = append(vanished, sub)
			continue
		}
		sub.State = j.State
		sub.Nodes = j.Nodes
	}

	if len(vanished) > 0 {
		if err := m.reconcile(ctx, vanished); err != nil {
			return nil, err
		}
	}

	// lowest index wins within a snapshot
	for _, sub := range subs {
		if sub.State == slurm.StateRunning || sub.State == slurm.StateCompleted {
			return sub, nil
		}
	}
	return nil, nil
}

// reconcile resolves submissions that dropped out of the live listing by
// consulting accounting. Fast jobs can complete between polls; accounting
// lag leaves the state untouched until a later tick.
func (m *Monitor) reconcile(ctx context.Context, vanished []*Submission) error {
	since := m.Now().Add(-m.HistoryWindow)
	records, err := m.Scheduler.ListHistory(ctx, since)
	if err != nil {
		if rverr.IsKind(err, rverr.KindConnection) {
			return rverr.Wrap(rverr.KindConnection, "alloc.monitor", err,
				"lost connection while waiting; check VPN or re-run setup")
		}
		return err
	}
	byID := make(map[string]slurm.Accounting, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	for _, sub := range vanished {
		rec, ok := byID[sub.JobID]
		if !ok {
			logrus.Debugf("job %s vanished but accounting has no record yet", sub.JobID)
			continue
		}
		if rec.State == slurm.StateCompleted {
			sub.State = slurm.StateCompleted
		} else if rec.State.Terminal() {
			sub.State = slurm.StateFailed
		}
		// non-terminal accounting rows (still COMPLETING) resolve next tick
	}
	return nil
}

func (m *Monitor) cancelLosers(ctx context.Context, subs []*Submission, winner *Submission) error {
	var ids []string
	var losers []*Submission
	for _, sub := range subs {
		if sub == winner {
			continue
		}
		if sub.State == slurm.StatePending || sub.State == slurm.StateRunning {
			ids = append(ids, sub.JobID)
			losers = append(losers, sub)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := m.Scheduler.CancelMany(ctx, ids); err != nil {
		return rverr.Wrap(rverr.KindAllocator, "alloc.monitor", err, "winner %s found but losers not cancelled", winner.JobID)
	}
	for _, sub := range losers {
		sub.State = slurm.StateCancelled
	}
	logrus.Infof("winner %s, cancelled %d sibling submissions", winner.JobID, len(ids))
	return nil
}

func allDead(subs []*Submission) bool {
	for _, sub := range subs {
		if sub.State == slurm.StatePending || sub.State == slurm.StateRunning {
			return false
		}
	}
	return true
}
