package engine

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TargetSource yields the current set of routing candidates. Targets
// are treated as a read-only snapshot for the duration of one decision.
type TargetSource interface {
	ListAll(ctx context.Context) ([]Target, error)
}

// CounterStore tracks per-target accepts for the current UTC day.
// GetMany returns counts in input order, 0 for absent counters.
// IncrementAndExpire must be a single atomic operation at the store:
// concurrent increments are never lost.
type CounterStore interface {
	GetMany(ctx context.Context, ids []string) ([]int64, error)
	IncrementAndExpire(ctx context.Context, id string, ttl time.Duration) (int64, error)
}

// Outcome classifies a decision for logs and metrics. Externally both
// non-selected outcomes serialize to the same "reject" string.
type Outcome string

const (
	OutcomeSelected   Outcome = "selected"
	OutcomeNoMatch    Outcome = "no_match"
	OutcomeAtCapacity Outcome = "at_capacity"
)

// Decision is the result of one routing request.
type Decision struct {
	Outcome Outcome
	URL     string
}

// Rejected is the wire value for any non-selected decision.
const Rejected = "reject"

// String returns the external decision value: the selected URL, or
// "reject". Callers cannot distinguish no-match from at-capacity here;
// that collapse is part of the response contract.
func (d Decision) String() string {
	if d.Outcome == OutcomeSelected {
		return d.URL
	}
	return Rejected
}

// Engine selects one eligible target per request, enforcing each
// target's daily accept cap through the counter store. It holds no
// state of its own; all cross-request coordination is the counter
// store's atomicity.
type Engine struct {
	targets  TargetSource
	counters CounterStore
	now      func() time.Time
}

func New(targets TargetSource, counters CounterStore) *Engine {
	return &Engine{targets: targets, counters: counters, now: time.Now}
}

// Decide picks the highest-value eligible target with remaining daily
// capacity for the given visitor state and time. geoState is assumed
// pre-validated (exactly two characters); at must be a valid time.
//
// The capacity check and the commit are two separate store operations,
// so concurrent requests racing near a cap can overshoot it. The cap
// is a soft daily limit; the increment itself is atomic, so the
// counter never under-counts.
//
// If the commit fails after a candidate was selected, the decision is
// returned together with the error: the caller decides whether to
// surface the URL or the failure.
func (e *Engine) Decide(ctx context.Context, geoState string, at time.Time) (Decision, error) {
	hour := strconv.Itoa(at.UTC().Hour())
	geoState = strings.ToLower(geoState)

	all, err := e.targets.ListAll(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("list targets: %w", err)
	}

	var eligible []Target
	for _, t := range all {
		if t.matches(geoState, hour) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return Decision{Outcome: OutcomeNoMatch}, nil
	}

	rank(eligible)

	// One batched read for every ranked candidate, so a decision costs
	// a single round-trip to the counter store regardless of how many
	// candidates are in play.
	ids := make([]string, len(eligible))
	for i, t := range eligible {
		ids[i] = string(t.ID)
	}
	counts, err := e.counters.GetMany(ctx, ids)
	if err != nil {
		return Decision{}, fmt.Errorf("read accept counts: %w", err)
	}

	for i, t := range eligible {
		// NaN cap compares false and skips the target.
		if !(t.dailyCap() > float64(counts[i])) {
			continue
		}
		d := Decision{Outcome: OutcomeSelected, URL: t.URL}
		if _, err := e.counters.IncrementAndExpire(ctx, string(t.ID), untilNextUTCMidnight(e.now())); err != nil {
			return d, fmt.Errorf("commit accept for target %s: %w", t.ID, err)
		}
		return d, nil
	}

	return Decision{Outcome: OutcomeAtCapacity}, nil
}

// rank orders candidates by numeric value descending, non-numeric
// values last. The sort is stable, so ties keep target-store order.
func rank(ts []Target) {
	slices.SortStableFunc(ts, func(a, b Target) int {
		av, bv := a.value(), b.value()
		switch {
		case math.IsNaN(av) && math.IsNaN(bv):
			return 0
		case math.IsNaN(av):
			return 1
		case math.IsNaN(bv):
			return -1
		}
		return cmp.Compare(bv, av)
	})
}

// untilNextUTCMidnight is the counter TTL: it shrinks as the day
// progresses so every counter dies at the UTC day boundary, not a
// fixed 24h after its last write.
func untilNextUTCMidnight(now time.Time) time.Duration {
	u := now.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(u)
}
