package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	targets []Target
	err     error
}

func (f *fakeSource) ListAll(context.Context) ([]Target, error) {
	return f.targets, f.err
}

type fakeCounters struct {
	counts   map[string]int64
	getCalls int
	getErr   error
	incrErr  error
	lastTTL  time.Duration
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: map[string]int64{}}
}

func (f *fakeCounters) GetMany(_ context.Context, ids []string) ([]int64, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = f.counts[id]
	}
	return out, nil
}

func (f *fakeCounters) IncrementAndExpire(_ context.Context, id string, ttl time.Duration) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.counts[id]++
	f.lastTTL = ttl
	return f.counts[id], nil
}

func mkTarget(id, url, value, maxAccepts string, geos, hours []string) Target {
	return Target{
		ID:               Scalar(id),
		URL:              url,
		Value:            Scalar(value),
		MaxAcceptsPerDay: Scalar(maxAccepts),
		Accept: Accept{
			GeoState: MatchSet{In: geos},
			Hour:     MatchSet{In: hours},
		},
	}
}

// 2018-07-19T14:28:59.513Z, UTC hour 14.
var testTime = time.Date(2018, 7, 19, 14, 28, 59, 513000000, time.UTC)

func newTestEngine(targets []Target, counters *fakeCounters) *Engine {
	eng := New(&fakeSource{targets: targets}, counters)
	eng.now = func() time.Time { return testTime }
	return eng
}

func TestDecide_Scenarios(t *testing.T) {
	base := mkTarget("1", "http://example.com", "0.50", "10", []string{"ca", "ny"}, []string{"13", "14", "15"})

	tests := []struct {
		name        string
		targets     []Target
		counts      map[string]int64
		geoState    string
		wantOutcome Outcome
		wantURL     string
	}{
		{
			name:        "single eligible target selected",
			targets:     []Target{base},
			geoState:    "ca",
			wantOutcome: OutcomeSelected,
			wantURL:     "http://example.com",
		},
		{
			name: "highest numeric value wins",
			targets: []Target{
				base,
				mkTarget("3", "http://test3.com", "30", "10", []string{"ca"}, []string{"14"}),
			},
			geoState:    "ca",
			wantOutcome: OutcomeSelected,
			wantURL:     "http://test3.com",
		},
		{
			name: "numeric not lexical ordering",
			targets: []Target{
				mkTarget("1", "http://nine.com", "9", "10", []string{"ca"}, []string{"14"}),
				mkTarget("2", "http://ten.com", "10", "10", []string{"ca"}, []string{"14"}),
			},
			geoState:    "ca",
			wantOutcome: OutcomeSelected,
			wantURL:     "http://ten.com",
		},
		{
			name: "top target at cap falls back to next",
			targets: []Target{
				base,
				mkTarget("3", "http://test3.com", "30", "10", []string{"ca"}, []string{"14"}),
			},
			counts:      map[string]int64{"3": 10},
			geoState:    "ca",
			wantOutcome: OutcomeSelected,
			wantURL:     "http://example.com",
		},
		{
			name:        "geo mismatch rejects",
			targets:     []Target{base},
			geoState:    "ra",
			wantOutcome: OutcomeNoMatch,
		},
		{
			name: "hour mismatch rejects",
			targets: []Target{
				mkTarget("1", "http://example.com", "0.50", "10", []string{"ca"}, []string{"21", "22"}),
			},
			geoState:    "ca",
			wantOutcome: OutcomeNoMatch,
		},
		{
			name: "all at cap rejects",
			targets: []Target{
				base,
				mkTarget("3", "http://test3.com", "30", "5", []string{"ca"}, []string{"14"}),
			},
			counts:      map[string]int64{"1": 10, "3": 5},
			geoState:    "ca",
			wantOutcome: OutcomeAtCapacity,
		},
		{
			name: "zero cap never selected",
			targets: []Target{
				mkTarget("1", "http://example.com", "0.50", "0", []string{"ca"}, []string{"14"}),
			},
			geoState:    "ca",
			wantOutcome: OutcomeAtCapacity,
		},
		{
			name: "empty geo set is ineligible",
			targets: []Target{
				mkTarget("1", "http://example.com", "0.50", "10", nil, []string{"14"}),
			},
			geoState:    "ca",
			wantOutcome: OutcomeNoMatch,
		},
		{
			name: "non-numeric value ranks last",
			targets: []Target{
				mkTarget("1", "http://broken.com", "abc", "10", []string{"ca"}, []string{"14"}),
				mkTarget("2", "http://ok.com", "0.01", "10", []string{"ca"}, []string{"14"}),
			},
			geoState:    "ca",
			wantOutcome: OutcomeSelected,
			wantURL:     "http://ok.com",
		},
		{
			name: "non-numeric cap is skipped not crashed",
			targets: []Target{
				mkTarget("1", "http://broken.com", "30", "oops", []string{"ca"}, []string{"14"}),
				mkTarget("2", "http://ok.com", "0.50", "10", []string{"ca"}, []string{"14"}),
			},
			geoState:    "ca",
			wantOutcome: OutcomeSelected,
			wantURL:     "http://ok.com",
		},
		{
			name:        "geo match is case-insensitive",
			targets:     []Target{base},
			geoState:    "CA",
			wantOutcome: OutcomeSelected,
			wantURL:     "http://example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counters := newFakeCounters()
			for id, n := range tt.counts {
				counters.counts[id] = n
			}
			eng := newTestEngine(tt.targets, counters)

			d, err := eng.Decide(context.Background(), tt.geoState, testTime)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, d.Outcome)
			if tt.wantOutcome == OutcomeSelected {
				assert.Equal(t, tt.wantURL, d.URL)
				assert.Equal(t, tt.wantURL, d.String())
			} else {
				assert.Equal(t, Rejected, d.String())
			}
		})
	}
}

func TestDecide_CapEnforcedSequentially(t *testing.T) {
	counters := newFakeCounters()
	eng := newTestEngine([]Target{
		mkTarget("1", "http://example.com", "0.50", "1", []string{"ca"}, []string{"14"}),
	}, counters)

	d, err := eng.Decide(context.Background(), "ca", testTime)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSelected, d.Outcome)
	assert.Equal(t, int64(1), counters.counts["1"])

	d, err = eng.Decide(context.Background(), "ca", testTime)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAtCapacity, d.Outcome)
	assert.Equal(t, Rejected, d.String())
	assert.Equal(t, int64(1), counters.counts["1"], "rejected decision must not increment")
}

func TestDecide_BatchedCounterRead(t *testing.T) {
	counters := newFakeCounters()
	eng := newTestEngine([]Target{
		mkTarget("1", "http://a.com", "1", "10", []string{"ca"}, []string{"14"}),
		mkTarget("2", "http://b.com", "2", "10", []string{"ca"}, []string{"14"}),
		mkTarget("3", "http://c.com", "3", "10", []string{"ca"}, []string{"14"}),
	}, counters)

	_, err := eng.Decide(context.Background(), "ca", testTime)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.getCalls, "capacity reads must be one batch")
}

func TestDecide_CounterExpiryAtUTCMidnight(t *testing.T) {
	counters := newFakeCounters()
	eng := newTestEngine([]Target{
		mkTarget("1", "http://example.com", "0.50", "10", []string{"ca"}, []string{"14"}),
	}, counters)

	_, err := eng.Decide(context.Background(), "ca", testTime)
	require.NoError(t, err)

	wantExpiry := time.Date(2018, 7, 20, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, wantExpiry.Sub(testTime), counters.lastTTL)
	assert.Less(t, counters.lastTTL, 24*time.Hour)
}

func TestDecide_StoreFailures(t *testing.T) {
	t.Run("target store unavailable", func(t *testing.T) {
		eng := New(&fakeSource{err: errors.New("connection refused")}, newFakeCounters())
		_, err := eng.Decide(context.Background(), "ca", testTime)
		assert.Error(t, err)
	})

	t.Run("counter read fails before any increment", func(t *testing.T) {
		counters := newFakeCounters()
		counters.getErr = errors.New("connection refused")
		eng := newTestEngine([]Target{
			mkTarget("1", "http://example.com", "0.50", "10", []string{"ca"}, []string{"14"}),
		}, counters)

		_, err := eng.Decide(context.Background(), "ca", testTime)
		assert.Error(t, err)
		assert.Equal(t, int64(0), counters.counts["1"], "failed read must not commit")
	})

	t.Run("commit failure returns the decision and the error", func(t *testing.T) {
		counters := newFakeCounters()
		counters.incrErr = errors.New("connection refused")
		eng := newTestEngine([]Target{
			mkTarget("1", "http://example.com", "0.50", "10", []string{"ca"}, []string{"14"}),
		}, counters)

		d, err := eng.Decide(context.Background(), "ca", testTime)
		assert.Error(t, err)
		assert.Equal(t, OutcomeSelected, d.Outcome)
		assert.Equal(t, "http://example.com", d.URL)
	})
}

func TestDecide_HourDerivedFromUTC(t *testing.T) {
	counters := newFakeCounters()
	eng := newTestEngine([]Target{
		mkTarget("1", "http://example.com", "0.50", "10", []string{"ca"}, []string{"14"}),
	}, counters)

	// 16:28+02:00 is 14:28 UTC.
	offset := time.FixedZone("CEST", 2*3600)
	at := time.Date(2018, 7, 19, 16, 28, 59, 0, offset)

	d, err := eng.Decide(context.Background(), "ca", at)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSelected, d.Outcome)
}

func TestUntilNextUTCMidnight(t *testing.T) {
	got := untilNextUTCMidnight(time.Date(2018, 7, 19, 23, 59, 30, 0, time.UTC))
	assert.Equal(t, 30*time.Second, got)

	got = untilNextUTCMidnight(time.Date(2018, 7, 19, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 24*time.Hour, got)
}
