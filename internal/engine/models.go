package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Target is a routing candidate as delivered by the target feed.
// Numeric fields arrive as strings ("0.50", "10") or bare numbers
// depending on the producer; both forms are accepted.
type Target struct {
	ID               Scalar `json:"id"`
	URL              string `json:"url"`
	Value            Scalar `json:"value"`
	MaxAcceptsPerDay Scalar `json:"maxAcceptsPerDay"`
	Accept           Accept `json:"accept"`
}

// Accept holds the eligibility predicates for one target.
type Accept struct {
	GeoState MatchSet `json:"geoState"`
	Hour     MatchSet `json:"hour"`
}

// MatchSet mirrors the feed's mongo-style membership predicate:
// {"$in": ["ca", "ny"]}.
type MatchSet struct {
	In []string `json:"$in"`
}

// Contains reports set membership, case-insensitive. An empty set
// matches nothing.
func (m MatchSet) Contains(v string) bool {
	for _, s := range m.In {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Scalar is a string that also unmarshals from a bare JSON number.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = Scalar(n.String())
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Scalar(v)
	return nil
}

// num coerces to float64; NaN when the value is not numeric.
// NaN keys sort last and fail every capacity comparison, so a
// malformed target is skipped rather than crashing a decision.
func (s Scalar) num() float64 {
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// value is the ranking weight.
func (t Target) value() float64 { return t.Value.num() }

// dailyCap is the accept limit; NaN disables the target.
func (t Target) dailyCap() float64 { return t.MaxAcceptsPerDay.num() }

// matches applies the eligibility predicates. A target missing either
// predicate set is never eligible.
func (t Target) matches(geoState, hour string) bool {
	return t.Accept.GeoState.Contains(geoState) && t.Accept.Hour.Contains(hour)
}
