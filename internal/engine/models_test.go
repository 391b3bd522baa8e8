package engine

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget_UnmarshalFeedFormat(t *testing.T) {
	raw := `{
		"id": "1",
		"url": "http://example.com",
		"value": "0.50",
		"maxAcceptsPerDay": "10",
		"accept": {
			"geoState": {"$in": ["ca", "ny"]},
			"hour": {"$in": ["13", "14", "15"]}
		}
	}`

	var tgt Target
	require.NoError(t, json.Unmarshal([]byte(raw), &tgt))

	assert.Equal(t, Scalar("1"), tgt.ID)
	assert.Equal(t, "http://example.com", tgt.URL)
	assert.Equal(t, 0.50, tgt.value())
	assert.Equal(t, 10.0, tgt.dailyCap())
	assert.True(t, tgt.matches("ca", "14"))
	assert.False(t, tgt.matches("tx", "14"))
	assert.False(t, tgt.matches("ca", "16"))
}

func TestScalar_AcceptsNumbersAndStrings(t *testing.T) {
	var tgt Target
	raw := `{"id": 3, "url": "http://test3.com", "value": 30, "maxAcceptsPerDay": 0}`
	require.NoError(t, json.Unmarshal([]byte(raw), &tgt))

	assert.Equal(t, Scalar("3"), tgt.ID)
	assert.Equal(t, 30.0, tgt.value())
	assert.Equal(t, 0.0, tgt.dailyCap())
}

func TestScalar_NonNumericIsNaN(t *testing.T) {
	tgt := Target{Value: "not-a-number", MaxAcceptsPerDay: ""}
	assert.True(t, math.IsNaN(tgt.value()))
	assert.True(t, math.IsNaN(tgt.dailyCap()))
}

func TestMatchSet_Contains(t *testing.T) {
	m := MatchSet{In: []string{"ca", "ny"}}
	assert.True(t, m.Contains("ca"))
	assert.True(t, m.Contains("NY"))
	assert.False(t, m.Contains("tx"))
	assert.False(t, MatchSet{}.Contains("ca"))
}
