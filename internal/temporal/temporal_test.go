package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
)

func TestParseDuration_RelativeForms(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"7d", now.AddDate(0, 0, 7)},
		{"2w", now.AddDate(0, 0, 14)},
		{"3m", now.AddDate(0, 3, 0)},
		{"1y", now.AddDate(1, 0, 0)},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in, now)
		require.NoError(t, err)
		assert.WithinDuration(t, c.want, got, time.Second)
	}
}

func TestParseDuration_ISODate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := ParseDuration("2024-06-01", now)
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, time.June, got.Month())
}

func TestParseDuration_UnknownForm(t *testing.T) {
	_, err := ParseDuration("next tuesday", time.Now())
	require.Error(t, err)
	se, ok := err.(*storeerrors.StoreError)
	require.True(t, ok)
	assert.Equal(t, storeerrors.KindValidation, se.Kind)
}

func TestEffectiveAt(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	validUntil := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, EffectiveAt(false, nil, &validUntil, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, EffectiveAt(false, nil, &validUntil, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, EffectiveAt(true, nil, nil, t0))
}

func TestDecayWeight_ZeroAgeNoDecay(t *testing.T) {
	assert.Equal(t, 1.0, DecayWeight(1.0, 0, 0.1))
}

func TestDecayWeight_DecaysWithAge(t *testing.T) {
	got := DecayWeight(1.0, 30, 0.05)
	assert.Less(t, got, 1.0)
	assert.Greater(t, got, 0.0)
}

func TestAccessBoost_CapsAtMax(t *testing.T) {
	got := AccessBoost(100000, 0.5, 1.5)
	assert.Equal(t, 1.5, got)
}

func TestDeadEndBoost_Caps(t *testing.T) {
	assert.Equal(t, 1.0, DeadEndBoost(0.95, 0.15))
	assert.InDelta(t, 0.65, DeadEndBoost(0.5, 0.15), 1e-9)
}

func TestAllRecent(t *testing.T) {
	assert.True(t, AllRecent([]float64{0.1, 0.5}, 1.0))
	assert.False(t, AllRecent([]float64{0.1, 1.5}, 1.0))
}
