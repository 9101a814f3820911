// Package temporal provides the validity and decay model shared by the hybrid
// search engine (C6) and the memory graph (C7): duration-string parsing,
// point-in-time validity predicates, and the exponential decay/access-boost
// weighting applied to aging memories.
package temporal

import (
	"math"
	"regexp"
	"strconv"
	"time"

	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
)

// durationPattern matches a bare "Nd", "Nw", "Nm", "Ny" relative duration
// string: digits followed by a single unit suffix.
var durationPattern = regexp.MustCompile(`^(\d+)([dwmy])$`)

// ParseDuration resolves a relative duration string ("7d", "2w", "3m", "1y")
// or a literal ISO-8601 date into an absolute timestamp relative to now. An
// unrecognized form returns a ValidationError, per spec §4.8.
func ParseDuration(s string, now time.Time) (time.Time, error) {
	if m := durationPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, storeerrors.Validation("bad_duration_amount", "duration amount is not a number: "+s)
		}
		switch m[2] {
		case "d":
			return now.AddDate(0, 0, n), nil
		case "w":
			return now.AddDate(0, 0, n*7), nil
		case "m":
			return now.AddDate(0, n, 0), nil
		case "y":
			return now.AddDate(n, 0, 0), nil
		}
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	return time.Time{}, storeerrors.Validation("bad_duration_format", "unrecognized duration or date: "+s).
		WithSuggestion("use Nd/Nw/Nm/Ny (e.g. \"7d\") or an ISO-8601 date")
}

// EffectiveAt reports whether a row with the given invalidation flag and
// validity interval is effective at reference time t, per §3's invariant:
// not invalidated, and t within [validFrom, validUntil).
func EffectiveAt(invalidated bool, validFrom, validUntil *time.Time, t time.Time) bool {
	if invalidated {
		return false
	}
	if validFrom != nil && t.Before(*validFrom) {
		return false
	}
	if validUntil != nil && !t.Before(*validUntil) {
		return false
	}
	return true
}

// IsExpired reports whether validUntil has passed as of t, independent of the
// invalidated_by flag — used to derive the "expired" state in the memory
// lifecycle state machine (distinct from "invalidated").
func IsExpired(validUntil *time.Time, t time.Time) bool {
	return validUntil != nil && !t.Before(*validUntil)
}

// DecayWeight applies exponential temporal decay to a similarity score based
// on age in days: s' = s * exp(-lambda * ageDays). lambda is the configured
// retention.decay_rate.
func DecayWeight(score float64, ageDays, lambda float64) float64 {
	if lambda <= 0 || ageDays <= 0 {
		return score
	}
	return score * math.Exp(-lambda*ageDays)
}

// AccessBoost returns a multiplicative boost derived from access_count:
// min(1 + alpha*log(1+accessCount), maxBoost). alpha is retention.access_weight.
func AccessBoost(accessCount int, alpha, maxBoost float64) float64 {
	if alpha <= 0 {
		return 1
	}
	boost := 1 + alpha*math.Log(1+float64(accessCount))
	if maxBoost > 0 && boost > maxBoost {
		return maxBoost
	}
	return boost
}

// DeadEndBoost applies the additive dead-end boost: s' = min(1, s+delta).
func DeadEndBoost(score, delta float64) float64 {
	s := score + delta
	if s > 1 {
		return 1
	}
	return s
}

// CentralityBoost applies the multiplicative centrality boost:
// s' = s * (1 + gamma*normalizedDegree).
func CentralityBoost(score, gamma, normalizedDegree float64) float64 {
	return score * (1 + gamma*normalizedDegree)
}

// QualityBoost applies the quality-score blend: s' = s * (1 - w + w*quality).
func QualityBoost(score, weight, quality float64) float64 {
	return score * (1 - weight + weight*quality)
}

// AllRecent reports whether every age (in days) is below the given threshold,
// used to auto-skip decay when the whole candidate set is fresh (< 24h old by
// default per §4.6 step 4).
func AllRecent(agesDays []float64, thresholdDays float64) bool {
	for _, a := range agesDays {
		if a >= thresholdDays {
			return false
		}
	}
	return true
}
