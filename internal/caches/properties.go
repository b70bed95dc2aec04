package caches

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"strings"

	perrors "github.com/p-blackswan/lrucache/internal/errors"
)

// DefaultGlobalFactor is the scale factor caches get when nothing else is
// configured.
const DefaultGlobalFactor = 0.5

// Properties is the process-wide cache sizing configuration.
type Properties struct {
	GlobalFactor     float64            `json:"global_factor" yaml:"global_factor"`
	PerCacheFactors  map[string]float64 `json:"per_cache_factors,omitempty" yaml:"per_cache_factors"`
	TrackMemoryUsage bool               `json:"track_memory_usage" yaml:"track_memory_usage"`
}

// DefaultProperties returns the sizing used when no config is loaded.
func DefaultProperties() Properties {
	return Properties{GlobalFactor: DefaultGlobalFactor}
}

// FactorFor returns the factor for a cache: its own override if set,
// otherwise the global factor.
func (p Properties) FactorFor(name string) float64 {
	if f, ok := p.PerCacheFactors[CanonicalName(name)]; ok {
		return f
	}
	return p.GlobalFactor
}

// Clone returns a copy that shares no map with p.
func (p Properties) Clone() Properties {
	p.PerCacheFactors = maps.Clone(p.PerCacheFactors)
	return p
}

// ValidFactor reports whether f is a usable scale factor: positive and
// finite. NaN fails the comparison.
func ValidFactor(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}

// Validate checks that every factor is positive and finite and canonicalises
// the per-cache names in place.
func (p *Properties) Validate() error {
	if !ValidFactor(p.GlobalFactor) {
		return &perrors.FactorError{Factor: p.GlobalFactor}
	}
	if len(p.PerCacheFactors) == 0 {
		return nil
	}
	canonical := make(map[string]float64, len(p.PerCacheFactors))
	for name, f := range p.PerCacheFactors {
		if !ValidFactor(f) {
			return &perrors.FactorError{Cache: name, Factor: f}
		}
		key := CanonicalName(name)
		if key == "" {
			return fmt.Errorf("%w: empty cache name in per-cache factors", perrors.ErrInvalidConfig)
		}
		canonical[key] = f
	}
	p.PerCacheFactors = canonical
	return nil
}

var nonNameChars = regexp.MustCompile(`[^a-z0-9_]`)

// CanonicalName lowercases name and replaces anything outside [a-z0-9_]
// with an underscore, so "getUsersInRoom" style names, config keys and
// CACHE_FACTOR_<NAME> environment variables all meet.
func CanonicalName(name string) string {
	return nonNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
}
