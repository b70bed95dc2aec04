// Package admin provides the HTTP administration API for the cache host.
package admin

import (
	"github.com/p-blackswan/lrucache/internal/caches"
	"github.com/p-blackswan/lrucache/internal/metrics"
)

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// CacheListResponse is the payload of GET /api/v1/caches.
type CacheListResponse struct {
	Caches     []caches.CacheStats `json:"caches"`
	Properties caches.Properties   `json:"properties"`
}

// FactorsRequest is the payload of PATCH /api/v1/caches/factors.
//
// Without Replace the given per-cache factors are merged over the ones in
// force; with Replace they become the complete set.
type FactorsRequest struct {
	GlobalFactor    *float64           `json:"global_factor,omitempty"`
	PerCacheFactors map[string]float64 `json:"per_cache_factors,omitempty"`
	Replace         bool               `json:"replace,omitempty"`
}

// FactorsResponse reports the caches whose capacity changed.
type FactorsResponse struct {
	Resized    []string          `json:"resized"`
	Properties caches.Properties `json:"properties"`
}

// MetricsSummaryResponse is the payload of GET /api/v1/metrics/summary.
type MetricsSummaryResponse struct {
	Caches []metrics.Snapshot `json:"caches"`
}
