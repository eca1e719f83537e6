// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheSnapshot carries one cache's counters for gauge registration.
type CacheSnapshot struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Size      int
}

var (
	cacheGaugesMu sync.Mutex
	cacheGauges   = make(map[string]bool)
)

// RegisterCacheGauges exposes a named cache's statistics as gauge functions.
// Re-registering a name is a no-op so reconstructed components (and tests)
// do not collide in the default registry.
func RegisterCacheGauges(name string, stats func() CacheSnapshot) {
	cacheGaugesMu.Lock()
	defer cacheGaugesMu.Unlock()
	if cacheGauges[name] {
		return
	}
	cacheGauges[name] = true

	labels := prometheus.Labels{"cache": name}

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "fird_cache_hits",
		Help:        "Cache hits since process start",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Hits) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "fird_cache_misses",
		Help:        "Cache misses since process start",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Misses) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "fird_cache_evictions",
		Help:        "Cache evictions since process start",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Evictions) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "fird_cache_entries",
		Help:        "Entries currently cached",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Size) })
}
