// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for entity persistence and patching.
var (
	// entityLoads counts entity acquisitions by outcome: loaded, created or fallback.
	entityLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitystore_entity_loads_total",
		Help: "Total number of entity loads by result",
	}, []string{"result"})

	// entitySaves counts entity file writes by outcome: written, unchanged or error.
	entitySaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitystore_entity_saves_total",
		Help: "Total number of entity saves by result",
	}, []string{"result"})

	// saveDuration tracks how long a SaveModifiedEntities pass takes.
	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "entitystore_save_duration_seconds",
		Help:    "Histogram of save pass latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// patchOperations counts applied patch operations by kind and outcome.
	patchOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitystore_patch_operations_total",
		Help: "Total number of patch operations by op and result",
	}, []string{"op", "result"})

	// cachedEntities is the number of entities held in the registry cache.
	cachedEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "entitystore_cached_entities",
		Help: "Number of entities in the registry cache",
	})
)

func recordPatch(op OpKind, result string) {
	patchOperations.WithLabelValues(op.String(), result).Inc()
}

func recordSavePass(start time.Time) {
	saveDuration.Observe(time.Since(start).Seconds())
}
