// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/deltasync/dispatch"
	"github.com/AleutianAI/deltasync/store"
)

// serverMetrics collects every Prometheus series this binary exposes
// and adapts them to the narrow Counter/Gauge interfaces store and
// dispatch each declare, so neither package needs to import prometheus
// directly.
type serverMetrics struct {
	registry *prometheus.Registry

	deltasApplied  prometheus.Counter
	observerCount  prometheus.Gauge
	commitsDropped prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	reg := prometheus.NewRegistry()
	return &serverMetrics{
		registry: reg,
		deltasApplied: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "deltas_applied_total",
			Help:      "Deltas successfully applied to the authoritative store.",
		}),
		observerCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "deltasync",
			Name:      "observers",
			Help:      "Observers currently registered with the store: WebSocket clients, plus the history recorder when enabled.",
		}),
		commitsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "commits_dropped_total",
			Help:      "Inbound client commits dropped for decode failure or client id mismatch.",
		}),
	}
}

func (m *serverMetrics) storeMetrics() store.Metrics {
	return store.Metrics{
		DeltasApplied: m.deltasApplied,
		ObserverCount: m.observerCount,
	}
}

func (m *serverMetrics) dispatchMetrics() dispatch.Metrics {
	return dispatch.Metrics{
		CommitsDropped: m.commitsDropped,
	}
}
