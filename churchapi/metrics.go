// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package churchapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks API throughput by endpoint and response status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churchapi_requests_total",
		Help: "Total number of API requests handled",
	}, []string{"endpoint", "status"})

	// ReplayedMutations counts writes that arrived from offline clients
	// draining their queues (identified by the replay marker header).
	ReplayedMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churchapi_replayed_mutations_total",
		Help: "Total number of mutations replayed by offline clients",
	}, []string{"kind"})

	// RequestDuration measures handler latency.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "churchapi_request_duration_seconds",
		Help:    "Duration of API request handling in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
