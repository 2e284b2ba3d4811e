package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicelink_requests_total",
		Help: "Control-plane requests by action and outcome.",
	}, []string{"action", "status"})

	activeCallPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicelink_active_call_pairs",
		Help: "Call pairs currently tracked by the signaling engine.",
	})

	relayDatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicelink_relay_datagrams_total",
		Help: "UDP datagrams handled by the relay, by type tag.",
	}, []string{"type"})

	relayDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicelink_relay_dropped_total",
		Help: "UDP datagrams dropped by the relay, by reason.",
	}, []string{"reason"})

	relayEndpointsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicelink_relay_endpoints",
		Help: "Registered relay endpoints (logins with a known address).",
	})
)
