// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "Number of live websocket connections on this replica.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_rooms",
		Help: "Number of rooms with at least one local member.",
	})

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_calls",
		Help: "Number of voice calls currently tracked.",
	})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_received_total",
		Help: "Inbound client events by event name.",
	}, []string{"event"})

	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_events_sent_total",
		Help: "Frames delivered to local clients.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_events_dropped_total",
		Help: "Frames dropped because a client send buffer was full.",
	})

	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_handler_errors_total",
		Help: "Handler failures by error kind.",
	}, []string{"kind"})

	HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_handler_panics_total",
		Help: "Panics recovered at the dispatch boundary.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Events rejected by the rate limiter, by scope.",
	}, []string{"scope"})

	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_bus_published_total",
		Help: "Events published to the bus by topic.",
	}, []string{"topic"})

	BusPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_bus_publish_failures_total",
		Help: "Bus publishes that exhausted retries, by topic.",
	}, []string{"topic"})

	BusConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_bus_consumed_total",
		Help: "Events consumed from the bus by topic.",
	}, []string{"topic"})

	RelayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_relay_frames_total",
		Help: "Cross-replica relay frames by direction.",
	}, []string{"direction"})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_auth_failures_total",
		Help: "Handshakes rejected during authentication.",
	})
)
