package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MarketOrdersInitiated counts pending market requests by kind (open/close).
var MarketOrdersInitiated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpex",
		Subsystem: "engine",
		Name:      "market_orders_initiated_total",
		Help:      "Total market orders sent to the oracle pipeline",
	},
	[]string{"kind"},
)

// LimitOrdersPlaced counts resting orders accepted by intake.
var LimitOrdersPlaced = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpex",
		Subsystem: "engine",
		Name:      "limit_orders_placed_total",
		Help:      "Total resting limit/stop orders placed",
	},
)

// MarketTimeoutsFired counts timeout unwinds by kind (open/close).
var MarketTimeoutsFired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpex",
		Subsystem: "engine",
		Name:      "market_timeouts_fired_total",
		Help:      "Total pending market orders unwound after timeout",
	},
	[]string{"kind"},
)

// BotOrdersAdmitted counts bot orders that entered the oracle pipeline.
var BotOrdersAdmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpex",
		Subsystem: "engine",
		Name:      "bot_orders_admitted_total",
		Help:      "Total bot orders admitted by the execution gate",
	},
	[]string{"type"},
)

// BotOrdersRejected counts bot orders turned away at the gate.
var BotOrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpex",
		Subsystem: "engine",
		Name:      "bot_orders_rejected_total",
		Help:      "Total bot orders rejected by the execution gate",
	},
	[]string{"type"},
)

// OracleRequestFailures counts price requests that could not be published.
var OracleRequestFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpex",
		Subsystem: "oracle",
		Name:      "request_failures_total",
		Help:      "Total price requests that failed before a pending record was stored",
	},
)
