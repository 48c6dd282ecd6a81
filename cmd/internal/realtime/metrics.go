package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_ws_connects_total",
		Help: "Accepted websocket connections.",
	})

	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_sessions_active",
		Help: "Currently bound authenticated sessions.",
	})

	metricMessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_messages_appended_total",
		Help: "Chat messages durably appended to room logs.",
	})

	metricTokenRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_token_renewals_total",
		Help: "Tokens renewed via heartbeat.",
	})

	metricTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_session_teardowns_total",
		Help: "Session teardowns by reason.",
	}, []string{"reason"})
)
