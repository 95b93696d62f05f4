package metrics

import (
	"sync"
	"time"

	"github.com/dimspell/tavern/internal/events"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	startTime = time.Now()

	Uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tavern_uptime_seconds",
			Help: "Server uptime in seconds",
		}, func() float64 {
			return time.Since(startTime).Seconds()
		})

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tavern_active_connections",
			Help: "Current number of open websocket connections",
		})

	AuthenticatedConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavern_authenticated_connections_total",
			Help: "Total number of successfully authenticated connections",
		})

	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_auth_failures_total",
			Help: "Total number of failed authentications by reason",
		},
		[]string{"reason"},
	)

	Disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_disconnects_total",
			Help: "Total number of closed connections by reason",
		},
		[]string{"reason"},
	)

	ConnectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tavern_connection_duration_seconds",
			Help:    "Lifetime of websocket connections in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		})

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tavern_active_sessions",
			Help: "Current number of sessions in the registry",
		})

	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavern_sessions_created_total",
			Help: "Total number of sessions ever created",
		})

	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavern_sessions_started_total",
			Help: "Total number of sessions moved from lobby to active",
		})

	SessionLifetime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tavern_session_lifetime_seconds",
			Help:    "Lifetime of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		})

	SessionJoins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_session_joins_total",
			Help: "Total number of session joins, split by first join and rejoin",
		},
		[]string{"kind"},
	)

	SessionLeaves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavern_session_leaves_total",
			Help: "Total number of players removed from sessions",
		})

	HostMigrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavern_host_migrations_total",
			Help: "Total number of host promotions after the host left",
		})

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_messages_received_total",
			Help: "Total number of frames received by type",
		},
		[]string{"type"},
	)

	InvalidFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_invalid_frames_total",
			Help: "Total number of rejected frames by error code",
		},
		[]string{"code"},
	)

	HandlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_handler_errors_total",
			Help: "Total number of handler failures (errors and panics) by message type",
		},
		[]string{"type"},
	)

	MessageProcessingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tavern_message_processing_latency_seconds",
			Help:    "Latency of message handling in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"type"},
	)

	MessagesBroadcasted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavern_messages_broadcasted_total",
			Help: "Total number of frames queued by session broadcasts",
		})

	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavern_messages_sent_total",
			Help: "Total number of frames written to connections",
		})

	FailedMessageSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_failed_message_sends_total",
			Help: "Total number of failed frame sends by reason",
		},
		[]string{"reason"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default prometheus registry. It is safe
// to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Uptime,
			ActiveConnections,
			AuthenticatedConnections,
			AuthFailures,
			Disconnects,
			ConnectionDuration,
			ActiveSessions,
			SessionsCreated,
			SessionsStarted,
			SessionLifetime,
			SessionJoins,
			SessionLeaves,
			HostMigrations,
			MessagesReceived,
			InvalidFrames,
			HandlerErrors,
			MessageProcessingLatency,
			MessagesBroadcasted,
			MessagesSent,
			FailedMessageSends,
		)
	})
}

// Subscribe keeps the lifecycle collectors up to date from bus events. The
// returned function detaches all subscriptions.
func Subscribe(bus *events.Bus) func() {
	unsubscribe := []func(){
		events.Subscribe(bus, func(events.ConnectionOpened) {
			ActiveConnections.Inc()
		}),
		events.Subscribe(bus, func(events.ConnectionAuthenticated) {
			AuthenticatedConnections.Inc()
		}),
		events.Subscribe(bus, func(events.ConnectionRejected) {
			AuthFailures.WithLabelValues("connection_limit").Inc()
		}),
		events.Subscribe(bus, func(ev events.ConnectionClosed) {
			ActiveConnections.Dec()
			Disconnects.WithLabelValues(ev.Reason).Inc()
			ConnectionDuration.Observe(ev.Duration.Seconds())
		}),
		events.Subscribe(bus, func(events.SessionCreated) {
			ActiveSessions.Inc()
			SessionsCreated.Inc()
		}),
		events.Subscribe(bus, func(events.SessionStarted) {
			SessionsStarted.Inc()
		}),
		events.Subscribe(bus, func(ev events.SessionEnded) {
			ActiveSessions.Dec()
			SessionLifetime.Observe(ev.Lifetime.Seconds())
		}),
		events.Subscribe(bus, func(ev events.PlayerJoined) {
			if ev.Rejoin {
				SessionJoins.WithLabelValues("rejoin").Inc()
				return
			}
			SessionJoins.WithLabelValues("join").Inc()
		}),
		events.Subscribe(bus, func(events.PlayerLeft) {
			SessionLeaves.Inc()
		}),
		events.Subscribe(bus, func(events.HostChanged) {
			HostMigrations.Inc()
		}),
	}

	return func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}
}
