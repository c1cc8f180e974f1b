package metrics

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "support"
	subsystem = "chat"
)

// Support holds the collectors of the chat relay. A nil *Support is valid and
// records nothing, so components can be built without metrics in tests.
type Support struct {
	registry *prometheus.Registry

	SessionsByStatus     *prometheus.GaugeVec
	LiveActors           prometheus.Gauge
	LiveConnections      prometheus.Gauge
	MessagesRelayed      *prometheus.CounterVec
	RelayFailures        prometheus.Counter
	SlowConsumers        prometheus.Counter
	NotificationFailures prometheus.Counter
	OperatorUnrouted     prometheus.Counter
}

func NewSupport(registry *prometheus.Registry) *Support {
	registry.MustRegister(collectors.NewGoCollector())

	s := &Support{
		registry: registry,
		SessionsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sessions",
			Help: "Sessions currently holding an admission status.",
		}, []string{"status"}),
		LiveActors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "live_actors",
			Help: "Session actors running on this instance.",
		}),
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "live_connections",
			Help: "Open visitor websocket connections on this instance.",
		}),
		MessagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: FmtFixer("messages-relayed-total"),
			Help: "Messages appended and broadcast, by sender type.",
		}, []string{"sender"}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "relay_failures_total",
			Help: "Relays aborted because the store append failed.",
		}),
		SlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "slow_consumers_total",
			Help: "Connections dropped because their send buffer was full.",
		}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "operator_notification_failures_total",
			Help: "Outbound operator channel deliveries that failed.",
		}),
		OperatorUnrouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "operator_unrouted_total",
			Help: "Operator messages that named no session.",
		}),
	}

	registry.MustRegister(
		s.SessionsByStatus,
		s.LiveActors,
		s.LiveConnections,
		s.MessagesRelayed,
		s.RelayFailures,
		s.SlowConsumers,
		s.NotificationFailures,
		s.OperatorUnrouted,
	)
	return s
}

func (s *Support) SetSessions(status string, n int) {
	if s == nil {
		return
	}
	s.SessionsByStatus.WithLabelValues(status).Set(float64(n))
}

func (s *Support) ActorStarted() {
	if s != nil {
		s.LiveActors.Inc()
	}
}

func (s *Support) ActorStopped() {
	if s != nil {
		s.LiveActors.Dec()
	}
}

func (s *Support) ConnectionOpened() {
	if s != nil {
		s.LiveConnections.Inc()
	}
}

func (s *Support) ConnectionClosed() {
	if s != nil {
		s.LiveConnections.Dec()
	}
}

func (s *Support) Relayed(sender string) {
	if s != nil {
		s.MessagesRelayed.WithLabelValues(sender).Inc()
	}
}

func (s *Support) RelayFailed() {
	if s != nil {
		s.RelayFailures.Inc()
	}
}

func (s *Support) SlowConsumerDropped() {
	if s != nil {
		s.SlowConsumers.Inc()
	}
}

func (s *Support) NotificationFailed() {
	if s != nil {
		s.NotificationFailures.Inc()
	}
}

func (s *Support) Unrouted() {
	if s != nil {
		s.OperatorUnrouted.Inc()
	}
}

// Handler exposes the registry in the prometheus text format.
func (s *Support) Handler() fiber.Handler {
	h := promhttp.InstrumentMetricHandler(
		s.registry, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
	)
	return adaptor.HTTPHandler(h)
}

func FmtFixer(in string) string {
	return strings.Replace(strings.Replace(in, ".", "_", -1), "-", "_", -1)
}
