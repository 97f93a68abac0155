package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	broadcastDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broadcast_deliveries_total",
			Help: "Frames queued to websocket connections by target scope.",
		},
		[]string{"scope"},
	)
	broadcastDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcast_drops_total",
			Help: "Connections closed because their send buffer was full.",
		},
	)
	messageMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_mutations_total",
			Help: "Message mutations by operation and outcome kind.",
		},
		[]string{"op", "outcome"},
	)
	presenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Presence transitions by target state.",
		},
		[]string{"state"},
	)
	eventPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_event_publish_errors_total",
			Help: "Failed publishes to the domain event log and relay.",
		},
		[]string{"sink"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		broadcastDeliveriesTotal,
		broadcastDropsTotal,
		messageMutationsTotal,
		presenceTransitionsTotal,
		eventPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func AddBroadcastDeliveries(scope string, n int) {
	if n > 0 {
		broadcastDeliveriesTotal.WithLabelValues(scope).Add(float64(n))
	}
}

func IncBroadcastDrop() {
	broadcastDropsTotal.Inc()
}

func IncMessageMutation(op, outcome string) {
	messageMutationsTotal.WithLabelValues(op, outcome).Inc()
}

// MessageMutations exposes the mutation counter for assertions.
func MessageMutations() *prometheus.CounterVec {
	return messageMutationsTotal
}

func IncPresenceTransition(state string) {
	presenceTransitionsTotal.WithLabelValues(state).Inc()
}

func IncEventPublishError(sink string) {
	eventPublishErrorsTotal.WithLabelValues(sink).Inc()
}
