package handlers

import (
	"log/slog"
	"net/http"

	"chat-relay/internal/websocket"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// StatsSource is anything that can report relay stats.
type StatsSource interface {
	Stats() websocket.Stats
}

type MetricsHandler struct {
	source StatsSource
}

func NewMetricsHandler(source StatsSource) *MetricsHandler {
	return &MetricsHandler{source: source}
}

func gaugeFamily(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}

func counterFamily(name, help string, v uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(float64(v))}}},
	}
}

// Families converts relay stats into metric families.
func Families(s websocket.Stats) []*dto.MetricFamily {
	return []*dto.MetricFamily{
		gaugeFamily("chat_relay_online_users", "Identities with at least one open connection.", float64(s.OnlineUsers)),
		gaugeFamily("chat_relay_connections", "Open realtime connections.", float64(s.Connections)),
		gaugeFamily("chat_relay_rooms", "Conversations with at least one subscriber.", float64(s.Rooms)),
		gaugeFamily("chat_relay_subscriptions", "Connection to conversation subscriptions.", float64(s.Subscriptions)),
		counterFamily("chat_relay_connects_total", "Accepted connections.", s.ConnectsTotal),
		counterFamily("chat_relay_disconnects_total", "Closed connections.", s.DisconnectsTotal),
		counterFamily("chat_relay_rejected_total", "Connections rejected at the handshake.", s.RejectedTotal),
		counterFamily("chat_relay_messages_total", "Messages relayed.", s.MessagesTotal),
		counterFamily("chat_relay_deliveries_total", "Frames delivered to subscribers.", s.DeliveriesTotal),
		counterFamily("chat_relay_delivery_failures_total", "Frames that could not be queued.", s.DeliveryFailures),
	}
}

// Metrics godoc
// @Summary Relay metrics
// @Description Prometheus exposition of relay gauges and counters
// @Tags ops
// @Produce plain
// @Success 200 {string} string
// @Router /metrics [get]
func (h *MetricsHandler) Metrics(c *gin.Context) {
	format := expfmt.Negotiate(c.Request.Header)
	c.Header("Content-Type", string(format))
	c.Status(http.StatusOK)

	enc := expfmt.NewEncoder(c.Writer, format)
	for _, mf := range Families(h.source.Stats()) {
		if err := enc.Encode(mf); err != nil {
			slog.Error("Failed to encode metrics", "metric", mf.GetName(), "error", err)
			return
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		_ = closer.Close()
	}
}
