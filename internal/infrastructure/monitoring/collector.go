package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes the relay's operational metrics.
type Collector struct {
	connectionsActive prometheus.Gauge
	roomsActive       prometheus.Gauge
	joinsTotal        prometheus.Counter
	joinsRejected     prometheus.Counter
	messagesForwarded *prometheus.CounterVec
	roomFillSeconds   prometheus.Histogram
}

func NewCollector() *Collector {
	return &Collector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "medlink_signal_connections_active",
			Help: "Number of open signaling connections",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "medlink_signal_rooms_active",
			Help: "Number of active call rooms",
		}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medlink_signal_joins_total",
			Help: "Total successful call joins",
		}),

		joinsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medlink_signal_joins_rejected_total",
			Help: "Total rejected call joins (full room, bad call id)",
		}),

		messagesForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medlink_signal_messages_forwarded_total",
			Help: "Total relayed signaling messages by type",
		}, []string{"type"}),

		roomFillSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "medlink_signal_room_fill_seconds",
			Help:    "Time from the first join of a room until the second participant arrives",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

func (c *Collector) ConnectionOpened() {
	c.connectionsActive.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *Collector) SetActiveRooms(n int) {
	c.roomsActive.Set(float64(n))
}

func (c *Collector) Joined() {
	c.joinsTotal.Inc()
}

func (c *Collector) JoinRejected() {
	c.joinsRejected.Inc()
}

func (c *Collector) MessageForwarded(messageType string) {
	c.messagesForwarded.WithLabelValues(messageType).Inc()
}

// RoomFilled records how long the first participant waited alone.
func (c *Collector) RoomFilled(wait time.Duration) {
	c.roomFillSeconds.Observe(wait.Seconds())
}
