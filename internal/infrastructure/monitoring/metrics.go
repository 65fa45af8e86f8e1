package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the service's prometheus instruments.
type Metrics struct {
	ActiveRooms        prometheus.GaugeFunc
	ActiveParticipants prometheus.GaugeFunc
	TrackedConnections prometheus.GaugeFunc

	MessagesRelayed   *prometheus.CounterVec
	RelayErrors       *prometheus.CounterVec
	FanoutPublished   prometheus.Counter
	FanoutReceived    prometheus.Counter
	RoomsEvicted      prometheus.Counter
	StatsExpired      prometheus.Counter
	WebSocketSessions prometheus.Gauge

	JoinDuration    prometheus.Histogram
	BroadcastTarget prometheus.Histogram
}

// Counters and gauges for the signaling core. Gauge values for rooms,
// participants and stats are sampled from the services at scrape time.
func NewMetrics(roomCounts func() (rooms, participants int), statsSize func() int) *Metrics {
	return &Metrics{
		ActiveRooms: promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signalhub_rooms_active",
			Help: "Number of live rooms.",
		}, func() float64 {
			rooms, _ := roomCounts()
			return float64(rooms)
		}),
		ActiveParticipants: promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signalhub_participants_active",
			Help: "Number of joined participants across all rooms.",
		}, func() float64 {
			_, participants := roomCounts()
			return float64(participants)
		}),
		TrackedConnections: promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signalhub_stats_connections_tracked",
			Help: "Number of connections with stats records.",
		}, func() float64 {
			return float64(statsSize())
		}),
		MessagesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalhub_messages_relayed_total",
			Help: "Signaling messages relayed, by message type.",
		}, []string{"type"}),
		RelayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalhub_relay_errors_total",
			Help: "Relay rejections, by reason.",
		}, []string{"reason"}),
		FanoutPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalhub_fanout_published_total",
			Help: "Messages published to the cross-process fan-out bus.",
		}),
		FanoutReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalhub_fanout_received_total",
			Help: "Messages received from sibling instances.",
		}),
		RoomsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalhub_rooms_evicted_total",
			Help: "Idle rooms removed by the sweeper.",
		}),
		StatsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalhub_stats_expired_total",
			Help: "Stats records removed by TTL expiry.",
		}),
		WebSocketSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signalhub_websocket_sessions",
			Help: "Open websocket sessions.",
		}),
		JoinDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalhub_join_duration_seconds",
			Help:    "Room join latency.",
			Buckets: prometheus.DefBuckets,
		}),
		BroadcastTarget: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalhub_broadcast_targets",
			Help:    "Local delivery targets per broadcast.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
}
