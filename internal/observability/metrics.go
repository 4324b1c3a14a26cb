// Package observability holds the Prometheus metrics and the localhost debug
// server. Labels are bounded; nothing is labelled per room or per player.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for RecordConnectionRejected
const (
	RejectRateLimit = "rate_limit"
	RejectWSLimit   = "ws_limit"
	RejectRoomFull  = "room_full"
	RejectNoRoom    = "no_room"
	RejectInvalid   = "invalid"
	RejectFlood     = "flood"
)

// Round end reasons for RecordRoomEnded
const (
	EndWinner  = "winner"
	EndTimeout = "timeout"
	EndEmpty   = "empty"
	EndServer  = "shutdown"
)

var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "room_tick_duration_seconds",
		Help:    "Time spent in one room tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rooms_active",
		Help: "Rooms currently running",
	})

	roomPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "room_players",
		Help: "Players across all rooms",
	})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "WebSocket messages by direction",
	}, []string{"direction"}) // "in", "out"

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected before or at join",
	}, []string{"reason"})

	snowballKills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowball_kills_total",
		Help: "Players hit by a snowball",
	})

	roomsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rooms_ended_total",
		Help: "Rounds ended by reason",
	}, []string{"reason"})

	roomServiceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_service_errors_total",
		Help: "Failed calls to the room service",
	}, []string{"call"}) // "info", "update", "destroy"

	eventLogDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_dropped",
		Help: "Match journal events dropped so far",
	})
)

// RecordTick records tick timing
func RecordTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }

// RoomOpened and RoomClosed track the active room gauge
func RoomOpened() { roomsActive.Inc() }
func RoomClosed() { roomsActive.Dec() }

// AddPlayers adjusts the global player gauge by delta
func AddPlayers(delta int) { roomPlayers.Add(float64(delta)) }

// UpdateWSConnections sets the WebSocket connection gauge
func UpdateWSConnections(count int) { wsConnectionsActive.Set(float64(count)) }

// IncrementWSMessagesIn counts an inbound frame
func IncrementWSMessagesIn() { wsMessagesTotal.WithLabelValues("in").Inc() }

// IncrementWSMessagesOut counts an outbound frame
func IncrementWSMessagesOut() { wsMessagesTotal.WithLabelValues("out").Inc() }

// RecordConnectionRejected increments the rejection counter; reason must be one of the Reject constants
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordKill counts a snowball hit
func RecordKill() { snowballKills.Inc() }

// RecordRoomEnded counts a finished round; reason must be one of the End constants
func RecordRoomEnded(reason string) { roomsEnded.WithLabelValues(reason).Inc() }

// RecordRoomServiceError counts a failed room service call
func RecordRoomServiceError(call string) { roomServiceErrors.WithLabelValues(call).Inc() }

// UpdateEventLogDropped publishes the journal drop counter
func UpdateEventLogDropped(n uint64) { eventLogDropped.Set(float64(n)) }
