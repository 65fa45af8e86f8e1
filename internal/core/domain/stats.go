package domain

import "time"

// ConnectionStats holds the latest quality report for one connection.
// Its lifetime is independent of the Participant: it is created on the
// first stats report and destroyed on leave or TTL expiry.
type ConnectionStats struct {
	ConnectionID    ConnectionID    `json:"connectionId"`
	UserID          UserID          `json:"userId"`
	RoomID          RoomID          `json:"roomId"`
	ConnectionState ConnectionState `json:"connectionState"`
	LatencyMs       float64         `json:"latency"`
	BitrateKbps     int             `json:"bitrate"`
	FrameRate       float64         `json:"frameRate"`
	Resolution      string          `json:"resolution,omitempty"`
	PacketLoss      float64         `json:"packetLoss"`
	JitterMs        float64         `json:"jitter"`
	BandwidthKbps   int             `json:"bandwidth"`
	CodecName       string          `json:"codecName,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastUpdated     time.Time       `json:"lastUpdated"`
}

// Duration is derived, never stored.
func (s *ConnectionStats) Duration(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// StatsReport is a partial quality report. Nil fields are sticky: they
// leave the previously recorded value untouched.
type StatsReport struct {
	ConnectionState *ConnectionState `json:"connectionState,omitempty"`
	LatencyMs       *float64         `json:"latency,omitempty"`
	BitrateKbps     *int             `json:"bitrate,omitempty"`
	FrameRate       *float64         `json:"frameRate,omitempty"`
	Resolution      *string          `json:"resolution,omitempty"`
	PacketLoss      *float64         `json:"packetLoss,omitempty"`
	JitterMs        *float64         `json:"jitter,omitempty"`
	BandwidthKbps   *int             `json:"bandwidth,omitempty"`
	CodecName       *string          `json:"codecName,omitempty"`
}

// Merge applies the report's non-nil fields onto the stats record.
func (s *ConnectionStats) Merge(report *StatsReport) {
	if report.ConnectionState != nil {
		s.ConnectionState = *report.ConnectionState
	}
	if report.LatencyMs != nil {
		s.LatencyMs = *report.LatencyMs
	}
	if report.BitrateKbps != nil {
		s.BitrateKbps = *report.BitrateKbps
	}
	if report.FrameRate != nil {
		s.FrameRate = *report.FrameRate
	}
	if report.Resolution != nil {
		s.Resolution = *report.Resolution
	}
	if report.PacketLoss != nil {
		s.PacketLoss = *report.PacketLoss
	}
	if report.JitterMs != nil {
		s.JitterMs = *report.JitterMs
	}
	if report.BandwidthKbps != nil {
		s.BandwidthKbps = *report.BandwidthKbps
	}
	if report.CodecName != nil {
		s.CodecName = *report.CodecName
	}
}

// RoomStatsSummary aggregates connection quality across one room.
type RoomStatsSummary struct {
	RoomID             RoomID                  `json:"roomId"`
	ParticipantCount   int                     `json:"participantCount"`
	AverageLatencyMs   float64                 `json:"averageLatency"`
	AverageBitrateKbps float64                 `json:"averageBitrate"`
	AverageFrameRate   float64                 `json:"averageFrameRate"`
	MaxDuration        time.Duration           `json:"maxDuration"`
	ConnectionStates   map[ConnectionState]int `json:"connectionStates"`
}

// UserStatsSummary aggregates a user's connections across all rooms.
// An unknown user yields the zero summary.
type UserStatsSummary struct {
	UserID            UserID        `json:"userId"`
	TotalConnections  int           `json:"totalConnections"`
	ActiveConnections int           `json:"activeConnections"`
	AverageLatencyMs  float64       `json:"averageLatency"`
	TotalDuration     time.Duration `json:"totalDuration"`
	LastActivity      time.Time     `json:"lastActivity"`
}
