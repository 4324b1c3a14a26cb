package game

import (
	"encoding/json"
	"time"
)

// EventType classifies match journal entries
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypePlayerJoin
	EventTypePlayerLeave
	EventTypeKill
	EventTypeRoundEnd
)

// EventVersion is bumped whenever a payload changes shape
const EventVersion uint8 = 1

// Event is one line of the match journal
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"-"`
	Name      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`
	RoomID    string          `json:"roomId"`
	TickNum   uint64          `json:"tickNum"`
	Payload   json.RawMessage `json:"payload"`
}

// String returns the event type as written to the journal
func (t EventType) String() string {
	switch t {
	case EventTypePlayerJoin:
		return "player_join"
	case EventTypePlayerLeave:
		return "player_leave"
	case EventTypeKill:
		return "kill"
	case EventTypeRoundEnd:
		return "round_end"
	default:
		return "unknown"
	}
}

// PlayerJoinPayload is written when a connection is admitted
type PlayerJoinPayload struct {
	PlayerID   string  `json:"playerId"`
	Nickname   string  `json:"nickname"`
	SantaColor string  `json:"santaColor"`
	SpawnX     float64 `json:"spawnX"`
	SpawnY     float64 `json:"spawnY"`
	Players    int     `json:"players"`
}

// PlayerLeavePayload is written when a connection goes away
type PlayerLeavePayload struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
	Players  int    `json:"players"`
}

// KillPayload is written for every credited hit
type KillPayload struct {
	KillerID     string `json:"killerId"`
	VictimID     string `json:"victimId"`
	KillerKills  int    `json:"killerKills"`
	VictimDeaths int    `json:"victimDeaths"`
}

// RoundEndPayload is written once per room when it leaves ACTIVE
type RoundEndPayload struct {
	Winner     string `json:"winner"`
	Reason     string `json:"reason"`
	DurationMs int64  `json:"durationMs"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, roomID string, tickNum uint64, payload any) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Name:      eventType.String(),
		Timestamp: time.Now().UnixNano(),
		RoomID:    roomID,
		TickNum:   tickNum,
		Payload:   EncodePayload(payload),
	}
}
