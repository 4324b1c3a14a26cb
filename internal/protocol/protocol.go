// Package protocol defines the messages exchanged with game clients, the
// codecs that frame them and the delta compression applied to entity lists.
package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Outbound events
const (
	EventMap       = "map"
	EventPlayers   = "players"
	EventSnowballs = "snowballs"
	EventDeath     = "death"
	EventRefresh   = "refresh"
	EventRemaining = "remaining"
	EventEnd       = "end"
	EventPong      = "pong"
)

// Inbound events
const (
	EventInputs   = "inputs"
	EventSnowball = "snowball"
	EventPing     = "ping"
)

// NoWinner is sent with EventEnd when a round ends without a winner.
const NoWinner = "no one"

// Input bits as sent on the wire.
const (
	InputUp    uint16 = 0x0001
	InputDown  uint16 = 0x0010
	InputLeft  uint16 = 0x0100
	InputRight uint16 = 0x1000
)

var (
	ErrMalformed    = errors.New("protocol: malformed message")
	ErrUnknownEvent = errors.New("protocol: unknown event")
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string `json:"event" msgpack:"event"`
	Data  any    `json:"data,omitempty" msgpack:"data,omitempty"`
	Patch bool   `json:"patch,omitempty" msgpack:"patch,omitempty"`
}

// Death is the payload of EventDeath.
type Death struct {
	Victim Record `json:"victim" msgpack:"victim"`
	Killer Record `json:"killer" msgpack:"killer"`
}

// Command is a decoded, validated inbound message.
type Command struct {
	Event  string
	Inputs uint16  // EventInputs
	Angle  float64 // EventSnowball
}

// ParseCommand validates an inbound envelope. Inputs may be a bitmask or an
// object of booleans; both come out as a bitmask.
func ParseCommand(env Envelope) (Command, error) {
	switch env.Event {
	case EventInputs:
		in, err := ParseInputs(env.Data)
		if err != nil {
			return Command{}, err
		}
		return Command{Event: EventInputs, Inputs: in}, nil
	case EventSnowball:
		angle, ok := toFloat(env.Data)
		if !ok || math.IsNaN(angle) || math.IsInf(angle, 0) {
			return Command{}, fmt.Errorf("%w: snowball angle %v", ErrMalformed, env.Data)
		}
		return Command{Event: EventSnowball, Angle: angle}, nil
	case EventPing:
		return Command{Event: EventPing}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// ParseInputs normalises either input representation to a bitmask.
func ParseInputs(v any) (uint16, error) {
	if m, ok := v.(map[string]any); ok {
		var in uint16
		for key, bit := range map[string]uint16{
			"up": InputUp, "down": InputDown, "left": InputLeft, "right": InputRight,
		} {
			if pressed, _ := m[key].(bool); pressed {
				in |= bit
			}
		}
		return in, nil
	}

	f, ok := toFloat(v)
	if !ok || f < 0 || f > math.MaxUint16 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: inputs %v", ErrMalformed, v)
	}
	return uint16(f) & (InputUp | InputDown | InputLeft | InputRight), nil
}

// toFloat accepts the numeric types produced by the JSON and msgpack decoders.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
