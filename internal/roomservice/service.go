// Package roomservice talks to the system that provisions rooms and lists
// them in the lobby. The game server reads a room's config once when the
// room starts, keeps the advertised player count current and reports when
// a room is gone.
package roomservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned for rooms the service does not know.
var ErrNotFound = errors.New("roomservice: room not found")

// Default room settings, used for missing fields and when the service is unreachable.
const (
	DefaultCapacity     = 8
	DefaultWinningScore = 5
	DefaultMapOption    = "originalMap"
)

// RoomInfo is the service's view of a room. RoomConfig is an opaque JSON
// document shared with the lobby; see RoomConfig for the fields we read.
type RoomInfo struct {
	RoomID     string `json:"roomId"`
	Status     string `json:"status,omitempty"`
	RoomConfig string `json:"roomConfig"`
}

// Service is the room provisioning collaborator.
type Service interface {
	GetRoomInfo(ctx context.Context, roomID string) (RoomInfo, error)
	UpdateRoomConfig(ctx context.Context, roomID, roomConfig string) error
	DestroyRoom(ctx context.Context, roomID string) error
}

// RoomConfig holds the settings a room is created with.
type RoomConfig struct {
	WinningScore    int    `json:"winningScore"`
	Capacity        int    `json:"capacity"`
	MapOption       string `json:"mapOption,omitempty"`
	RoomName        string `json:"roomName,omitempty"`
	NumberOfPlayers int    `json:"numberOfPlayers"`
}

// DefaultRoomConfig returns the settings used when none are available.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		WinningScore: DefaultWinningScore,
		Capacity:     DefaultCapacity,
		MapOption:    DefaultMapOption,
	}
}

// ParseRoomConfig decodes a config document. Missing or non-positive
// settings fall back to their defaults.
func ParseRoomConfig(raw string) (RoomConfig, error) {
	cfg := DefaultRoomConfig()
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return DefaultRoomConfig(), fmt.Errorf("parse room config: %w", err)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.WinningScore <= 0 {
		cfg.WinningScore = DefaultWinningScore
	}
	if cfg.MapOption == "" {
		cfg.MapOption = DefaultMapOption
	}
	return cfg, nil
}

// WithPlayerCount returns raw with numberOfPlayers set to n. Every other key
// is kept as is, including ones this server does not understand.
func WithPlayerCount(raw string, n int) (string, error) {
	doc := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return "", fmt.Errorf("parse room config: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	doc["numberOfPlayers"] = n
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// LoadRoomConfig fetches and parses the config of roomID.
func LoadRoomConfig(ctx context.Context, svc Service, roomID string) (RoomConfig, error) {
	info, err := svc.GetRoomInfo(ctx, roomID)
	if err != nil {
		return DefaultRoomConfig(), err
	}
	return ParseRoomConfig(info.RoomConfig)
}

// SetPlayerCount publishes the number of players currently in roomID.
func SetPlayerCount(ctx context.Context, svc Service, roomID string, n int) error {
	info, err := svc.GetRoomInfo(ctx, roomID)
	if err != nil {
		return err
	}
	patched, err := WithPlayerCount(info.RoomConfig, n)
	if err != nil {
		return err
	}
	return svc.UpdateRoomConfig(ctx, roomID, patched)
}
