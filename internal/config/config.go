// Package config provides centralized configuration management.
// Every tunable of the server lives here; other packages receive plain
// structs and never read the environment themselves.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP and websocket transport settings.
type ServerConfig struct {
	Port        int
	ClientDir   string   // Static client files, served at /
	WireFormat  string   // "json" or "msgpack"
	CORSOrigins []string // Allowed origins for the HTTP API
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:        8000,
		ClientDir:   "client",
		WireFormat:  "json",
		CORSOrigins: []string{"*"},
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if d, ok := os.LookupEnv("CLIENT_DIR"); ok {
		cfg.ClientDir = d
	}
	if f := os.Getenv("WIRE_FORMAT"); f != "" {
		cfg.WireFormat = strings.ToLower(f)
	}
	if o := os.Getenv("CORS_ORIGINS"); o != "" {
		cfg.CORSOrigins = splitList(o)
	}

	return cfg
}

// =============================================================================
// GAME CONFIGURATION
// =============================================================================

// GameConfig holds the room simulation timings.
type GameConfig struct {
	TickRate          int           // Simulation ticks per second
	GameLength        time.Duration // Round length before the clock runs out
	EndGrace          time.Duration // Time between "end" and teardown
	ThrowDelay        time.Duration // Snowball cooldown per player
	RemainingInterval time.Duration // Cadence of "remaining" broadcasts
	DiffPlayers       bool          // Send player patches instead of full lists
}

// DefaultGame returns the default game configuration.
func DefaultGame() GameConfig {
	return GameConfig{
		TickRate:          20,
		GameLength:        3 * time.Minute,
		EndGrace:          3 * time.Second,
		ThrowDelay:        500 * time.Millisecond,
		RemainingInterval: 500 * time.Millisecond,
		DiffPlayers:       true,
	}
}

// GameFromEnv returns game configuration with environment variable overrides.
func GameFromEnv() GameConfig {
	cfg := DefaultGame()

	if r := getEnvInt("TICK_RATE", 0); r > 0 {
		cfg.TickRate = r
	}
	if ms := getEnvInt("GAME_LENGTH_MS", 0); ms > 0 {
		cfg.GameLength = time.Duration(ms) * time.Millisecond
	}
	if ms := getEnvInt("END_GRACE_MS", -1); ms >= 0 {
		cfg.EndGrace = time.Duration(ms) * time.Millisecond
	}
	if ms := getEnvInt("THROW_DELAY_MS", -1); ms >= 0 {
		cfg.ThrowDelay = time.Duration(ms) * time.Millisecond
	}
	if ms := getEnvInt("REMAINING_INTERVAL_MS", 0); ms > 0 {
		cfg.RemainingInterval = time.Duration(ms) * time.Millisecond
	}
	if os.Getenv("DIFF_PLAYERS") == "false" {
		cfg.DiffPlayers = false
	}

	return cfg
}

// TickInterval is the wall-clock period of one tick.
func (g GameConfig) TickInterval() time.Duration {
	if g.TickRate <= 0 {
		return time.Second / 20
	}
	return time.Second / time.Duration(g.TickRate)
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection limits.
type ResourceLimits struct {
	MaxRooms          int     // Concurrent rooms per process
	MaxWSPerIP        int     // Concurrent websockets per client IP
	WSMessagesPerSec  float64 // Inbound messages per connection
	HTTPRequestsPerIP float64 // API requests per second per IP
	MaxMessageBytes   int64   // Largest accepted inbound frame
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxRooms:          500,
		MaxWSPerIP:        10,
		WSMessagesPerSec:  60,
		HTTPRequestsPerIP: 10,
		MaxMessageBytes:   1024,
	}
}

// LimitsFromEnv returns resource limits with environment variable overrides.
func LimitsFromEnv() ResourceLimits {
	cfg := DefaultLimits()

	if n := getEnvInt("MAX_ROOMS", 0); n > 0 {
		cfg.MaxRooms = n
	}
	if n := getEnvInt("MAX_WS_PER_IP", 0); n > 0 {
		cfg.MaxWSPerIP = n
	}
	if r := getEnvFloat("WS_MESSAGES_PER_SEC", 0); r > 0 {
		cfg.WSMessagesPerSec = r
	}
	if r := getEnvFloat("HTTP_REQUESTS_PER_IP", 0); r > 0 {
		cfg.HTTPRequestsPerIP = r
	}
	if n := getEnvInt("MAX_MESSAGE_BYTES", 0); n > 0 {
		cfg.MaxMessageBytes = int64(n)
	}

	return cfg
}

// =============================================================================
// ROOM SERVICE CONFIGURATION
// =============================================================================

// Room service modes
const (
	RoomServiceLocal  = "local"
	RoomServiceRemote = "remote"
)

// RoomServiceConfig selects and configures the room provisioning backend.
type RoomServiceConfig struct {
	Mode    string // "local" (SQLite) or "remote" (HTTP)
	URL     string
	AppID   string
	Token   string
	DBPath  string
	Timeout time.Duration // Per external call
}

// DefaultRoomService returns the default room service configuration.
func DefaultRoomService() RoomServiceConfig {
	return RoomServiceConfig{
		Mode:    RoomServiceLocal,
		DBPath:  "rooms.db",
		Timeout: 5 * time.Second,
	}
}

// RoomServiceFromEnv returns room service configuration with environment variable overrides.
func RoomServiceFromEnv() RoomServiceConfig {
	cfg := DefaultRoomService()

	if m := os.Getenv("ROOM_SERVICE"); m != "" {
		cfg.Mode = strings.ToLower(m)
	}
	cfg.URL = os.Getenv("ROOM_SERVICE_URL")
	cfg.AppID = os.Getenv("ROOM_SERVICE_APP_ID")
	cfg.Token = os.Getenv("ROOM_SERVICE_TOKEN")
	if p := os.Getenv("ROOM_DB_PATH"); p != "" {
		cfg.DBPath = p
	}

	return cfg
}

// =============================================================================
// MAPS, LOGGING & OBSERVABILITY
// =============================================================================

// MapsConfig locates the TMX map files.
type MapsConfig struct {
	Dir string
}

// MapsFromEnv returns map configuration with environment variable overrides.
func MapsFromEnv() MapsConfig {
	return MapsConfig{Dir: getEnvString("MAPS_DIR", "maps")}
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level        string
	File         string // Rotated log file; empty logs to stderr only
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
	EventLogPath string // Match journal (JSONL); empty disables it
}

// DefaultLog returns the default logging configuration.
func DefaultLog() LogConfig {
	return LogConfig{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// LogFromEnv returns logging configuration with environment variable overrides.
func LogFromEnv() LogConfig {
	cfg := DefaultLog()

	cfg.Level = getEnvString("LOG_LEVEL", cfg.Level)
	cfg.File = os.Getenv("LOG_FILE")
	cfg.EventLogPath = os.Getenv("EVENT_LOG_PATH")

	return cfg
}

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // Localhost only unless ALLOW_DEBUG_EXTERNAL=true
}

// ObservabilityFromEnv returns debug server configuration with environment variable overrides.
func ObservabilityFromEnv() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    os.Getenv("DISABLE_DEBUG_SERVER") != "true",
		ListenAddr: getEnvString("DEBUG_ADDR", "127.0.0.1:6060"),
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server        ServerConfig
	Game          GameConfig
	Limits        ResourceLimits
	RoomService   RoomServiceConfig
	Maps          MapsConfig
	Log           LogConfig
	Observability ObservabilityConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Server:        ServerFromEnv(),
		Game:          GameFromEnv(),
		Limits:        LimitsFromEnv(),
		RoomService:   RoomServiceFromEnv(),
		Maps:          MapsFromEnv(),
		Log:           LogFromEnv(),
		Observability: ObservabilityFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
