package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"snowfight/internal/roomservice"
	"snowfight/internal/world"
)

// ErrTooManyRooms is returned when the process already runs MaxRooms rooms.
var ErrTooManyRooms = errors.New("room: too many rooms")

// MapSource resolves a map option to a loaded map.
type MapSource interface {
	Get(key string) (*world.MapManager, error)
}

// ManagerConfig configures a Manager
type ManagerConfig struct {
	Maps     MapSource
	Service  roomservice.Service // optional
	MaxRooms int
	Room     Options // template for every room; OnDestroy is set by the Manager
	Logger   *zap.SugaredLogger
}

// Manager is the registry of running rooms.
type Manager struct {
	cfg   ManagerConfig
	log   *zap.SugaredLogger
	group singleflight.Group

	mu       sync.RWMutex
	rooms    map[string]*Room
	reserved int // rooms being created, counted against MaxRooms
}

// NewManager creates an empty registry
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	cfg.Room.Service = cfg.Service
	if cfg.Room.Logger == nil {
		cfg.Room.Logger = cfg.Logger
	}
	return &Manager{
		cfg:   cfg,
		log:   cfg.Logger,
		rooms: make(map[string]*Room),
	}
}

// Get returns a running room
func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Count returns the number of registered rooms
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// List returns the registered rooms ordered by id
func (m *Manager) List() []*Room {
	m.mu.RLock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// GetOrCreate returns the room for id, creating and starting it on first use.
// Concurrent callers for the same id share one creation.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Room, error) {
	if r, ok := m.Get(id); ok {
		return r, nil
	}

	v, err, _ := m.group.Do(id, func() (any, error) {
		if r, ok := m.Get(id); ok {
			return r, nil
		}
		r, err := m.create(ctx, id)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (m *Manager) create(ctx context.Context, id string) (r *Room, err error) {
	if err := m.reserve(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.mu.Lock()
			m.reserved--
			m.mu.Unlock()
		}
	}()

	cfg := roomservice.DefaultRoomConfig()
	if svc := m.cfg.Service; svc != nil {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Room.ServiceTimeout)
		loaded, err := roomservice.LoadRoomConfig(callCtx, svc, id)
		cancel()
		if err != nil {
			m.log.Warnw("⚠️ Room info unavailable, using defaults", "room", id, "error", err)
		}
		cfg = loaded
	}

	wm, err := m.cfg.Maps.Get(cfg.MapOption)
	if errors.Is(err, world.ErrUnknownMap) {
		m.log.Warnw("⚠️ Unknown map option, using default", "room", id, "map", cfg.MapOption)
		cfg.MapOption = world.DefaultMapOption
		wm, err = m.cfg.Maps.Get(cfg.MapOption)
	}
	if err != nil {
		return nil, fmt.Errorf("load map for room %s: %w", id, err)
	}

	opts := m.cfg.Room
	opts.OnDestroy = m.remove
	r = New(id, cfg, wm, opts)

	m.mu.Lock()
	m.reserved--
	m.rooms[id] = r
	m.mu.Unlock()

	go r.Run()
	return r, nil
}

// reserve takes a slot under MaxRooms for a room about to be created
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxRooms > 0 && len(m.rooms)+m.reserved >= m.cfg.MaxRooms {
		return ErrTooManyRooms
	}
	m.reserved++
	return nil
}

// remove unregisters a destroyed room; a newer room under the same id is kept.
func (m *Manager) remove(id string, r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[id] == r {
		delete(m.rooms, id)
	}
}

// Shutdown stops every room and waits for their loops to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	rooms := m.List()
	for _, r := range rooms {
		r.Stop()
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
