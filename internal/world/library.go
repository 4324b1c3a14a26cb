package world

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"snowfight/internal/geom"
)

// ErrUnknownMap is returned for map keys that are not registered.
var ErrUnknownMap = errors.New("world: unknown map option")

// Library loads maps from a directory on first use and keeps them. Maps are
// immutable, so every room on the same option shares one MapManager.
type Library struct {
	dir string

	mu   sync.Mutex
	maps map[string]*MapManager
}

// NewLibrary returns a Library reading map files from dir.
func NewLibrary(dir string) *Library {
	return &Library{
		dir:  dir,
		maps: make(map[string]*MapManager),
	}
}

// Get returns the map for key, loading it if needed. Failed loads are not
// cached so a fixed asset is picked up by the next room.
func (l *Library) Get(key string) (*MapManager, error) {
	if key == "" {
		key = DefaultMapOption
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if m, ok := l.maps[key]; ok {
		return m, nil
	}
	opt, ok := LookupOption(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMap, key)
	}
	m, err := LoadFile(filepath.Join(l.dir, opt.FileName), opt.SpawnPoints)
	if err != nil {
		return nil, fmt.Errorf("load map %q: %w", key, err)
	}
	l.maps[key] = m
	return m, nil
}

// Put registers an already built map under key. Used for maps assembled in code.
func (l *Library) Put(key string, m *MapManager) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maps[key] = m
}

// LoadFile parses the TMX file at path into a MapManager.
func LoadFile(path string, spawns []geom.Point) (*MapManager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ground, decal, err := ParseTMX(f)
	if err != nil {
		return nil, err
	}
	return NewMapManager(ground, decal, spawns)
}
