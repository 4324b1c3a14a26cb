// Package world holds the immutable tile map a room simulates on: the ground and
// decal layers, the collision queries against the decal layer, and spawn points.
package world

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"snowfight/internal/geom"
)

// TileSize is the edge of a map cell in pixels.
const TileSize = 32

// Collision rectangles are inset into their cell so that brushing past the
// visible edge of a tree or rock does not stop a player.
const (
	collisionInset = 10
	collisionSize  = TileSize - 14
)

// spawnBoxSize is the player hitbox used to validate spawn points.
const spawnBoxSize = 32

// treeTileIDs are the decal tile ids that stop snowballs.
var treeTileIDs = map[int]struct{}{
	34: {}, 35: {}, 36: {}, 37: {},
	42: {}, 43: {}, 44: {}, 45: {},
	50: {}, 51: {}, 52: {}, 53: {},
}

var (
	// ErrNoSpawnPoints is returned when none of a map's spawn points is free of obstacles.
	ErrNoSpawnPoints = errors.New("world: no valid spawn points")
	// ErrEmptyMap is returned for maps without cells.
	ErrEmptyMap = errors.New("world: empty map")
)

// Tile is one cell of a layer. ID is the tile's index inside its tileset,
// GID the global id as stored in the map file.
type Tile struct {
	ID  int `json:"id" msgpack:"id"`
	GID int `json:"gid" msgpack:"gid"`
}

// MapManager answers collision queries for one map. It is never mutated after
// construction and may be shared by any number of rooms.
type MapManager struct {
	ground [][]Tile
	decal  [][]*Tile
	spawns []geom.Point
	rows   int
	cols   int
}

// NewMapManager validates the layers and precomputes the spawn list. Spawn
// points whose player box would collide with the decal layer are dropped.
func NewMapManager(ground [][]Tile, decal [][]*Tile, spawns []geom.Point) (*MapManager, error) {
	if len(ground) == 0 || len(ground[0]) == 0 {
		return nil, ErrEmptyMap
	}
	rows, cols := len(ground), len(ground[0])
	if len(decal) != rows {
		return nil, fmt.Errorf("world: decal has %d rows, ground has %d", len(decal), rows)
	}
	for r := 0; r < rows; r++ {
		if len(ground[r]) != cols || len(decal[r]) != cols {
			return nil, fmt.Errorf("world: row %d is not %d cells wide", r, cols)
		}
	}

	m := &MapManager{
		ground: ground,
		decal:  decal,
		rows:   rows,
		cols:   cols,
	}

	for _, p := range spawns {
		box := geom.Rect{X: p.X, Y: p.Y, W: spawnBoxSize, H: spawnBoxSize}
		if m.IsCollidingWithMap(box) {
			continue
		}
		m.spawns = append(m.spawns, p)
	}
	if len(m.spawns) == 0 {
		return nil, ErrNoSpawnPoints
	}
	return m, nil
}

// IsCollidingWithMap reports whether box overlaps the collision rect of any decal tile.
func (m *MapManager) IsCollidingWithMap(box geom.Rect) bool {
	return m.collides(box, func(*Tile) bool { return true })
}

// IsCollidingWithTree is IsCollidingWithMap restricted to tree tiles.
func (m *MapManager) IsCollidingWithTree(box geom.Rect) bool {
	return m.collides(box, isTree)
}

// RandomSpawn returns one of the valid spawn points, chosen uniformly.
func (m *MapManager) RandomSpawn() geom.Point {
	return m.spawns[rand.IntN(len(m.spawns))]
}

// SpawnPoints returns a copy of the valid spawn list.
func (m *MapManager) SpawnPoints() []geom.Point {
	out := make([]geom.Point, len(m.spawns))
	copy(out, m.spawns)
	return out
}

// Ground returns the ground layer. Callers must not modify it.
func (m *MapManager) Ground() [][]Tile { return m.ground }

// Decal returns the decal layer; empty cells are nil. Callers must not modify it.
func (m *MapManager) Decal() [][]*Tile { return m.decal }

// Rows returns the number of cell rows.
func (m *MapManager) Rows() int { return m.rows }

// Cols returns the number of cell columns.
func (m *MapManager) Cols() int { return m.cols }

// collides only walks the cells box overlaps: a collision rect never extends
// past its own cell, so tiles further away cannot match.
func (m *MapManager) collides(box geom.Rect, match func(*Tile) bool) bool {
	minCol := clampCell(int(math.Floor(box.X/TileSize)), m.cols)
	maxCol := clampCell(int(math.Floor((box.X+box.W)/TileSize)), m.cols)
	minRow := clampCell(int(math.Floor(box.Y/TileSize)), m.rows)
	maxRow := clampCell(int(math.Floor((box.Y+box.H)/TileSize)), m.rows)

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			tile := m.decal[row][col]
			if tile == nil || !match(tile) {
				continue
			}
			if geom.Intersects(box, tileCollisionRect(row, col)) {
				return true
			}
		}
	}
	return false
}

func tileCollisionRect(row, col int) geom.Rect {
	return geom.Rect{
		X: float64(col*TileSize + collisionInset),
		Y: float64(row*TileSize + collisionInset),
		W: collisionSize,
		H: collisionSize,
	}
}

func clampCell(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

func isTree(t *Tile) bool {
	_, ok := treeTileIDs[t.ID]
	return ok
}
