package game

import (
	"math"

	"github.com/google/uuid"

	"snowfight/internal/geom"
	"snowfight/internal/protocol"
)

// Snowball constants (pixels, milliseconds)
const (
	SnowballSpeed = 0.6
	SnowballTTL   = 1000
	SnowballSize  = 10
	HitRadius     = PlayerSize
)

// Terrain is the part of the map a snowball needs.
type Terrain interface {
	IsCollidingWithTree(box geom.Rect) bool
	RandomSpawn() geom.Point
}

// Snowball is a projectile travelling in a straight line until it expires.
type Snowball struct {
	ID       string
	X, Y     float64
	Angle    float64 // radians
	OwnerID  string
	TimeLeft float64 // ms
}

// Hit describes a snowball striking a player. Killer is nil when the thrower
// has already left the room.
type Hit struct {
	Victim *Player
	Killer *Player
}

// NewSnowball creates a snowball at (x, y) owned by ownerID.
func NewSnowball(x, y, angle float64, ownerID string) *Snowball {
	return &Snowball{
		ID:       uuid.NewString(),
		X:        x,
		Y:        y,
		Angle:    angle,
		OwnerID:  ownerID,
		TimeLeft: SnowballTTL,
	}
}

// Hitbox returns the 10x10 box anchored at the snowball's position.
func (s *Snowball) Hitbox() geom.Rect {
	return geom.Rect{X: s.X, Y: s.Y, W: SnowballSize, H: SnowballSize}
}

// Expired reports whether the snowball should be removed.
func (s *Snowball) Expired() bool {
	return s.TimeLeft <= 0
}

// Advance moves the snowball by deltaMs and resolves at most one hit.
// Players are checked in slice order; the first non-owner whose centre is
// within HitRadius is hit, respawned and credited to the owner if present.
func (s *Snowball) Advance(t Terrain, players []*Player, deltaMs float64) *Hit {
	s.X += math.Cos(s.Angle) * SnowballSpeed * deltaMs
	s.Y += math.Sin(s.Angle) * SnowballSpeed * deltaMs
	s.TimeLeft -= deltaMs

	if t.IsCollidingWithTree(s.Hitbox()) {
		s.TimeLeft = -1
		return nil
	}

	var victim, owner *Player
	for _, p := range players {
		if p.ID == s.OwnerID {
			owner = p
			continue
		}
		if victim == nil && withinHitRadius(p, s) {
			victim = p
		}
	}
	if victim == nil {
		return nil
	}

	victim.Respawn(t.RandomSpawn())
	s.TimeLeft = -1
	if owner != nil {
		owner.Kills++
	}
	return &Hit{Victim: victim, Killer: owner}
}

// Record is the wire shape of a snowball.
func (s *Snowball) Record() protocol.Record {
	return protocol.Record{
		"id":       s.ID,
		"x":        s.X,
		"y":        s.Y,
		"angle":    s.Angle,
		"playerId": s.OwnerID,
		"timeLeft": s.TimeLeft,
	}
}

func withinHitRadius(p *Player, s *Snowball) bool {
	c := p.Center()
	return math.Hypot(c.X-s.X, c.Y-s.Y) <= HitRadius
}

// Alive returns the snowballs that have not expired, reusing the backing array.
func Alive(balls []*Snowball) []*Snowball {
	out := balls[:0]
	for _, s := range balls {
		if !s.Expired() {
			out = append(out, s)
		}
	}
	for i := len(out); i < len(balls); i++ {
		balls[i] = nil
	}
	return out
}
