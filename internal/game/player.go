package game

import (
	"snowfight/internal/geom"
	"snowfight/internal/protocol"
)

// Inputs is the directional input bitmask sent by clients.
type Inputs uint16

const (
	InputNone  Inputs = 0
	InputUp    = Inputs(protocol.InputUp)
	InputDown  = Inputs(protocol.InputDown)
	InputLeft  = Inputs(protocol.InputLeft)
	InputRight = Inputs(protocol.InputRight)

	inputMask = InputUp | InputDown | InputLeft | InputRight
)

// Has reports whether every bit of flag is set.
func (in Inputs) Has(flag Inputs) bool { return in&flag == flag }

// Sanitize drops unknown bits.
func (in Inputs) Sanitize() Inputs { return in & inputMask }

// Player movement constants (pixels, milliseconds)
const (
	PlayerSize     = 32
	PlayerSpeed    = 0.2
	DiagonalFactor = 0.7071067811865476

	DefaultThrowDelayMs = 500
)

// Collider answers movement collision queries.
type Collider interface {
	IsCollidingWithMap(box geom.Rect) bool
}

// Player is one connected participant of a room.
type Player struct {
	ID         string
	X, Y       float64 // top-left of the hitbox
	IsLeft     bool
	Kills      int
	Deaths     int
	Nickname   string
	SantaColor string
	CanFire    bool
	Inputs     Inputs
	IsWalking  bool

	cooldownLeft float64 // ms until CanFire flips back
}

// NewPlayer places a new player at spawn, facing left and ready to throw.
func NewPlayer(id, nickname, santaColor string, spawn geom.Point) *Player {
	return &Player{
		ID:         id,
		X:          spawn.X,
		Y:          spawn.Y,
		IsLeft:     true,
		Nickname:   nickname,
		SantaColor: santaColor,
		CanFire:    true,
	}
}

// Hitbox returns the 32x32 box anchored at the player's position.
func (p *Player) Hitbox() geom.Rect {
	return geom.Rect{X: p.X, Y: p.Y, W: PlayerSize, H: PlayerSize}
}

// Center returns the middle of the hitbox.
func (p *Player) Center() geom.Point {
	return p.Hitbox().Center()
}

// SetInputs replaces the current input bitmask.
func (p *Player) SetInputs(in Inputs) {
	p.Inputs = in.Sanitize()
}

// ApplyMovement advances the player by deltaMs of input. The vertical axis
// is resolved first; each axis is rolled back on its own when it collides.
func (p *Player) ApplyMovement(m Collider, deltaMs float64) {
	in := p.Inputs
	p.IsWalking = in&inputMask != 0

	speed := PlayerSpeed
	vertical := in&(InputUp|InputDown) != 0
	horizontal := in&(InputLeft|InputRight) != 0
	if vertical && horizontal {
		speed *= DiagonalFactor
	}
	step := speed * deltaMs

	prevY := p.Y
	switch {
	case in.Has(InputUp):
		p.Y -= step
	case in.Has(InputDown):
		p.Y += step
	}
	if p.Y != prevY && m.IsCollidingWithMap(p.Hitbox()) {
		p.Y = prevY
	}

	prevX := p.X
	switch {
	case in.Has(InputLeft):
		p.X -= step
		p.IsLeft = true
	case in.Has(InputRight):
		p.X += step
		p.IsLeft = false
	}
	if p.X != prevX && m.IsCollidingWithMap(p.Hitbox()) {
		p.X = prevX
	}
}

// TryFire throws a snowball at angle when the player is off cooldown.
// It returns nil while the cooldown is still running.
func (p *Player) TryFire(angle, cooldownMs float64) *Snowball {
	if !p.CanFire {
		return nil
	}
	p.CanFire = false
	p.cooldownLeft = cooldownMs
	c := p.Center()
	return NewSnowball(c.X, c.Y, angle, p.ID)
}

// Cooldown advances the throw cooldown on the room clock.
func (p *Player) Cooldown(deltaMs float64) {
	if p.CanFire {
		return
	}
	p.cooldownLeft -= deltaMs
	if p.cooldownLeft <= 0 {
		p.cooldownLeft = 0
		p.CanFire = true
	}
}

// Respawn moves the player to a spawn point and counts the death.
func (p *Player) Respawn(at geom.Point) {
	p.X = at.X
	p.Y = at.Y
	p.Deaths++
}

// Record is the wire shape of a player. Every value is a scalar so records
// can be compared field by field.
func (p *Player) Record() protocol.Record {
	return protocol.Record{
		"id":         p.ID,
		"x":          p.X,
		"y":          p.Y,
		"isLeft":     p.IsLeft,
		"kills":      p.Kills,
		"deaths":     p.Deaths,
		"nickname":   p.Nickname,
		"santaColor": p.SantaColor,
		"canFire":    p.CanFire,
		"inputs":     int(p.Inputs),
		"isWalking":  p.IsWalking,
	}
}
