package game

import (
	"math"
	"testing"

	"snowfight/internal/geom"
)

// TestSnowballFlight moves along its angle and counts down
func TestSnowballFlight(t *testing.T) {
	s := NewSnowball(0, 0, math.Pi/2, "owner")
	if s.ID == "" {
		t.Fatal("Expected generated id")
	}

	if hit := s.Advance(&fakeTerrain{}, nil, 100); hit != nil {
		t.Fatalf("Unexpected hit %+v", hit)
	}
	if !approxEqual(s.X, 0) || !approxEqual(s.Y, 60) {
		t.Errorf("Expected (0, 60), got (%v, %v)", s.X, s.Y)
	}
	if s.TimeLeft != 900 {
		t.Errorf("Expected timeLeft 900, got %v", s.TimeLeft)
	}

	for i := 0; i < 9; i++ {
		s.Advance(&fakeTerrain{}, nil, 100)
	}
	if !s.Expired() {
		t.Error("Expected snowball to expire after its TTL")
	}
}

// TestSnowballTreeTakesPrecedence stops in a tree even when a player is in range
func TestSnowballTreeTakesPrecedence(t *testing.T) {
	terrain := &fakeTerrain{trees: []geom.Rect{{X: 50, Y: 0, W: 20, H: 20}}}
	owner := NewPlayer("owner", "o", "c", geom.Point{X: 0, Y: 0})
	target := NewPlayer("target", "t", "c", geom.Point{X: 40, Y: -10})

	s := NewSnowball(48, 0, 0, owner.ID)
	hit := s.Advance(terrain, []*Player{owner, target}, 10)

	if hit != nil {
		t.Errorf("Expected no hit, got %+v", hit)
	}
	if s.TimeLeft != -1 {
		t.Errorf("Expected timeLeft -1, got %v", s.TimeLeft)
	}
	if target.Deaths != 0 || owner.Kills != 0 {
		t.Error("Expected no score change on tree hit")
	}
}

// TestSnowballHitsPlayer respawns the victim and credits the thrower
func TestSnowballHitsPlayer(t *testing.T) {
	spawn := geom.Point{X: 900, Y: 900}
	terrain := &fakeTerrain{spawn: spawn}
	owner := NewPlayer("owner", "o", "c", geom.Point{X: 0, Y: 0})
	victim := NewPlayer("victim", "v", "c", geom.Point{X: 200, Y: 100})

	// Victim centre is (216, 116); land the snowball 10px away
	s := NewSnowball(206-SnowballSpeed*50, 116, 0, owner.ID)
	hit := s.Advance(terrain, []*Player{owner, victim}, 50)

	if hit == nil {
		t.Fatal("Expected a hit")
	}
	if hit.Victim != victim || hit.Killer != owner {
		t.Errorf("Unexpected hit %+v", hit)
	}
	if victim.X != spawn.X || victim.Y != spawn.Y || victim.Deaths != 1 {
		t.Errorf("Expected victim respawned with 1 death, got %+v", victim)
	}
	if owner.Kills != 1 {
		t.Errorf("Expected owner kills 1, got %d", owner.Kills)
	}
	if !s.Expired() {
		t.Error("Expected snowball expired after hit")
	}
}

// TestSnowballIgnoresOwner never hits the player who threw it
func TestSnowballIgnoresOwner(t *testing.T) {
	owner := NewPlayer("owner", "o", "c", geom.Point{X: 100, Y: 100})
	s := owner.TryFire(0, DefaultThrowDelayMs)

	if hit := s.Advance(&fakeTerrain{}, []*Player{owner}, 10); hit != nil {
		t.Errorf("Expected owner to be skipped, got %+v", hit)
	}
	if owner.Deaths != 0 {
		t.Error("Owner should not die to own snowball")
	}
}

// TestSnowballOneHitPerTick only resolves the first player in order
func TestSnowballOneHitPerTick(t *testing.T) {
	terrain := &fakeTerrain{spawn: geom.Point{X: 1000, Y: 1000}}
	a := NewPlayer("a", "a", "c", geom.Point{X: 100, Y: 100})
	b := NewPlayer("b", "b", "c", geom.Point{X: 100, Y: 100})

	s := NewSnowball(116, 116, 0, "gone")
	hit := s.Advance(terrain, []*Player{a, b}, 0)

	if hit == nil || hit.Victim != a {
		t.Fatalf("Expected first player hit, got %+v", hit)
	}
	if b.Deaths != 0 {
		t.Error("Expected second player untouched")
	}
	// Owner has left: respawn and death still happen, nobody credited
	if hit.Killer != nil || a.Deaths != 1 {
		t.Errorf("Expected uncredited death, got %+v", hit)
	}
}

// TestAliveFiltersExpired is idempotent
func TestAliveFiltersExpired(t *testing.T) {
	live := NewSnowball(0, 0, 0, "o")
	dead := NewSnowball(0, 0, 0, "o")
	dead.TimeLeft = 0

	balls := Alive([]*Snowball{dead, live})
	if len(balls) != 1 || balls[0] != live {
		t.Fatalf("Expected only live snowball, got %v", balls)
	}
	if again := Alive(balls); len(again) != 1 || again[0] != live {
		t.Errorf("Expected filter to be idempotent, got %v", again)
	}
}
