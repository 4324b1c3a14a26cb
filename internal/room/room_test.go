package room

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"snowfight/internal/geom"
	"snowfight/internal/protocol"
	"snowfight/internal/roomservice"
	"snowfight/internal/world"
)

// fakeConn records every frame it is sent
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []protocol.Envelope
	closed bool
	full   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("queue full")
	}
	env, err := protocol.JSONCodec{}.Decode(frame)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events returns the frames of one event type
func (c *fakeConn) events(name string) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range c.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

var testSpawn = geom.Point{X: 2000, Y: 2000}

func openMap(t *testing.T) *world.MapManager {
	t.Helper()
	const n = 100
	ground := make([][]world.Tile, n)
	decal := make([][]*world.Tile, n)
	for r := range ground {
		ground[r] = make([]world.Tile, n)
		decal[r] = make([]*world.Tile, n)
	}
	m, err := world.NewMapManager(ground, decal, []geom.Point{testSpawn})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

type testRoom struct {
	*Room
	destroyed chan string
}

func newTestRoom(t *testing.T, cfg roomservice.RoomConfig, mutate func(*Options)) *testRoom {
	t.Helper()
	destroyed := make(chan string, 1)
	opts := DefaultOptions()
	opts.OnDestroy = func(id string, _ *Room) { destroyed <- id }
	if mutate != nil {
		mutate(&opts)
	}
	return &testRoom{Room: New("r1", cfg, openMap(t), opts), destroyed: destroyed}
}

func (tr *testRoom) mustJoin(t *testing.T, id, nickname string) *fakeConn {
	t.Helper()
	c := newFakeConn(id)
	if err := tr.join(c, nickname, "red"); err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return c
}

func (tr *testRoom) player(id string) playerView {
	for _, p := range tr.players {
		if p.ID == id {
			return playerView{x: p.X, y: p.Y, kills: p.Kills, deaths: p.Deaths, canFire: p.CanFire}
		}
	}
	return playerView{missing: true}
}

type playerView struct {
	x, y          float64
	kills, deaths int
	canFire       bool
	missing       bool
}

func (tr *testRoom) place(id string, x, y float64) {
	for _, p := range tr.players {
		if p.ID == id {
			p.X, p.Y = x, y
		}
	}
}

func (tr *testRoom) steps(n int, deltaMs float64) {
	for i := 0; i < n; i++ {
		tr.step(deltaMs)
		tr.flushEvictions()
	}
}

// TestJoinSendsMapAndState covers the frames a new connection receives
func TestJoinSendsMapAndState(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	a := tr.mustJoin(t, "a", "alice")

	if len(a.frames) == 0 || a.frames[0].Event != protocol.EventMap {
		t.Fatalf("Expected map first, got %v", a.frames)
	}
	players := a.events(protocol.EventPlayers)
	if len(players) != 1 || players[0].Patch {
		t.Fatalf("Expected one full players frame, got %v", players)
	}
	list := players[0].Data.([]any)
	if len(list) != 1 || list[0].(map[string]any)["nickname"] != "alice" {
		t.Errorf("Unexpected players payload %v", list)
	}
	if len(a.events(protocol.EventRefresh)) != 1 {
		t.Error("Expected refresh after join")
	}
	rem := a.events(protocol.EventRemaining)
	if len(rem) != 1 || rem[0].Data != 180000.0 {
		t.Errorf("Expected remaining 180000, got %v", rem)
	}

	b := tr.mustJoin(t, "b", "bob")
	if got := a.events(protocol.EventPlayers); len(got[len(got)-1].Data.([]any)) != 2 {
		t.Error("Expected existing player to receive the new full list")
	}
	if len(a.events(protocol.EventMap)) != 1 || len(b.events(protocol.EventMap)) != 1 {
		t.Error("Expected map only sent to the joining connection")
	}
}

// TestJoinAtCapacityIsRejected leaves the room untouched
func TestJoinAtCapacityIsRejected(t *testing.T) {
	cfg := roomservice.DefaultRoomConfig()
	cfg.Capacity = 2
	tr := newTestRoom(t, cfg, nil)
	a := tr.mustJoin(t, "a", "alice")
	tr.mustJoin(t, "b", "bob")
	before := a.count()

	c := newFakeConn("c")
	if err := tr.join(c, "carol", "blue"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("Expected ErrRoomFull, got %v", err)
	}
	if len(tr.players) != 2 || len(tr.conns) != 2 {
		t.Errorf("Expected 2 players, got %d", len(tr.players))
	}
	if c.count() != 0 || a.count() != before {
		t.Error("Expected no frames for a rejected join")
	}
	if err := tr.join(newFakeConn("a"), "dup", "x"); err == nil {
		t.Error("Expected duplicate connection id to be rejected")
	}
}

// TestCapacityNeverExceeded joins many connections against a small room
func TestCapacityNeverExceeded(t *testing.T) {
	cfg := roomservice.DefaultRoomConfig()
	cfg.Capacity = 3
	tr := newTestRoom(t, cfg, nil)

	for i := 0; i < 10; i++ {
		_ = tr.join(newFakeConn(string(rune('a'+i))), "p", "c")
		if len(tr.players) > cfg.Capacity {
			t.Fatalf("players = %d, capacity %d", len(tr.players), cfg.Capacity)
		}
	}
}

// TestMovementThroughRoom moves right for 250ms then holds still
func TestMovementThroughRoom(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	tr.mustJoin(t, "a", "alice")
	tr.place("a", 100, 100)

	tr.SetInputs("a", 0x1000)
	tr.steps(5, 50)

	if p := tr.player("a"); math.Abs(p.x-150) > 1e-9 || p.y != 100 {
		t.Errorf("Expected (150, 100), got (%v, %v)", p.x, p.y)
	}

	// Inputs persist until replaced
	tr.SetInputs("a", 0)
	tr.steps(5, 50)
	if p := tr.player("a"); math.Abs(p.x-150) > 1e-9 {
		t.Errorf("Expected player to stop at 150, got %v", p.x)
	}
}

// TestInputsSurviveFullInbox keeps the newest inputs even when the inbox is saturated
func TestInputsSurviveFullInbox(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	tr.mustJoin(t, "a", "alice")
	tr.place("a", 100, 100)

	for len(tr.inbox) < cap(tr.inbox) {
		tr.inbox <- fireCmd{connID: "a", angle: 0}
	}

	for range 10 {
		tr.SetInputs("a", 0x1000)
	}
	tr.steps(5, 50)
	if p := tr.player("a"); math.Abs(p.x-150) > 1e-9 {
		t.Fatalf("Expected (150, 100) with a full inbox, got (%v, %v)", p.x, p.y)
	}

	tr.SetInputs("a", 0)
	tr.steps(20, 50)
	if p := tr.player("a"); math.Abs(p.x-150) > 1e-9 {
		t.Errorf("Expected release to stop the player at 150, got %v", p.x)
	}
}

// TestInputsForUnknownConnIgnored does not create slots for strangers
func TestInputsForUnknownConnIgnored(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	tr.SetInputs("ghost", 0x1000)
	if _, ok := tr.inputs.Load("ghost"); ok {
		t.Error("Expected no input slot for an unknown connection")
	}
}

// TestPlayersDiffed sends nothing when idle and patches on movement
func TestPlayersDiffed(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	a := tr.mustJoin(t, "a", "alice")
	a.reset()

	tr.steps(1, 50)
	if got := a.events(protocol.EventPlayers); len(got) != 0 {
		t.Errorf("Expected no players frame while idle, got %v", got)
	}
	if len(a.events(protocol.EventSnowballs)) != 1 {
		t.Error("Expected snowballs to be sent every tick")
	}

	tr.SetInputs("a", 0x0010)
	tr.steps(1, 50)
	got := a.events(protocol.EventPlayers)
	if len(got) != 1 || !got[0].Patch {
		t.Fatalf("Expected one patch, got %v", got)
	}
	entry := got[0].Data.([]any)[0].(map[string]any)
	if entry["id"] != "a" || entry["y"] == nil || entry["nickname"] != nil {
		t.Errorf("Expected only changed fields, got %v", entry)
	}
}

// TestPlayersFullWhenDiffDisabled always sends the list
func TestPlayersFullWhenDiffDisabled(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), func(o *Options) { o.DiffPlayers = false })
	a := tr.mustJoin(t, "a", "alice")
	a.reset()

	tr.steps(3, 50)
	got := a.events(protocol.EventPlayers)
	if len(got) != 3 || got[0].Patch {
		t.Errorf("Expected 3 full frames, got %v", got)
	}
}

// setupDuel places alice at (100,100) and bob at (200,100)
func setupDuel(t *testing.T, tr *testRoom) (*fakeConn, *fakeConn) {
	a := tr.mustJoin(t, "a", "alice")
	b := tr.mustJoin(t, "b", "bob")
	tr.place("a", 100, 100)
	tr.place("b", 200, 100)
	a.reset()
	b.reset()
	return a, b
}

// TestSnowballKill covers a hit from throw to respawn
func TestSnowballKill(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	a, b := setupDuel(t, tr)

	tr.handle(fireCmd{connID: "a", angle: 0})
	tr.steps(3, 50)

	victim := tr.player("b")
	if victim.deaths != 1 || victim.x != testSpawn.X || victim.y != testSpawn.Y {
		t.Errorf("Expected bob respawned with 1 death, got %+v", victim)
	}
	if tr.player("a").kills != 1 {
		t.Errorf("Expected alice to have 1 kill")
	}

	deaths := b.events(protocol.EventDeath)
	if len(deaths) != 1 {
		t.Fatalf("Expected one death event, got %d", len(deaths))
	}
	d := deaths[0].Data.(map[string]any)
	if d["victim"].(map[string]any)["id"] != "b" || d["killer"].(map[string]any)["id"] != "a" {
		t.Errorf("Unexpected death payload %v", d)
	}
	if len(a.events(protocol.EventRefresh)) != 1 {
		t.Error("Expected refresh after kill")
	}
	if len(tr.snowballs) != 0 {
		t.Error("Expected snowball removed after hit")
	}
	if tr.state != StateActive {
		t.Error("Room should stay active below the winning score")
	}
}

// TestWinnerEndsRoundOnce announces the winner, freezes, then tears down
func TestWinnerEndsRoundOnce(t *testing.T) {
	cfg := roomservice.DefaultRoomConfig()
	cfg.WinningScore = 1
	tr := newTestRoom(t, cfg, nil)
	a, b := setupDuel(t, tr)

	tr.handle(fireCmd{connID: "a", angle: 0})
	tr.steps(3, 50)

	if tr.state != StateEnding {
		t.Fatalf("Expected ENDING, got %v", tr.state)
	}
	ends := b.events(protocol.EventEnd)
	if len(ends) != 1 || ends[0].Data != "alice" {
		t.Fatalf("Expected one end(alice), got %v", ends)
	}

	// Frozen: inputs are ignored and nothing is broadcast
	a.reset()
	tr.SetInputs("b", 0x0001)
	before := tr.player("b")
	tr.steps(20, 50)
	if after := tr.player("b"); after.y != before.y {
		t.Error("Expected simulation frozen while ending")
	}
	if a.count() != 0 {
		t.Errorf("Expected no frames while ending, got %v", a.frames)
	}

	tr.steps(40, 50)
	select {
	case id := <-tr.destroyed:
		if id != "r1" {
			t.Errorf("destroyed %q", id)
		}
	default:
		t.Fatal("Expected room destroyed after grace delay")
	}
	if tr.state != StateDestroyed || !a.isClosed() || !b.isClosed() {
		t.Error("Expected connections closed on teardown")
	}

	tr.steps(5, 50)
	if a.count() != 0 || len(b.events(protocol.EventEnd)) != 1 {
		t.Error("Expected nothing after teardown")
	}
}

// TestFireCooldown only lets one throw through per cooldown
func TestFireCooldown(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	tr.mustJoin(t, "a", "alice")
	tr.place("a", 100, 100)

	tr.handle(fireCmd{connID: "a", angle: math.Pi})
	tr.steps(1, 50)
	tr.handle(fireCmd{connID: "a", angle: math.Pi})
	tr.steps(1, 50)

	if len(tr.snowballs) != 1 {
		t.Fatalf("Expected 1 snowball, got %d", len(tr.snowballs))
	}

	tr.steps(8, 50)
	tr.handle(fireCmd{connID: "a", angle: math.Pi})
	tr.steps(1, 50)
	if len(tr.snowballs) != 2 {
		t.Errorf("Expected throw allowed after 500ms, got %d snowballs", len(tr.snowballs))
	}
}

// TestExpiredSnowballNotBroadcast drops snowballs past their TTL
func TestExpiredSnowballNotBroadcast(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	a := tr.mustJoin(t, "a", "alice")
	tr.place("a", 1000, 1000)

	tr.handle(fireCmd{connID: "a", angle: 0})
	tr.steps(19, 50)
	last := a.events(protocol.EventSnowballs)
	if n := len(last[len(last)-1].Data.([]any)); n != 1 {
		t.Fatalf("Expected snowball alive at 950ms, got %d", n)
	}

	tr.steps(1, 50)
	last = a.events(protocol.EventSnowballs)
	if n := len(last[len(last)-1].Data.([]any)); n != 0 {
		t.Errorf("Expected expired snowball absent, got %d", n)
	}
}

// TestHitAfterThrowerLeft respawns the victim without crediting anyone
func TestHitAfterThrowerLeft(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	tr.mustJoin(t, "a", "alice")
	b := tr.mustJoin(t, "b", "bob")
	tr.mustJoin(t, "c", "carol")
	tr.place("a", 100, 100)
	tr.place("b", 200, 100)
	tr.place("c", 1000, 1000)

	tr.handle(fireCmd{connID: "a", angle: 0})
	tr.steps(1, 50)
	tr.leave("a")
	b.reset()
	tr.steps(2, 50)

	if tr.player("b").deaths != 1 {
		t.Error("Expected victim death counted")
	}
	if len(b.events(protocol.EventDeath)) != 0 {
		t.Error("Expected no death event without a killer")
	}
	if len(b.events(protocol.EventRefresh)) != 1 {
		t.Error("Expected refresh after uncredited hit")
	}
}

// TestTimeoutPicksFirstJoinedOnTie ends the round on the game clock
func TestTimeoutPicksFirstJoinedOnTie(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), func(o *Options) {
		o.GameLength = time.Second
	})
	a := tr.mustJoin(t, "a", "alice")
	tr.mustJoin(t, "b", "bob")
	tr.mustJoin(t, "c", "carol")
	tr.players[1].Kills = 2
	tr.players[2].Kills = 2

	tr.steps(19, 50)
	if tr.state != StateActive {
		t.Fatal("Round ended early")
	}
	tr.steps(1, 50)

	ends := a.events(protocol.EventEnd)
	if len(ends) != 1 || ends[0].Data != "bob" {
		t.Errorf("Expected end(bob), got %v", ends)
	}
	if tr.state != StateEnding {
		t.Errorf("Expected ENDING, got %v", tr.state)
	}
}

// TestRemainingCadence broadcasts the clock every 500ms
func TestRemainingCadence(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	a := tr.mustJoin(t, "a", "alice")
	a.reset()

	tr.steps(20, 50)
	rem := a.events(protocol.EventRemaining)
	if len(rem) != 2 {
		t.Fatalf("Expected 2 remaining frames in 1s, got %d", len(rem))
	}
	if rem[1].Data != 179000.0 {
		t.Errorf("Expected 179000ms left, got %v", rem[1].Data)
	}
}

// TestTimeoutWithoutPlayers tears down immediately
func TestTimeoutWithoutPlayers(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), func(o *Options) {
		o.GameLength = 100 * time.Millisecond
	})
	tr.steps(2, 50)

	if tr.state != StateDestroyed {
		t.Fatalf("Expected DESTROYED, got %v", tr.state)
	}
	if len(tr.destroyed) != 1 {
		t.Error("Expected OnDestroy")
	}
}

// TestLastDisconnectTearsDown destroys the room when everyone leaves
func TestLastDisconnectTearsDown(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	a := tr.mustJoin(t, "a", "alice")
	tr.mustJoin(t, "b", "bob")

	tr.leave("b")
	if tr.state != StateActive {
		t.Fatal("Room should survive while someone is connected")
	}
	if got := a.events(protocol.EventPlayers); len(got[len(got)-1].Data.([]any)) != 1 {
		t.Error("Expected full list after leave")
	}

	tr.leave("a")
	if tr.state != StateDestroyed {
		t.Fatalf("Expected DESTROYED, got %v", tr.state)
	}
	if tr.winner != protocol.NoWinner {
		t.Errorf("Expected neutral winner, got %q", tr.winner)
	}
	select {
	case <-tr.destroyed:
	default:
		t.Error("Expected OnDestroy")
	}
	tr.leave("a")
}

// TestSlowConnectionEvicted drops a connection whose queue is full
func TestSlowConnectionEvicted(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), nil)
	tr.mustJoin(t, "a", "alice")
	b := tr.mustJoin(t, "b", "bob")

	b.mu.Lock()
	b.full = true
	b.mu.Unlock()
	tr.steps(1, 50)

	if _, ok := tr.conns["b"]; ok {
		t.Error("Expected slow connection removed")
	}
	if !b.isClosed() {
		t.Error("Expected slow connection closed")
	}
	if len(tr.players) != 1 {
		t.Errorf("Expected 1 player left, got %d", len(tr.players))
	}
}

// TestRunLoop drives a room through its public API
func TestRunLoop(t *testing.T) {
	tr := newTestRoom(t, roomservice.DefaultRoomConfig(), func(o *Options) {
		o.TickInterval = 10 * time.Millisecond
	})
	go tr.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := newFakeConn("a")
	if err := tr.Join(ctx, a, "alice", "red"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	tr.SetInputs("a", 0x0100)
	tr.Fire("a", 0)

	snap, err := tr.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.State != "active" || len(snap.Players) != 1 || snap.Players[0].Nickname != "alice" {
		t.Errorf("Unexpected snapshot %+v", snap)
	}

	tr.Stop()
	select {
	case <-tr.Done():
	case <-ctx.Done():
		t.Fatal("Room did not stop")
	}
	if !a.isClosed() {
		t.Error("Expected connection closed on stop")
	}
	if ends := a.events(protocol.EventEnd); len(ends) != 1 || ends[0].Data != protocol.NoWinner {
		t.Errorf("Expected end(no one) on shutdown, got %v", ends)
	}
	if err := tr.Join(ctx, newFakeConn("b"), "bob", "x"); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("Expected ErrRoomClosed after stop, got %v", err)
	}
}

// lobbyRecorder records room service calls in the order they arrive. The
// first update blocks until release is closed.
type lobbyRecorder struct {
	mu      sync.Mutex
	calls   []string
	counts  []int
	release chan struct{}
	blocked chan struct{}
	once    sync.Once
}

func (l *lobbyRecorder) GetRoomInfo(_ context.Context, id string) (roomservice.RoomInfo, error) {
	return roomservice.RoomInfo{RoomID: id, RoomConfig: `{"roomName":"Pit"}`}, nil
}

func (l *lobbyRecorder) UpdateRoomConfig(_ context.Context, _ string, raw string) error {
	l.once.Do(func() {
		close(l.blocked)
		<-l.release
	})
	var doc struct {
		NumberOfPlayers int `json:"numberOfPlayers"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "update")
	l.counts = append(l.counts, doc.NumberOfPlayers)
	return nil
}

func (l *lobbyRecorder) DestroyRoom(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "destroy")
	return nil
}

func TestPlayerCountPublishesLatestInOrder(t *testing.T) {
	svc := &lobbyRecorder{release: make(chan struct{}), blocked: make(chan struct{})}
	tr := newTestRoom(t, roomservice.RoomConfig{Capacity: 8, WinningScore: 5}, func(o *Options) {
		o.Service = svc
	})

	tr.mustJoin(t, "a", "alice")
	<-svc.blocked
	tr.mustJoin(t, "b", "bob")
	tr.mustJoin(t, "c", "carol")
	tr.mustJoin(t, "d", "dave")
	tr.leave("c")
	close(svc.release)

	deadline := time.Now().Add(time.Second)
	for {
		svc.mu.Lock()
		n := len(svc.counts)
		svc.mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	tr.destroy()
	select {
	case <-tr.publishDone:
	case <-time.After(time.Second):
		t.Fatal("Expected publisher to finish after destroy")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.counts) != 2 || svc.counts[0] != 1 || svc.counts[1] != 3 {
		t.Fatalf("Expected updates [1 3], got %v", svc.counts)
	}
	if svc.calls[len(svc.calls)-1] != "destroy" {
		t.Errorf("Expected destroy after every update, got %v", svc.calls)
	}
}

func TestPlayerCountWithoutServiceStartsNothing(t *testing.T) {
	tr := newTestRoom(t, roomservice.RoomConfig{Capacity: 8, WinningScore: 5}, nil)
	tr.mustJoin(t, "a", "alice")
	tr.destroy()
	select {
	case <-tr.publishDone:
		t.Error("Expected no publisher without a room service")
	default:
	}
}
