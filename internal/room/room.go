// Package room runs one authoritative game session per room. Each Room is
// owned by a single goroutine (Run); every other goroutine talks to it
// through its inbox, except for input updates which land in per-connection
// slots the tick reads.
package room

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"snowfight/internal/game"
	"snowfight/internal/observability"
	"snowfight/internal/protocol"
	"snowfight/internal/roomservice"
	"snowfight/internal/world"
)

var (
	ErrRoomFull   = errors.New("room: full")
	ErrRoomClosed = errors.New("room: closed")
	ErrDuplicate  = errors.New("room: connection already joined")
)

// State is the room lifecycle state
type State int

const (
	StateActive State = iota
	StateEnding
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Conn is a client connection as seen by a room. Send must not block; it
// returns an error when the frame cannot be queued.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

// Options carries everything a room needs besides its config and map.
type Options struct {
	TickInterval      time.Duration
	GameLength        time.Duration
	EndGrace          time.Duration
	ThrowDelay        time.Duration
	RemainingInterval time.Duration
	DiffPlayers       bool

	Codec          protocol.Codec
	Service        roomservice.Service // optional
	ServiceTimeout time.Duration
	Events         *game.EventLog // optional
	Logger         *zap.SugaredLogger
	OnDestroy      func(id string, r *Room)
}

// DefaultOptions returns the standard room timings with a JSON codec and no collaborators.
func DefaultOptions() Options {
	return Options{
		TickInterval:      50 * time.Millisecond,
		GameLength:        3 * time.Minute,
		EndGrace:          3 * time.Second,
		ThrowDelay:        game.DefaultThrowDelayMs * time.Millisecond,
		RemainingInterval: 500 * time.Millisecond,
		DiffPlayers:       true,
		Codec:             protocol.JSONCodec{},
		ServiceTimeout:    5 * time.Second,
		Logger:            zap.NewNop().Sugar(),
	}
}

// inbox commands
type (
	joinCmd struct {
		conn       Conn
		nickname   string
		santaColor string
		reply      chan error
	}
	leaveCmd struct {
		connID string
	}
	fireCmd struct {
		connID string
		angle  float64
	}
	snapshotCmd struct {
		reply chan Snapshot
	}
)

// Room is one game session.
type Room struct {
	id   string
	cfg  roomservice.RoomConfig
	opts Options
	log  *zap.SugaredLogger

	world      *world.MapManager
	compressor *protocol.Compressor
	mapFrame   []byte

	inbox    chan any
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Latest inputs per connection, written by any goroutine and read once
	// per tick. Entries exist only for joined connections.
	inputs sync.Map // map[string]*atomic.Uint32

	// Lobby publishing. A single worker sends the newest player count and,
	// last of all, the destroy call.
	latestCount  atomic.Int64
	countPending chan struct{}
	publishOnce  sync.Once
	publishStop  chan struct{}
	publishDone  chan struct{}

	// Owned by the Run goroutine
	conns       map[string]Conn
	players     []*game.Player
	snowballs   []*game.Snowball
	pendingFire map[string]float64
	evict       map[string]struct{}

	state       State
	timeLeft    float64 // ms of game clock left
	remainingIn float64 // ms until the next "remaining" broadcast
	graceLeft   float64 // ms of ENDING left
	elapsed     float64
	tick        uint64
	winner      string
}

// New creates a room. Call Run to start it.
func New(id string, cfg roomservice.RoomConfig, m *world.MapManager, opts Options) *Room {
	if opts.Codec == nil {
		opts.Codec = protocol.JSONCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	if opts.ServiceTimeout <= 0 {
		opts.ServiceTimeout = 5 * time.Second
	}
	return &Room{
		id:           id,
		cfg:          cfg,
		opts:         opts,
		log:          opts.Logger.With("room", id),
		world:        m,
		compressor:   protocol.NewCompressor(),
		inbox:        make(chan any, 256),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		countPending: make(chan struct{}, 1),
		publishStop:  make(chan struct{}),
		publishDone:  make(chan struct{}),
		conns:        make(map[string]Conn),
		pendingFire:  make(map[string]float64),
		evict:        make(map[string]struct{}),
		timeLeft:     ms(opts.GameLength),
		remainingIn:  ms(opts.RemainingInterval),
	}
}

// ID returns the room id
func (r *Room) ID() string { return r.id }

// Config returns the settings the room was created with
func (r *Room) Config() roomservice.RoomConfig { return r.cfg }

// Done is closed once Run has returned
func (r *Room) Done() <-chan struct{} { return r.done }

// Stop asks the room to end the round and tear down
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Run owns the room until it is destroyed or stopped.
func (r *Room) Run() {
	defer close(r.done)
	observability.RoomOpened()
	defer observability.RoomClosed()

	r.log.Infow("🏠 Room started", "capacity", r.cfg.Capacity,
		"winningScore", r.cfg.WinningScore, "map", r.cfg.MapOption)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()
	last := time.Now()

	for r.state != StateDestroyed {
		select {
		case <-r.quit:
			r.shutdown()
		case cmd := <-r.inbox:
			r.handle(cmd)
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			start := time.Now()
			r.step(ms(delta))
			observability.RecordTick(time.Since(start))
		}
		r.flushEvictions()
	}
}

// Join adds a connection as a new player. ErrRoomFull and ErrRoomClosed
// leave the room untouched; the caller owns closing the connection.
func (r *Room) Join(ctx context.Context, c Conn, nickname, santaColor string) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- joinCmd{conn: c, nickname: nickname, santaColor: santaColor, reply: reply}:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		// The join may still land; make sure it does not leave a ghost player
		go r.Leave(c.ID())
		return ctx.Err()
	}
}

// Leave removes a connection. Unknown ids are ignored.
func (r *Room) Leave(connID string) {
	select {
	case r.inbox <- leaveCmd{connID: connID}:
	case <-r.done:
	}
}

// SetInputs overwrites the latest inputs of a connection. It never blocks and
// never loses the newest value; unknown ids are ignored.
func (r *Room) SetInputs(connID string, in game.Inputs) {
	if v, ok := r.inputs.Load(connID); ok {
		v.(*atomic.Uint32).Store(uint32(in))
	}
}

func (r *Room) currentInputs(connID string) game.Inputs {
	if v, ok := r.inputs.Load(connID); ok {
		return game.Inputs(v.(*atomic.Uint32).Load())
	}
	return game.InputNone
}

// Fire queues a snowball throw for the next tick. Dropped if the inbox is full.
func (r *Room) Fire(connID string, angle float64) {
	select {
	case r.inbox <- fireCmd{connID: connID, angle: angle}:
	default:
	}
}

// Snapshot returns a read-only summary of the room.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case r.inbox <- snapshotCmd{reply: reply}:
	case <-r.done:
		return Snapshot{}, ErrRoomClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.done:
		return Snapshot{}, ErrRoomClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (r *Room) handle(cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		c.reply <- r.join(c.conn, c.nickname, c.santaColor)
	case leaveCmd:
		r.leave(c.connID)
	case fireCmd:
		if _, ok := r.conns[c.connID]; ok {
			r.pendingFire[c.connID] = c.angle
		}
	case snapshotCmd:
		c.reply <- r.snapshot()
	}
}

func (r *Room) join(c Conn, nickname, santaColor string) error {
	if r.state != StateActive {
		observability.RecordConnectionRejected(observability.RejectNoRoom)
		return ErrRoomClosed
	}
	if len(r.players) >= r.cfg.Capacity {
		observability.RecordConnectionRejected(observability.RejectRoomFull)
		r.log.Infow("🚫 Room full", "conn", c.ID(), "capacity", r.cfg.Capacity)
		return ErrRoomFull
	}
	id := c.ID()
	if _, ok := r.conns[id]; ok {
		return ErrDuplicate
	}

	p := game.NewPlayer(id, nickname, santaColor, r.world.RandomSpawn())
	r.conns[id] = c
	r.players = append(r.players, p)
	r.inputs.Store(id, new(atomic.Uint32))
	observability.AddPlayers(1)

	r.log.Infow("👋 Player joined", "conn", id, "nickname", nickname, "players", len(r.players))
	r.opts.Events.EmitSimple(game.EventTypePlayerJoin, r.id, r.tick, game.PlayerJoinPayload{
		PlayerID:   id,
		Nickname:   nickname,
		SantaColor: santaColor,
		SpawnX:     p.X,
		SpawnY:     p.Y,
		Players:    len(r.players),
	})
	r.publishPlayerCount()

	r.sendTo(c, r.encodedMap())
	r.broadcastPlayers(true)
	r.broadcast(protocol.Envelope{Event: protocol.EventRefresh})
	r.broadcastRemaining()
	return nil
}

func (r *Room) leave(connID string) {
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	r.inputs.Delete(connID)
	delete(r.pendingFire, connID)
	delete(r.evict, connID)
	_ = c.Close()

	var gone *game.Player
	for i, p := range r.players {
		if p.ID == connID {
			gone = p
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}
	if gone != nil {
		observability.AddPlayers(-1)
		r.log.Infow("👋 Player left", "conn", connID, "nickname", gone.Nickname, "players", len(r.players))
		r.opts.Events.EmitSimple(game.EventTypePlayerLeave, r.id, r.tick, game.PlayerLeavePayload{
			PlayerID: connID,
			Nickname: gone.Nickname,
			Kills:    gone.Kills,
			Deaths:   gone.Deaths,
			Players:  len(r.players),
		})
	}

	if len(r.conns) == 0 {
		if r.state == StateActive {
			r.endRound(protocol.NoWinner, observability.EndEmpty)
		}
		r.destroy()
		return
	}

	r.publishPlayerCount()
	r.broadcastPlayers(true)
	r.broadcast(protocol.Envelope{Event: protocol.EventRefresh})
}

// step advances the room clock by deltaMs.
func (r *Room) step(deltaMs float64) {
	switch r.state {
	case StateDestroyed:
		return
	case StateEnding:
		r.graceLeft -= deltaMs
		if r.graceLeft <= 0 {
			r.destroy()
		}
		return
	}

	r.tick++
	r.elapsed += deltaMs

	for _, p := range r.players {
		p.Cooldown(deltaMs)
		p.SetInputs(r.currentInputs(p.ID))
		if angle, ok := r.pendingFire[p.ID]; ok {
			if s := p.TryFire(angle, ms(r.opts.ThrowDelay)); s != nil {
				r.snowballs = append(r.snowballs, s)
			}
		}
	}
	clear(r.pendingFire)

	for _, p := range r.players {
		p.ApplyMovement(r.world, deltaMs)
	}

	for _, s := range r.snowballs {
		if hit := s.Advance(r.world, r.players, deltaMs); hit != nil {
			r.onHit(hit)
		}
	}
	r.snowballs = game.Alive(r.snowballs)

	r.broadcastPlayers(false)
	r.broadcastSnowballs()

	r.timeLeft = math.Max(0, r.timeLeft-deltaMs)
	r.remainingIn -= deltaMs
	if r.remainingIn <= 0 {
		r.broadcastRemaining()
		r.remainingIn += ms(r.opts.RemainingInterval)
		if r.remainingIn <= 0 {
			r.remainingIn = ms(r.opts.RemainingInterval)
		}
	}

	if r.state == StateActive && r.timeLeft <= 0 {
		r.onTimeout()
	}
}

func (r *Room) onHit(hit *game.Hit) {
	observability.RecordKill()

	if hit.Killer == nil {
		// Thrower already left: the victim still respawns but nobody scores
		r.broadcastPlayers(true)
		r.broadcast(protocol.Envelope{Event: protocol.EventRefresh})
		return
	}

	r.opts.Events.EmitSimple(game.EventTypeKill, r.id, r.tick, game.KillPayload{
		KillerID:     hit.Killer.ID,
		VictimID:     hit.Victim.ID,
		KillerKills:  hit.Killer.Kills,
		VictimDeaths: hit.Victim.Deaths,
	})
	r.broadcast(protocol.Envelope{Event: protocol.EventDeath, Data: protocol.Death{
		Victim: hit.Victim.Record(),
		Killer: hit.Killer.Record(),
	}})
	r.broadcastPlayers(true)
	r.broadcast(protocol.Envelope{Event: protocol.EventRefresh})

	if r.state == StateActive && hit.Killer.Kills >= r.cfg.WinningScore {
		r.endRound(hit.Killer.Nickname, observability.EndWinner)
	}
}

func (r *Room) onTimeout() {
	if len(r.players) == 0 {
		r.endRound(protocol.NoWinner, observability.EndTimeout)
		r.destroy()
		return
	}
	top := r.players[0]
	for _, p := range r.players[1:] {
		if p.Kills > top.Kills {
			top = p
		}
	}
	r.endRound(top.Nickname, observability.EndTimeout)
}

// endRound moves an ACTIVE room to ENDING and announces the winner once.
func (r *Room) endRound(winner, reason string) {
	if r.state != StateActive {
		return
	}
	r.state = StateEnding
	r.winner = winner
	r.graceLeft = ms(r.opts.EndGrace)

	r.log.Infow("🏁 Round over", "winner", winner, "reason", reason)
	observability.RecordRoomEnded(reason)
	r.opts.Events.EmitSimple(game.EventTypeRoundEnd, r.id, r.tick, game.RoundEndPayload{
		Winner:     winner,
		Reason:     reason,
		DurationMs: int64(r.elapsed),
	})
	r.broadcast(protocol.Envelope{Event: protocol.EventEnd, Data: winner})
}

// shutdown ends the round for a server stop and tears down at once.
func (r *Room) shutdown() {
	r.endRound(protocol.NoWinner, observability.EndServer)
	r.destroy()
}

func (r *Room) destroy() {
	if r.state == StateDestroyed {
		return
	}
	r.state = StateDestroyed

	for id, c := range r.conns {
		_ = c.Close()
		delete(r.conns, id)
	}
	observability.AddPlayers(-len(r.players))
	r.players = nil
	r.snowballs = nil
	r.inputs.Clear()
	clear(r.evict)

	r.log.Infow("🧹 Room destroyed")
	if r.opts.OnDestroy != nil {
		r.opts.OnDestroy(r.id, r)
	}
	if r.opts.Service != nil {
		r.startPublisher()
		close(r.publishStop)
	}
}

// publishPlayerCount records the current count and wakes the publisher.
// Counts published while an earlier call is in flight collapse into one.
func (r *Room) publishPlayerCount() {
	if r.opts.Service == nil {
		return
	}
	r.latestCount.Store(int64(len(r.players)))
	r.startPublisher()
	select {
	case r.countPending <- struct{}{}:
	default:
	}
}

func (r *Room) startPublisher() {
	r.publishOnce.Do(func() { go r.publishLoop() })
}

// publishLoop talks to the room service for this room, one call at a time.
func (r *Room) publishLoop() {
	defer close(r.publishDone)
	for {
		select {
		case <-r.countPending:
			n := int(r.latestCount.Load())
			r.callService("update", func(ctx context.Context, svc roomservice.Service) error {
				return roomservice.SetPlayerCount(ctx, svc, r.id, n)
			})
		case <-r.publishStop:
			r.callService("destroy", func(ctx context.Context, svc roomservice.Service) error {
				return svc.DestroyRoom(ctx, r.id)
			})
			return
		}
	}
}

// callService runs fn with a timeout; failures are logged and dropped.
func (r *Room) callService(call string, fn func(context.Context, roomservice.Service) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ServiceTimeout)
	defer cancel()
	if err := fn(ctx, r.opts.Service); err != nil {
		observability.RecordRoomServiceError(call)
		r.log.Warnw("⚠️ Room service call failed", "call", call, "error", err)
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
