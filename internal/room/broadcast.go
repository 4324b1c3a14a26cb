package room

import (
	"math"

	"snowfight/internal/observability"
	"snowfight/internal/protocol"
	"snowfight/internal/world"
)

// mapPayload is the body of the "map" event
type mapPayload struct {
	Ground [][]world.Tile  `json:"ground" msgpack:"ground"`
	Decal  [][]*world.Tile `json:"decal" msgpack:"decal"`
}

func (r *Room) encode(env protocol.Envelope) []byte {
	frame, err := r.opts.Codec.Encode(env)
	if err != nil {
		r.log.Errorw("encode failed", "event", env.Event, "error", err)
		return nil
	}
	return frame
}

// broadcast sends env to every connection. Connections whose queue is full
// are evicted once the current command or tick is done.
func (r *Room) broadcast(env protocol.Envelope) {
	if len(r.conns) == 0 {
		return
	}
	frame := r.encode(env)
	for _, c := range r.conns {
		r.sendTo(c, frame)
	}
}

func (r *Room) sendTo(c Conn, frame []byte) {
	if frame == nil {
		return
	}
	if err := c.Send(frame); err != nil {
		r.evict[c.ID()] = struct{}{}
		return
	}
	observability.IncrementWSMessagesOut()
}

// flushEvictions drops connections that could not keep up. Leaving can
// broadcast and evict more, so loop until the set is empty.
func (r *Room) flushEvictions() {
	for len(r.evict) > 0 {
		for id := range r.evict {
			delete(r.evict, id)
			r.log.Warnw("⚠️ Dropping slow connection", "conn", id)
			r.leave(id)
		}
	}
}

// broadcastPlayers sends the player list. With diffing enabled it sends a
// patch, or nothing when no player changed; force sends the full list and
// makes it the new reference.
func (r *Room) broadcastPlayers(force bool) {
	records := make([]protocol.Record, len(r.players))
	for i, p := range r.players {
		records[i] = p.Record()
	}

	if !r.opts.DiffPlayers {
		r.broadcast(protocol.Envelope{Event: protocol.EventPlayers, Data: records})
		return
	}
	if force {
		r.compressor.Full(protocol.EventPlayers, records)
		r.broadcast(protocol.Envelope{Event: protocol.EventPlayers, Data: records})
		return
	}
	data, patch, ok := r.compressor.Compress(protocol.EventPlayers, records)
	if !ok {
		return
	}
	r.broadcast(protocol.Envelope{Event: protocol.EventPlayers, Data: data, Patch: patch})
}

func (r *Room) broadcastSnowballs() {
	records := make([]protocol.Record, len(r.snowballs))
	for i, s := range r.snowballs {
		records[i] = s.Record()
	}
	r.broadcast(protocol.Envelope{Event: protocol.EventSnowballs, Data: records})
}

func (r *Room) broadcastRemaining() {
	r.broadcast(protocol.Envelope{Event: protocol.EventRemaining, Data: int64(math.Ceil(r.timeLeft))})
}

// encodedMap is built on first use; the map never changes.
func (r *Room) encodedMap() []byte {
	if r.mapFrame == nil {
		r.mapFrame = r.encode(protocol.Envelope{Event: protocol.EventMap, Data: mapPayload{
			Ground: r.world.Ground(),
			Decal:  r.world.Decal(),
		}})
	}
	return r.mapFrame
}
