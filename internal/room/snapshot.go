package room

import (
	"cmp"
	"math"
	"slices"
)

// PlayerScore is one scoreboard line
type PlayerScore struct {
	Rank       int    `json:"rank"`
	ID         string `json:"id"`
	Nickname   string `json:"nickname"`
	SantaColor string `json:"santaColor"`
	Kills      int    `json:"kills"`
	Deaths     int    `json:"deaths"`
}

// Snapshot is a point-in-time summary of a room for the HTTP API
type Snapshot struct {
	ID           string        `json:"id"`
	State        string        `json:"state"`
	RoomName     string        `json:"roomName,omitempty"`
	MapOption    string        `json:"mapOption"`
	Capacity     int           `json:"capacity"`
	WinningScore int           `json:"winningScore"`
	TimeLeftMs   int64         `json:"timeLeftMs"`
	Winner       string        `json:"winner,omitempty"`
	Players      []PlayerScore `json:"players"`
	Snowballs    int           `json:"snowballs"`
}

func (r *Room) snapshot() Snapshot {
	s := Snapshot{
		ID:           r.id,
		State:        r.state.String(),
		RoomName:     r.cfg.RoomName,
		MapOption:    r.cfg.MapOption,
		Capacity:     r.cfg.Capacity,
		WinningScore: r.cfg.WinningScore,
		TimeLeftMs:   int64(math.Ceil(r.timeLeft)),
		Winner:       r.winner,
		Players:      make([]PlayerScore, 0, len(r.players)),
		Snowballs:    len(r.snowballs),
	}
	for _, p := range r.players {
		s.Players = append(s.Players, PlayerScore{
			ID:         p.ID,
			Nickname:   p.Nickname,
			SantaColor: p.SantaColor,
			Kills:      p.Kills,
			Deaths:     p.Deaths,
		})
	}
	rank(s.Players)
	return s
}

// rank orders the scoreboard by kills, then fewer deaths. Ties keep join order.
func rank(scores []PlayerScore) {
	slices.SortStableFunc(scores, func(a, b PlayerScore) int {
		if c := cmp.Compare(b.Kills, a.Kills); c != 0 {
			return c
		}
		return cmp.Compare(a.Deaths, b.Deaths)
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
}
