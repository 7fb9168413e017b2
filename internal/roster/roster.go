// Package roster tracks the other players of a match from the packets the
// relay forwards, and decides when the local player's movement is worth
// replicating.
package roster

import (
	"sort"
	"sync"
	"time"

	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/blukai/fragrelay/internal/relayclient"
)

// Player is a remote player as last reported by the relay. Health is negative
// until the player reports it.
type Player struct {
	ID        uint8
	X, Y, Z   float32
	Angle     float32
	Health    float32
	Sounds    int
	UpdatedAt time.Time
}

type Roster struct {
	mu      sync.RWMutex
	players map[uint8]*Player
	hits    int
	shots   int
	now     func() time.Time
}

func New() *Roster {
	return &Roster{
		players: make(map[uint8]*Player),
		now:     time.Now,
	}
}

// Attach registers the roster's handlers on client.
func (r *Roster) Attach(client *relayclient.RelayClient) {
	client.On(protocol.MovementRecv, r.handleMovement)
	client.On(protocol.Disconnect, r.handleDisconnect)
	client.On(protocol.UpdateHealthRecv, r.handleHealth)
	client.On(protocol.PlaySoundRecv, r.handleSound)
	client.On(protocol.HitPlayerRecv, r.handleHit)
	client.On(protocol.Shot, r.handleShot)
}

// a player appears the first time it moves; health and sounds of players
// that have not moved yet are dropped.
func (r *Roster) handleMovement(pkt protocol.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, x, y, z, angle := protocol.MovementRecvValues(pkt)
	p, ok := r.players[id]
	if !ok {
		p = &Player{ID: id, Health: -1}
		r.players[id] = p
	}
	p.X, p.Y, p.Z = x, y, z
	p.Angle = angle
	p.UpdatedAt = r.now()
}

func (r *Roster) handleDisconnect(pkt protocol.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.players, protocol.DisconnectValues(pkt))
}

func (r *Roster) handleHealth(pkt protocol.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, health := protocol.UpdateHealthRecvValues(pkt)
	if p, ok := r.players[id]; ok {
		p.Health = health
		p.UpdatedAt = r.now()
	}
}

func (r *Roster) handleSound(pkt protocol.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, _ := protocol.PlaySoundRecvValues(pkt)
	if p, ok := r.players[id]; ok {
		p.Sounds++
	}
}

func (r *Roster) handleHit(protocol.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hits++
}

// shots carry no shooter id, so they are only counted.
func (r *Roster) handleShot(protocol.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shots++
}

// Players returns a copy of every known player ordered by id.
func (r *Roster) Players() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].ID < players[j].ID
	})
	return players
}

// Hits is the number of times the local player has been hit.
func (r *Roster) Hits() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hits
}

// Shots is the number of shots fired by other players.
func (r *Roster) Shots() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shots
}
