package store

import (
	"slices"
	"sync"

	"goshare-relay/internal/protocol"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type Peer struct {
	ID       string
	Username string
	Outbox   *Outbox
}

// Registry maps usernames to the outbox of their connection. Every mutation
// broadcasts the resulting roster before the lock is released.
type Registry struct {
	peers map[string]*Peer
	mu    sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*Peer),
	}
}

// Register adds username, replacing any previous entry, and broadcasts the
// roster. The replaced connection is left untouched.
func (r *Registry) Register(username string, outbox *Outbox) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer := &Peer{
		ID:       uuid.New().String(),
		Username: username,
		Outbox:   outbox,
	}
	if old, exists := r.peers[username]; exists {
		logrus.WithFields(logrus.Fields{
			"function": "Register",
			"username": username,
			"old_id":   old.ID,
			"new_id":   peer.ID,
		}).Warn("Username already registered, replacing entry")
	}
	r.peers[username] = peer
	r.broadcastLocked(protocol.ClientList(r.rosterLocked()))
	return peer
}

// Unregister removes username if present and broadcasts the roster.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, username)
	r.broadcastLocked(protocol.ClientList(r.rosterLocked()))
}

// Deregister removes peer only if it still owns its username. It reports
// whether an entry was removed.
func (r *Registry) Deregister(peer *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.peers[peer.Username]
	if !exists || current.ID != peer.ID {
		return false
	}
	delete(r.peers, peer.Username)
	r.broadcastLocked(protocol.ClientList(r.rosterLocked()))
	return true
}

// Lookup returns the peer registered as username. The entry may disappear as
// soon as the call returns; writes to its outbox then fail with an I/O error.
func (r *Registry) Lookup(username string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, exists := r.peers[username]
	return peer, exists
}

func (r *Registry) Broadcast(frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(frame)
}

func (r *Registry) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

func (r *Registry) rosterLocked() []string {
	names := lo.Keys(r.peers)
	slices.Sort(names)
	return names
}

func (r *Registry) broadcastLocked(frame string) {
	for _, peer := range r.peers {
		if err := peer.Outbox.Send(frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "broadcast",
				"username": peer.Username,
				"error":    err.Error(),
			}).Warn("Failed to deliver frame to peer")
		}
	}
}
