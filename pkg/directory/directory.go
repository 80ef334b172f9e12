// Package directory tracks the peers, relationships and groups a node knows about
package directory

import (
	"slices"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("lsnp/directory")

// PeerRecord is the last known profile of a peer
type PeerRecord struct {
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName"`
	Status         string    `json:"status"`
	AvatarType     string    `json:"avatarType,omitempty"`
	AvatarEncoding string    `json:"avatarEncoding,omitempty"`
	AvatarData     string    `json:"avatarData,omitempty"`
	LastSeen       time.Time `json:"lastSeen"`
}

// Directory owns the node's view of other peers.
// All methods are safe for concurrent use.
type Directory struct {
	self string

	peers     map[string]*PeerRecord
	followers map[string]struct{}
	following map[string]struct{}
	groups    map[string]*group

	clock func() time.Time
	mu    sync.RWMutex
}

// New creates a directory for the local user id
func New(self string) *Directory {
	return &Directory{
		self:      self,
		peers:     make(map[string]*PeerRecord),
		followers: make(map[string]struct{}),
		following: make(map[string]struct{}),
		groups:    make(map[string]*group),
		clock:     time.Now,
	}
}

// Self returns the local user id
func (d *Directory) Self() string {
	return d.self
}

// ===== PEERS =====

// UpsertPeer stores a profile, replacing any previous one.
// It reports whether the peer was not known before.
func (d *Directory) UpsertPeer(rec PeerRecord) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.LastSeen.IsZero() {
		rec.LastSeen = d.clock()
	}

	_, known := d.peers[rec.UserID]
	d.peers[rec.UserID] = &rec

	if !known {
		log.Infof("discovered peer %s (%s)", rec.UserID, rec.DisplayName)
	}
	return !known
}

// Peer returns the record for a user id
func (d *Directory) Peer(userID string) (PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.peers[userID]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// DisplayName returns the known display name, falling back to the user id
func (d *Directory) DisplayName(userID string) string {
	if rec, ok := d.Peer(userID); ok && rec.DisplayName != "" {
		return rec.DisplayName
	}
	return userID
}

// Peers returns all known peers ordered by user id
func (d *Directory) Peers() []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]PeerRecord, 0, len(d.peers))
	for _, rec := range d.peers {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ===== RELATIONSHIPS =====

// AddFollower records that userID follows us. It reports whether the set changed.
func (d *Directory) AddFollower(userID string) bool {
	return d.add(d.followers, userID)
}

// RemoveFollower removes userID from our followers
func (d *Directory) RemoveFollower(userID string) bool {
	return d.remove(d.followers, userID)
}

// Followers returns the sorted follower set
func (d *Directory) Followers() []string {
	return d.list(d.followers)
}

// AddFollowing records that we follow userID
func (d *Directory) AddFollowing(userID string) bool {
	return d.add(d.following, userID)
}

// RemoveFollowing records that we no longer follow userID
func (d *Directory) RemoveFollowing(userID string) bool {
	return d.remove(d.following, userID)
}

// Following returns the sorted set of users we follow
func (d *Directory) Following() []string {
	return d.list(d.following)
}

// IsFollowing reports whether we follow userID
func (d *Directory) IsFollowing(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.following[userID]
	return ok
}

func (d *Directory) add(set map[string]struct{}, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := set[userID]; ok {
		return false
	}
	set[userID] = struct{}{}
	return true
}

func (d *Directory) remove(set map[string]struct{}, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	return true
}

func (d *Directory) list(set map[string]struct{}) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
