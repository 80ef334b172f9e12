package directory

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/ZentaChain/lsnp-node/pkg/auth"
)

var (
	ErrUnknownGroup = errors.New("unknown group")
	ErrInvalidGroup = errors.New("invalid group")
	ErrNotOwner     = fmt.Errorf("%w: not the group owner", auth.ErrUnauthorized)
	ErrOwnerRemoval = errors.New("group owner cannot be removed")
	ErrGroupExists  = fmt.Errorf("%w: group already exists", ErrInvalidGroup)
)

// Group is a snapshot of a named member set owned by one user
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

// GroupChange describes the effect of a membership update
type GroupChange struct {
	Added   []string
	Removed []string
	// Left is set when the local user was removed and the record deleted
	Left bool
}

type group struct {
	id      string
	name    string
	owner   string
	members map[string]struct{}
}

func (g *group) snapshot() Group {
	members := make([]string, 0, len(g.members))
	for m := range g.members {
		members = append(members, m)
	}
	slices.Sort(members)
	return Group{ID: g.id, Name: g.name, Owner: g.owner, Members: members}
}

// CreateGroup records a group. The owner is always a member.
// A known group is never replaced: membership only changes through
// UpdateGroupMembership. Re-creating it returns ErrGroupExists for the same
// owner and ErrNotOwner for anyone else.
func (d *Directory) CreateGroup(g Group) error {
	if g.ID == "" || g.Owner == "" {
		return fmt.Errorf("%w: id and owner are required", ErrInvalidGroup)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.groups[g.ID]; ok {
		if existing.owner != g.Owner {
			return fmt.Errorf("group %s: %w", g.ID, ErrNotOwner)
		}
		return fmt.Errorf("%w: %s", ErrGroupExists, g.ID)
	}

	rec := &group{
		id:      g.ID,
		name:    g.Name,
		owner:   g.Owner,
		members: map[string]struct{}{g.Owner: {}},
	}
	if rec.name == "" {
		rec.name = g.ID
	}
	for _, m := range g.Members {
		rec.members[m] = struct{}{}
	}
	d.groups[g.ID] = rec

	log.Infof("group %s (%s) recorded with %d members", g.ID, rec.name, len(rec.members))
	return nil
}

// UpdateGroupMembership applies an add/remove update issued by issuer.
// Only the recorded owner may update a group. When the local user is
// removed the local record is deleted.
func (d *Directory) UpdateGroupMembership(groupID, issuer string, add, remove []string) (GroupChange, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[groupID]
	if !ok {
		return GroupChange{}, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if issuer != g.owner {
		return GroupChange{}, fmt.Errorf("group %s update by %s: %w", groupID, issuer, ErrNotOwner)
	}
	if slices.Contains(remove, g.owner) {
		return GroupChange{}, fmt.Errorf("group %s: %w", groupID, ErrOwnerRemoval)
	}

	var change GroupChange
	for _, m := range add {
		if _, exists := g.members[m]; !exists {
			g.members[m] = struct{}{}
			change.Added = append(change.Added, m)
		}
	}
	for _, m := range remove {
		if _, exists := g.members[m]; exists {
			delete(g.members, m)
			change.Removed = append(change.Removed, m)
		}
	}

	if _, stillMember := g.members[d.self]; !stillMember {
		delete(d.groups, groupID)
		change.Left = true
		log.Infof("removed from group %s, record deleted", groupID)
	}

	return change, nil
}

// DeleteGroup drops a group record
func (d *Directory) DeleteGroup(groupID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[groupID]; !ok {
		return false
	}
	delete(d.groups, groupID)
	return true
}

// Group returns a snapshot of a group
func (d *Directory) Group(groupID string) (Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return Group{}, false
	}
	return g.snapshot(), true
}

// Groups returns snapshots of all groups ordered by id
func (d *Directory) Groups() []Group {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsMember reports whether userID belongs to a known group
func (d *Directory) IsMember(groupID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return false
	}
	_, member := g.members[userID]
	return member
}
