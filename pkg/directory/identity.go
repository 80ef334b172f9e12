package directory

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var ErrInvalidUserID = errors.New("invalid user id")

// Identity is a peer's username bound to its LAN address.
// The address is part of the identity, so a user id is all that is
// needed to reach a peer.
type Identity struct {
	Username string
	Address  netip.Addr
}

// NewIdentity creates an identity after checking the username
func NewIdentity(username string, addr netip.Addr) (Identity, error) {
	if err := validateUsername(username); err != nil {
		return Identity{}, err
	}
	if !addr.IsValid() {
		return Identity{}, fmt.Errorf("%w: invalid address", ErrInvalidUserID)
	}
	return Identity{Username: username, Address: addr.Unmap()}, nil
}

// UserID returns username@address
func (i Identity) UserID() string {
	return i.Username + "@" + i.Address.String()
}

func (i Identity) String() string {
	return i.UserID()
}

// ParseUserID splits a user id into its username and address
func ParseUserID(id string) (Identity, error) {
	at := strings.LastIndexByte(id, '@')
	if at <= 0 || at == len(id)-1 {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}

	addr, err := netip.ParseAddr(id[at+1:])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q: %v", ErrInvalidUserID, id, err)
	}
	return NewIdentity(id[:at], addr)
}

// Resolve returns the datagram destination for a user id
func Resolve(userID string, port uint16) (netip.AddrPort, error) {
	id, err := ParseUserID(userID)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(id.Address, port), nil
}

// AddressOf returns the address embedded in a user id
func AddressOf(userID string) (netip.Addr, error) {
	id, err := ParseUserID(userID)
	if err != nil {
		return netip.Addr{}, err
	}
	return id.Address, nil
}

func validateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidUserID)
	}
	if strings.ContainsAny(username, "@|:,\r\n\t ") {
		return fmt.Errorf("%w: username %q contains a reserved character", ErrInvalidUserID, username)
	}
	return nil
}
