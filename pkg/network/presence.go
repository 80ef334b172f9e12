package network

import (
	"context"
	"time"

	"github.com/ZentaChain/lsnp-node/pkg/protocol"
)

// presenceLoop broadcasts PROFILE after the initial delay and then on every
// interval, regardless of inbound traffic
func (p *Peer) presenceLoop(ctx context.Context) {
	timer := time.NewTimer(p.cfg.PresenceDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(p.cfg.PresenceInterval)
	defer ticker.Stop()

	for {
		if err := p.broadcast(p.profile(protocol.TypeProfile)); err != nil {
			log.Warnf("presence broadcast failed: %v", err)
		} else {
			log.Debugf("presence broadcast as %s (%s)", p.UserID(), p.Status())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// profile builds the local PROFILE or PING announcement
func (p *Peer) profile(kind protocol.MessageType) *protocol.Profile {
	m := &protocol.Profile{
		Kind:        kind,
		DisplayName: p.cfg.DisplayName,
		Status:      p.Status(),
	}
	if kind == protocol.TypeProfile {
		m.AvatarType = p.cfg.AvatarType
		m.AvatarEncoding = p.cfg.AvatarEncoding
		m.AvatarData = p.cfg.AvatarData
	}
	m.From = p.UserID()
	return m
}
