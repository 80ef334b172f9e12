package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/ZentaChain/lsnp-node/pkg/auth"
	"github.com/ZentaChain/lsnp-node/pkg/directory"
	"github.com/ZentaChain/lsnp-node/pkg/protocol"
)

var (
	// ErrIgnored marks a well formed message the local peer has no use for
	ErrIgnored = errors.New("ignored")
	// ErrSpoofedSource marks a sender whose user id does not match the datagram source
	ErrSpoofedSource = fmt.Errorf("%w: source address does not match sender", auth.ErrUnauthorized)
)

// Outcome is what happened to one inbound datagram
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeLoopback
	OutcomeFramingError
	OutcomeUnknownType
	OutcomeUnauthorized
	OutcomeRejected
	OutcomeIgnored
	OutcomeDuplicate
	numOutcomes
)

var outcomeNames = [numOutcomes]string{
	"delivered", "loopback", "framing_error", "unknown_type",
	"unauthorized", "rejected", "ignored", "duplicate",
}

func (o Outcome) String() string {
	if o < 0 || o >= numOutcomes {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// Handler processes one authorized message
type Handler func(ctx context.Context, m protocol.Message, src netip.AddrPort) error

// on adapts a handler for one concrete message type
func on[T protocol.Message](fn func(ctx context.Context, m T, src netip.AddrPort) error) Handler {
	return func(ctx context.Context, m protocol.Message, src netip.AddrPort) error {
		tm, ok := m.(T)
		if !ok {
			return fmt.Errorf("unexpected message %T for %s", m, m.Type())
		}
		return fn(ctx, tm, src)
	}
}

// Dispatcher validates inbound datagrams and routes them to handlers
type Dispatcher struct {
	self         string
	authority    *auth.Authority
	notifier     Notifier
	strictSource bool
	verbose      bool

	handlers map[protocol.MessageType]Handler
	seen     *recentIDs
	counts   [numOutcomes]atomic.Uint64
}

// NewDispatcher creates a dispatcher for the local user id
func NewDispatcher(self string, authority *auth.Authority, notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = discard{}
	}
	return &Dispatcher{
		self:      self,
		authority: authority,
		notifier:  notifier,
		handlers:  make(map[protocol.MessageType]Handler),
		seen:      newRecentIDs(4096),
	}
}

// SetStrictSource requires the sender's user id address to equal the datagram source
func (d *Dispatcher) SetStrictSource(strict bool) { d.strictSource = strict }

// SetVerbose enables diagnostic notifications for dropped datagrams
func (d *Dispatcher) SetVerbose(verbose bool) { d.verbose = verbose }

// Handle registers the handler for a message type
func (d *Dispatcher) Handle(t protocol.MessageType, h Handler) {
	d.handlers[t] = h
}

// Dispatch processes one datagram. It never panics and never returns an
// error: every failure is classified in the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, dg Datagram) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered from panic handling datagram from %s: %v", dg.Source, r)
			out = OutcomeRejected
		}
		d.counts[out].Add(1)
	}()

	frame, err := protocol.DecodeFrame(dg.Data)
	if err != nil {
		d.diagnose(dg, "framing error: %v", err)
		return OutcomeFramingError
	}

	if sender := frame.Sender(); sender == d.self {
		return OutcomeLoopback
	}

	t := frame.Type()
	log.Debugf("RECV %s from %s:\n%s", t, dg.Source, dg.Data)

	msg, err := protocol.ParseMessage(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			d.diagnose(dg, "unknown message type %q", t)
			return OutcomeUnknownType
		}
		d.diagnose(dg, "%v", err)
		return OutcomeFramingError
	}

	if scope, scoped := protocol.ScopeFor(t); scoped {
		if err := d.authority.Validate(msg.TokenLiteral(), msg.Sender(), scope); err != nil {
			d.alert(msg.Sender(), dg, err)
			return OutcomeUnauthorized
		}
	}

	if d.strictSource {
		if err := checkSource(msg.Sender(), dg.Source); err != nil {
			d.alert(msg.Sender(), dg, err)
			return OutcomeUnauthorized
		}
	}

	if id := frame.Get(protocol.FieldMessageID); id != "" && !d.seen.add(msg.Sender()+"/"+id) {
		log.Debugf("duplicate %s %s from %s", t, id, msg.Sender())
		return OutcomeDuplicate
	}

	h, ok := d.handlers[t]
	if !ok {
		d.diagnose(dg, "no handler for %s", t)
		return OutcomeIgnored
	}

	if err := h(ctx, msg, dg.Source); err != nil {
		switch {
		case errors.Is(err, ErrIgnored):
			log.Debugf("%s from %s ignored: %v", t, msg.Sender(), err)
			return OutcomeIgnored
		case errors.Is(err, auth.ErrUnauthorized):
			d.alert(msg.Sender(), dg, err)
			return OutcomeUnauthorized
		default:
			log.Infof("%s from %s rejected: %v", t, msg.Sender(), err)
			return OutcomeRejected
		}
	}
	return OutcomeDelivered
}

// Counts returns how many datagrams ended in each outcome
func (d *Dispatcher) Counts() map[string]uint64 {
	out := make(map[string]uint64, numOutcomes)
	for i := range d.counts {
		out[Outcome(i).String()] = d.counts[i].Load()
	}
	return out
}

func (d *Dispatcher) diagnose(dg Datagram, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	log.Debugf("drop datagram from %s: %s", dg.Source, text)
	if d.verbose {
		d.notifier.Notify(Notification{
			Kind: KindDiagnostic,
			From: dg.Source.String(),
			Text: text,
			At:   now(),
		})
	}
}

func (d *Dispatcher) alert(sender string, dg Datagram, err error) {
	log.Warnf("security: message from %s (%s) rejected: %v", sender, dg.Source, err)
	d.notifier.Notify(Notification{
		Kind: KindSecurityAlert,
		From: sender,
		Text: err.Error(),
		At:   now(),
	})
}

func checkSource(sender string, src netip.AddrPort) error {
	addr, err := directory.AddressOf(sender)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpoofedSource, err)
	}
	if addr.Unmap() != src.Addr().Unmap() {
		return fmt.Errorf("%w: %s sent from %s", ErrSpoofedSource, sender, src.Addr())
	}
	return nil
}

// recentIDs remembers the last n message ids
type recentIDs struct {
	ids  map[string]struct{}
	ring []string
	next int
	mu   sync.Mutex
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{ids: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add records id and reports whether it was new
func (r *recentIDs) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ids[id]; dup {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.next = (r.next + 1) % len(r.ring)
	r.ids[id] = struct{}{}
	return true
}
