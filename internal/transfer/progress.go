package transfer

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// BufferSize is the capacity of a subscriber channel.
const BufferSize = 100

var ErrUnknownTransfer = errors.New("unknown transfer")

// Bus is a single-subscriber progress channel for one transfer. Subscribing
// replaces the previous subscriber, whose channel is closed. Publishing never
// blocks: samples are dropped when nobody listens or the buffer is full,
// except the terminal sample which always reaches the current subscriber.
type Bus struct {
	mu        sync.Mutex
	sub       chan Sample
	latest    Sample
	hasLatest bool
	done      bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a stream of samples. If samples were already published
// the latest one is delivered first; if the transfer is over the stream holds
// only that sample and is closed.
func (b *Bus) Subscribe() <-chan Sample {
	ch := make(chan Sample, BufferSize)
	b.attach(ch)
	return ch
}

func (b *Bus) attach(ch chan Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		close(b.sub)
		b.sub = nil
	}
	if b.hasLatest {
		ch <- b.latest
		if b.done {
			close(ch)
			return
		}
	}
	b.sub = ch
}

// Publish offers s to the subscriber and reports whether it was delivered.
// Samples published after a terminal one are ignored.
func (b *Bus) Publish(s Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return false
	}
	b.latest, b.hasLatest = s, true
	terminal := s.Terminal()
	b.done = terminal

	if b.sub == nil {
		return false
	}

	delivered := true
	select {
	case b.sub <- s:
	default:
		if !terminal {
			delivered = false
			break
		}
		// Make room: this is the only sender, so the send below cannot block.
		select {
		case <-b.sub:
		default:
		}
		b.sub <- s
	}

	if terminal {
		close(b.sub)
		b.sub = nil
	}
	return delivered
}

// Latest returns the most recent sample.
func (b *Bus) Latest() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// Close detaches the subscriber without publishing anything.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		close(b.sub)
		b.sub = nil
	}
	b.done = true
}

// Registry maps transfer ids to their own Bus so concurrent transfers never
// share a subscriber slot.
type Registry struct {
	mu    sync.RWMutex
	buses map[string]*Bus
	next  chan Sample
}

func NewRegistry() *Registry {
	return &Registry{buses: make(map[string]*Bus)}
}

// NewTransferID returns a fresh transfer identifier.
func NewTransferID() string {
	return uuid.NewString()
}

// Open registers a bus for id, or returns the existing one. A subscriber
// waiting through SubscribeNext is attached to a newly opened bus.
func (r *Registry) Open(id string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bus, ok := r.buses[id]; ok {
		return bus
	}
	bus := NewBus()
	r.buses[id] = bus
	if r.next != nil {
		bus.attach(r.next)
		r.next = nil
	}
	return bus
}

// Get returns the bus registered for id.
func (r *Registry) Get(id string) (*Bus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bus, ok := r.buses[id]
	return bus, ok
}

// Subscribe attaches to the bus of an existing transfer.
func (r *Registry) Subscribe(id string) (<-chan Sample, error) {
	bus, ok := r.Get(id)
	if !ok {
		return nil, ErrUnknownTransfer
	}
	return bus.Subscribe(), nil
}

// SubscribeNext returns a stream attached to whichever transfer is opened
// next. Only one such waiter exists at a time; a second call replaces and
// closes the first.
func (r *Registry) SubscribeNext() <-chan Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next != nil {
		close(r.next)
	}
	r.next = make(chan Sample, BufferSize)
	return r.next
}

// Publish forwards s to the bus of s.TransferID, dropping it when the
// transfer is unknown.
func (r *Registry) Publish(s Sample) bool {
	bus, ok := r.Get(s.TransferID)
	if !ok {
		return false
	}
	return bus.Publish(s)
}

// Latest returns the most recent sample of a transfer.
func (r *Registry) Latest(id string) (Sample, bool) {
	bus, ok := r.Get(id)
	if !ok {
		return Sample{}, false
	}
	return bus.Latest()
}

// Remove forgets a transfer and closes its subscriber.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	bus, ok := r.buses[id]
	delete(r.buses, id)
	r.mu.Unlock()

	if ok {
		bus.Close()
	}
}
