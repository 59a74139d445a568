package props

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/propdb/value"
)

// ChangeEvent reports one committed change of an entity's properties.
// Changed properties appear in both Added and Removed.
type ChangeEvent struct {
	ID        uuid.UUID
	Key       EntityKey
	Added     value.Map
	Removed   value.Map
	Operation string
	At        time.Time
}

type Listener func(ctx context.Context, ev *ChangeEvent)

// Bus delivers change events synchronously, in subscription order.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscribe registers f and returns a function that removes it.
func (b *Bus) Subscribe(f Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = f
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
		b.order = slices.DeleteFunc(b.order, func(v int) bool { return v == id })
	}
}

func (b *Bus) Publish(ctx context.Context, ev *ChangeEvent) {
	b.mu.RLock()
	fs := make([]Listener, 0, len(b.listeners))
	for _, id := range b.order {
		if f := b.listeners[id]; f != nil {
			fs = append(fs, f)
		}
	}
	b.mu.RUnlock()
	for _, f := range fs {
		f(ctx, ev)
	}
}

type operationKey struct{}

// WithOperation tags changes made under ctx with a business operation
// name, reported in ChangeEvent.Operation.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func OperationFrom(ctx context.Context) string {
	op, _ := ctx.Value(operationKey{}).(string)
	return op
}
