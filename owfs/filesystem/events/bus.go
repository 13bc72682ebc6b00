package events

import "sync"

type listeners[T any] struct {
	mu  sync.RWMutex
	fns []func(T)
}

func (l *listeners[T]) add(fn func(T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
}

// emit calls every listener outside the lock so listeners may subscribe reentrantly
func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), len(l.fns))
	copy(fns, l.fns)
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// Bus fans out engine events to registered listeners in registration order.
// Emission is synchronous. A Bus is safe for concurrent use.
type Bus struct {
	update          listeners[UpdateEvent]
	remove          listeners[RemoveEvent]
	rename          listeners[RenameEvent]
	add             listeners[AddEvent]
	snapshotRemoved listeners[string]
	shutdown        listeners[struct{}]
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) OnUpdate(fn func(UpdateEvent)) { b.update.add(fn) }
func (b *Bus) OnRemove(fn func(RemoveEvent)) { b.remove.add(fn) }
func (b *Bus) OnRename(fn func(RenameEvent)) { b.rename.add(fn) }
func (b *Bus) OnAdd(fn func(AddEvent))       { b.add.add(fn) }

// OnSnapshotRemoved registers fn to receive the root path of every pruned snapshot
func (b *Bus) OnSnapshotRemoved(fn func(root string)) { b.snapshotRemoved.add(fn) }

// OnShutdown registers fn to run when the engine is closed
func (b *Bus) OnShutdown(fn func()) {
	b.shutdown.add(func(struct{}) { fn() })
}

func (b *Bus) EmitUpdate(e UpdateEvent) { b.update.emit(e) }
func (b *Bus) EmitRemove(e RemoveEvent) { b.remove.emit(e) }
func (b *Bus) EmitRename(e RenameEvent) { b.rename.emit(e) }
func (b *Bus) EmitAdd(e AddEvent)       { b.add.emit(e) }

func (b *Bus) EmitSnapshotRemoved(root string) { b.snapshotRemoved.emit(root) }
func (b *Bus) EmitShutdown()                   { b.shutdown.emit(struct{}{}) }

// Listeners returns the total number of registered listeners
func (b *Bus) Listeners() int {
	return b.update.len() + b.remove.len() + b.rename.len() + b.add.len() +
		b.snapshotRemoved.len() + b.shutdown.len()
}
