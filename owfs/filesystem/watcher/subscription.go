package watcher

import (
	"sync"

	"github.com/google/uuid"
)

// SubscriptionType records whether a subscription watches a file or a directory
type SubscriptionType int

const (
	FileSubscription SubscriptionType = iota
	DirectorySubscription
)

func (t SubscriptionType) String() string {
	if t == DirectorySubscription {
		return "Directory"
	}
	return "File"
}

type handlers struct {
	onUpdate      UpdateHandler
	onRemove      RemoveHandler
	onRename      RenameHandler
	onAdd         AddHandler
	onChange      ChangeHandler
	onRootRemoved RootRemovedHandler
}

// Subscription is one registered watch. Its path follows renames of the
// watched entry or any of its ancestors.
type Subscription struct {
	id      uuid.UUID
	kind    SubscriptionType
	filters filters

	mu       sync.RWMutex
	path     string
	handlers handlers
}

func newSubscription(path string, kind SubscriptionType, f filters, opts *WatchOptions) *Subscription {
	s := &Subscription{
		id:   uuid.New(),
		kind: kind,
		path: path,
	}
	if kind == DirectorySubscription {
		s.filters = f
	}
	if opts != nil {
		s.handlers = handlers{
			onUpdate:      opts.OnUpdate,
			onRemove:      opts.OnRemove,
			onRename:      opts.OnRename,
			onAdd:         opts.OnAdd,
			onChange:      opts.OnChange,
			onRootRemoved: opts.OnRootRemoved,
		}
	}
	return s
}

func (s *Subscription) ID() uuid.UUID          { return s.id }
func (s *Subscription) Type() SubscriptionType { return s.kind }

// Path returns the current watched path
func (s *Subscription) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Include returns the include rules as given
func (s *Subscription) Include() []string { return ruleStrings(s.filters.include) }

// Exclude returns the exclude rules, ignore files included
func (s *Subscription) Exclude() []string { return ruleStrings(s.filters.exclude) }

func (s *Subscription) OnUpdate(h UpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers.onUpdate = h
}

func (s *Subscription) OnRemove(h RemoveHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers.onRemove = h
}

func (s *Subscription) OnRename(h RenameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers.onRename = h
}

func (s *Subscription) OnAdd(h AddHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers.onAdd = h
}

// OnChange sets the handler that receives every event kind
func (s *Subscription) OnChange(h ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers.onChange = h
}

// OnRootRemoved sets the handler run when the watched root disappears
func (s *Subscription) OnRootRemoved(h RootRemovedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers.onRootRemoved = h
}

func (s *Subscription) snapshotHandlers() handlers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers
}

func (s *Subscription) relocate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

// allows reports whether an event at path passes the subscription filters.
// File subscriptions accept everything.
func (s *Subscription) allows(path string) bool {
	if s.kind == FileSubscription {
		return true
	}
	return s.filters.allows(path, s.Path())
}
