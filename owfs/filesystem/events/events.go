// Package events defines the change events produced by the diff engine and
// the bus that carries them from snapshots to the subscription router.
package events

// EntryType identifies the kind of filesystem entry an event refers to
type EntryType int

const (
	File EntryType = iota
	Folder
)

func (t EntryType) String() string {
	if t == Folder {
		return "Folder"
	}
	return "File"
}

// ChangeKind discriminates the ChangeEvent variants
type ChangeKind int

const (
	KindUpdate ChangeKind = iota
	KindRemove
	KindRename
	KindAdd
	KindRootRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindRemove:
		return "remove"
	case KindRename:
		return "rename"
	case KindAdd:
		return "add"
	case KindRootRemoved:
		return "rootRemoved"
	default:
		return "unknown"
	}
}

// ChangeEvent is delivered to generic change handlers
type ChangeEvent interface {
	Kind() ChangeKind
}

// UpdateEvent reports a file whose modification time changed
type UpdateEvent struct {
	Path string
	Type EntryType
}

// RemoveEvent reports an entry that disappeared
type RemoveEvent struct {
	Path string
	Type EntryType
}

// AddEvent reports a newly discovered entry
type AddEvent struct {
	Path string
	Type EntryType
}

// RenameEvent reports an entry that moved from OldPath to NewPath
type RenameEvent struct {
	OldPath string
	NewPath string
	Type    EntryType
}

// RootRemovedEvent reports that the watched root itself is gone
type RootRemovedEvent struct {
	Path string
}

func (UpdateEvent) Kind() ChangeKind      { return KindUpdate }
func (RemoveEvent) Kind() ChangeKind      { return KindRemove }
func (AddEvent) Kind() ChangeKind         { return KindAdd }
func (RenameEvent) Kind() ChangeKind      { return KindRename }
func (RootRemovedEvent) Kind() ChangeKind { return KindRootRemoved }
