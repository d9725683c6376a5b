package watcher

import (
	"fmt"
	"time"
)

// ChangeKind classifies a detected transition of one file.
type ChangeKind uint8

const (
	// Create: a path not present in the watch state was found.
	Create ChangeKind = iota + 1
	// Update: a known path's content digest changed.
	Update
	// Delete: a known path no longer exists at the end of a cycle.
	Delete
)

func (k ChangeKind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of Create, Update or Delete.
func (k ChangeKind) Valid() bool {
	return k >= Create && k <= Delete
}

// MarshalText encodes the kind by name for JSON sinks.
func (k ChangeKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("marshal %s: invalid change kind", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind written by MarshalText.
func (k *ChangeKind) UnmarshalText(text []byte) error {
	for _, candidate := range []ChangeKind{Create, Update, Delete} {
		if string(text) == candidate.String() {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unmarshal %q: invalid change kind", text)
}

// ChangeEvent reports one transition of one file.
type ChangeEvent struct {
	Path       string     `json:"path"`
	Kind       ChangeKind `json:"kind"`
	ObservedAt time.Time  `json:"observed_at"`
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

// Listener consumes change events. OnChange runs on the watcher's dispatch
// goroutine and must return quickly: a slow listener delays delivery to every
// other listener and, once the event buffer fills, the detector itself.
type Listener interface {
	OnChange(event ChangeEvent) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(event ChangeEvent) error

func (f ListenerFunc) OnChange(event ChangeEvent) error {
	return f(event)
}
