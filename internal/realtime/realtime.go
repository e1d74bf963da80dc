package realtime

import "encoding/json"

// ChangeType identifies the kind of row change carried by an event
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is a row-level change pushed from the store to clients.
// Row carries the full row as JSON; consumers decode into their own
// types.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  ChangeType      `json:"type"`
	Row   json.RawMessage `json:"row"`
}

// Subscription is the handle returned by Subscribe; Unsubscribe
// releases it. Release is deterministic: no events are delivered after
// Unsubscribe returns.
type Subscription interface {
	Unsubscribe() error
}

// Channel delivers row-change events for a table, scoped to a key
// (the owning user ID). Events for the same key are delivered in
// publish order.
type Channel interface {
	Subscribe(table, key string, fn func(ChangeEvent)) (Subscription, error)
}

// Publisher is the write side used by repositories after a confirmed
// store mutation
type Publisher interface {
	Publish(table, key string, ev ChangeEvent) error
}
