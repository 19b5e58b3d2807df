package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// HistoryRecord is a price observation tagged with its contract.
type HistoryRecord struct {
	Key ContractKey
	PricePoint
}

// ContractStore persists contracts keyed by (externalId, market). Every
// method that writes does so atomically for a single contract.
type ContractStore interface {
	FindOne(ctx context.Context, key ContractKey) (Contract, error)
	Find(ctx context.Context, filter ContractFilter) ([]Contract, error)
	// UpsertDiscovered inserts a new contract with both operator flags off,
	// or updates only title, current price, category and last-updated.
	UpsertDiscovered(ctx context.Context, c GenericContract) (created bool, err error)
	// RecordPrice appends a history point, prunes points older than
	// retainSince and sets the current price, returning the new state.
	RecordPrice(ctx context.Context, key ContractKey, point PricePoint, retainSince time.Time) (Contract, error)
	SetAlertBaseline(ctx context.Context, key ContractKey, price float64, at time.Time) error
	Patch(ctx context.Context, key ContractKey, patch ContractPatch) (Contract, error)
	HistorySince(ctx context.Context, since time.Time) ([]HistoryRecord, error)
}

// SettingsStore persists the admin settings singleton.
type SettingsStore interface {
	Get(ctx context.Context) (AdminSettings, error)
	Save(ctx context.Context, s AdminSettings) error
}

// SubscriberStore persists SMS subscribers keyed by phone number.
type SubscriberStore interface {
	Create(ctx context.Context, s Subscriber) error
	Get(ctx context.Context, phone string) (Subscriber, error)
	List(ctx context.Context, filter SubscriberFilter) ([]Subscriber, error)
	Update(ctx context.Context, s Subscriber) error
	Delete(ctx context.Context, phone string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only log of operator actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
