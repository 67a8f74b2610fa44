package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sync-service/pkg/models"
)

// Event is the provider-independent shape of one external calendar event.
// Adapters translate to and from their wire formats at this boundary.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
	// ReminderMins zero means no reminder override.
	ReminderMins int  `json:"reminder_minutes,omitempty"`
	Cancelled    bool `json:"cancelled,omitempty"`
}

// TimeRange bounds event listing on both sync directions.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Provider is one external system. Implementations are black boxes to the
// sync core: idempotency against the provider is the adapter's problem,
// matching events to local records is the link table's.
type Provider interface {
	Name() models.SyncSource
	ListEvents(ctx context.Context, calendarID string, window TimeRange) ([]Event, error)
	CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	// RefreshCredentials is invoked once after an authentication failure;
	// the failed call is retried if refresh succeeds.
	RefreshCredentials(ctx context.Context) error
}

// ProviderError wraps a provider API failure with enough context for the
// execution log. Per-record provider errors are recorded, not propagated.
type ProviderError struct {
	Provider models.SyncSource
	Op       string
	Err      error
	// AuthFailure triggers the credential-refresh hook.
	AuthFailure bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Factory builds a provider from a decrypted credential blob and the
// integration's settings.
type Factory func(ctx context.Context, credentials []byte, settings models.SyncSettings) (Provider, error)

// Registry maps provider kinds to factories. Populated at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.SyncSource]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.SyncSource]Factory)}
}

func (r *Registry) Register(source models.SyncSource, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[source] = f
}

func (r *Registry) Open(ctx context.Context, source models.SyncSource, credentials []byte, settings models.SyncSettings) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", source)
	}
	return f(ctx, credentials, settings)
}

func (r *Registry) Supported() []models.SyncSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SyncSource, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	return out
}
