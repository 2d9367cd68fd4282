// Package pipeline holds decoded events until every address they reference has
// a profile, then admits them for display.
package pipeline

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/observability"
)

// Event is anything keyed by a transaction hash that needs profiles before display.
type Event interface {
	Hash() string
	Addresses() []string
}

type ProfileIndex interface {
	Has(address string) bool
}

type Requester interface {
	Request(ctx context.Context, address string)
}

type Config struct {
	// Kind labels logs and metrics ("trade", "deposit").
	Kind string
	Cap  int
	// PendingMaxAge drops events that are still missing profiles after this long. Zero disables.
	PendingMaxAge time.Duration
	// RetryAfter re-requests missing profiles of events pending at least this long.
	RetryAfter   time.Duration
	SeenCapacity int
}

type pendingEntry[E Event] struct {
	event       E
	seq         uint64
	submittedAt time.Time
}

// Buffer is the per-event state table. An event is Pending until its profiles
// are present, then Admitted. Admitted events are kept newest-first and capped;
// hashes pushed out by the cap are remembered so a trailing poll window cannot
// bring them back.
type Buffer[E Event] struct {
	config    Config
	profiles  ProfileIndex
	requester Requester
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu          sync.Mutex
	seq         uint64
	pending     map[string]*pendingEntry[E]
	admitted    []E
	admittedSet map[string]struct{}
	seen        *lru.Cache[string, struct{}]
	listeners   []func(batch []E)
}

func NewBuffer[E Event](config Config, profiles ProfileIndex, requester Requester, logger *zap.Logger, metrics *observability.Metrics) *Buffer[E] {
	if config.Cap <= 0 {
		config.Cap = 500
	}
	if config.SeenCapacity <= 0 {
		config.SeenCapacity = 4 * config.Cap
	}
	// Only fails for a non-positive size.
	seen, _ := lru.New[string, struct{}](config.SeenCapacity)

	return &Buffer[E]{
		config:      config,
		profiles:    profiles,
		requester:   requester,
		logger:      logger.With(zap.String("kind", config.Kind)),
		metrics:     metrics,
		now:         time.Now,
		pending:     make(map[string]*pendingEntry[E]),
		admittedSet: make(map[string]struct{}),
		seen:        seen,
	}
}

// OnChange registers a listener called with each newly admitted batch, newest first.
func (b *Buffer[E]) OnChange(listener func(batch []E)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
}

// Submit adds newly discovered events. Events already pending, admitted or
// recently evicted are ignored, including repeats within the same batch.
// Every address of a new event is requested, even one with a stored profile;
// the requester decides whether that profile is fresh or still cooling down.
func (b *Buffer[E]) Submit(ctx context.Context, events []E) {
	b.mu.Lock()
	now := b.now()
	var addresses []string
	for _, event := range events {
		hash := event.Hash()
		if b.knownLocked(hash) {
			b.metrics.EventsDropped.WithLabelValues(b.config.Kind, "duplicate").Inc()
			continue
		}
		b.seq++
		b.pending[hash] = &pendingEntry[E]{event: event, seq: b.seq, submittedAt: now}
		addresses = append(addresses, event.Addresses()...)
	}
	b.mu.Unlock()

	for _, address := range addresses {
		b.requester.Request(ctx, address)
	}
	b.Rescan(ctx)
}

func (b *Buffer[E]) knownLocked(hash string) bool {
	if _, ok := b.pending[hash]; ok {
		return true
	}
	if _, ok := b.admittedSet[hash]; ok {
		return true
	}
	return b.seen.Contains(hash)
}

// Rescan promotes every pending event whose addresses all have profiles. It is
// meant to run on each profile store change.
func (b *Buffer[E]) Rescan(ctx context.Context) {
	b.mu.Lock()
	now := b.now()

	var ready []*pendingEntry[E]
	var retry []string
	for hash, entry := range b.pending {
		missing := b.missingAddresses(entry.event)
		if len(missing) == 0 {
			ready = append(ready, entry)
			delete(b.pending, hash)
			continue
		}

		age := now.Sub(entry.submittedAt)
		if b.config.PendingMaxAge > 0 && age > b.config.PendingMaxAge {
			delete(b.pending, hash)
			b.metrics.EventsDropped.WithLabelValues(b.config.Kind, "expired").Inc()
			b.logger.Warn("Dropping event still missing profiles", zap.String("tx_hash", hash), zap.Strings("missing", missing), zap.Duration("age", age))
			continue
		}
		if b.config.RetryAfter > 0 && age >= b.config.RetryAfter {
			retry = append(retry, missing...)
		}
	}

	var batch []E
	if len(ready) > 0 {
		// Latest discovered first.
		sort.Slice(ready, func(i, j int) bool { return ready[i].seq > ready[j].seq })
		batch = make([]E, 0, len(ready))
		for _, entry := range ready {
			batch = append(batch, entry.event)
			b.admittedSet[entry.event.Hash()] = struct{}{}
		}
		b.admitted = append(append(make([]E, 0, len(batch)+len(b.admitted)), batch...), b.admitted...)
		b.truncateLocked()
	}

	b.metrics.PendingEvents.WithLabelValues(b.config.Kind).Set(float64(len(b.pending)))
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, address := range retry {
		b.requester.Request(ctx, address)
	}

	if len(batch) == 0 {
		return
	}
	b.metrics.EventsAdmitted.WithLabelValues(b.config.Kind).Add(float64(len(batch)))
	b.logger.Debug("Admitted events", zap.Int("count", len(batch)))
	for _, listener := range listeners {
		listener(append([]E(nil), batch...))
	}
}

func (b *Buffer[E]) missingAddresses(event E) []string {
	var missing []string
	for _, address := range event.Addresses() {
		if !b.profiles.Has(address) {
			missing = append(missing, address)
		}
	}
	return missing
}

func (b *Buffer[E]) truncateLocked() {
	if len(b.admitted) <= b.config.Cap {
		return
	}
	for _, evicted := range b.admitted[b.config.Cap:] {
		hash := evicted.Hash()
		delete(b.admittedSet, hash)
		b.seen.Add(hash, struct{}{})
	}
	b.admitted = b.admitted[:b.config.Cap:b.config.Cap]
}

// Admitted returns a copy of the admitted events, newest first.
func (b *Buffer[E]) Admitted() []E {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]E(nil), b.admitted...)
}

func (b *Buffer[E]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
