// Package notify turns changes of a session's filtered view into at most one
// notification per change.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/observability"
)

// Permission mirrors the browser notification permission reported by the client.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

func ParsePermission(value string) (Permission, error) {
	switch Permission(value) {
	case "":
		return PermissionDefault, nil
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return Permission(value), nil
	}
	return "", fmt.Errorf("invalid permission %q", value)
}

type Notification struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

type Sink interface {
	Name() string
	Send(ctx context.Context, notification Notification) error
}

// Notifier compares each observed view against the last notified snapshot.
// Views are equal when they have the same length and every element serializes
// to the same JSON at the same position. The snapshot only advances when a
// notification is actually sent.
type Notifier[T any] struct {
	sink     Sink
	describe func(view []T) (title, body string)
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu         sync.Mutex
	snapshot   [][]byte
	enabled    bool
	permission Permission
}

func NewNotifier[T any](sink Sink, describe func(view []T) (string, string), logger *zap.Logger, metrics *observability.Metrics) *Notifier[T] {
	return &Notifier[T]{
		sink:       sink,
		describe:   describe,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		permission: PermissionDefault,
	}
}

func (n *Notifier[T]) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

func (n *Notifier[T]) SetPermission(permission Permission) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.permission = permission
}

func (n *Notifier[T]) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

func (n *Notifier[T]) Permission() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

// Observe reports whether a notification was sent for view.
func (n *Notifier[T]) Observe(ctx context.Context, view []T) (bool, error) {
	serialized, err := serialize(view)
	if err != nil {
		return false, err
	}

	n.mu.Lock()
	if equalViews(n.snapshot, serialized) || !n.enabled || n.permission != PermissionGranted {
		n.mu.Unlock()
		return false, nil
	}
	n.snapshot = serialized
	n.mu.Unlock()

	title, body := n.describe(view)
	notification := Notification{Title: title, Body: body, Timestamp: n.now()}
	if err := n.sink.Send(ctx, notification); err != nil {
		n.logger.Warn("Failed to deliver notification", zap.String("sink", n.sink.Name()), zap.Error(err))
		return true, err
	}
	n.metrics.NotificationsSent.WithLabelValues(n.sink.Name()).Inc()
	return true, nil
}

func serialize[T any](view []T) ([][]byte, error) {
	serialized := make([][]byte, len(view))
	for i, element := range view {
		data, err := json.Marshal(element)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize view element %d: %w", i, err)
		}
		serialized[i] = data
	}
	return serialized, nil
}

func equalViews(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
