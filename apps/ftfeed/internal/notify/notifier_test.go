package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ftfeed/apps/ftfeed/internal/observability"
)

type item struct {
	Hash   string `json:"hash"`
	Amount string `json:"amount"`
}

type recordingSink struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(ctx context.Context, notification Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func describe(view []item) (string, string) {
	return "New trades", fmt.Sprintf("%d trades match your filters", len(view))
}

func newTestNotifier(sink Sink) *Notifier[item] {
	n := NewNotifier[item](sink, describe, zap.NewNop(), observability.NewNopMetrics())
	n.SetEnabled(true)
	n.SetPermission(PermissionGranted)
	return n
}

func TestObserveNotifiesOncePerChange(t *testing.T) {
	sink := &recordingSink{}
	notifier := newTestNotifier(sink)
	ctx := context.Background()

	view := []item{{Hash: "0x1", Amount: "1"}}
	sent, err := notifier.Observe(ctx, view)
	require.NoError(t, err)
	assert.True(t, sent)

	// Same content in a fresh slice is not a change.
	sent, err = notifier.Observe(ctx, []item{{Hash: "0x1", Amount: "1"}})
	require.NoError(t, err)
	assert.False(t, sent)

	// Order matters.
	view = []item{{Hash: "0x2"}, {Hash: "0x1", Amount: "1"}}
	sent, _ = notifier.Observe(ctx, view)
	assert.True(t, sent)
	sent, _ = notifier.Observe(ctx, []item{{Hash: "0x1", Amount: "1"}, {Hash: "0x2"}})
	assert.True(t, sent)

	require.Equal(t, 3, sink.count())
	assert.Equal(t, "New trades", sink.sent[2].Title)
	assert.Equal(t, "2 trades match your filters", sink.sent[2].Body)
}

func TestObserveRequiresEnabledAndGranted(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		permission Permission
		want       bool
	}{
		{"enabled and granted", true, PermissionGranted, true},
		{"disabled", false, PermissionGranted, false},
		{"denied", true, PermissionDenied, false},
		{"not asked", true, PermissionDefault, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sink := &recordingSink{}
			notifier := NewNotifier[item](sink, describe, zap.NewNop(), observability.NewNopMetrics())
			notifier.SetEnabled(test.enabled)
			notifier.SetPermission(test.permission)

			sent, err := notifier.Observe(context.Background(), []item{{Hash: "0x1"}})
			require.NoError(t, err)
			assert.Equal(t, test.want, sent)
		})
	}
}

func TestSnapshotAdvancesOnlyWhenSent(t *testing.T) {
	sink := &recordingSink{}
	notifier := NewNotifier[item](sink, describe, zap.NewNop(), observability.NewNopMetrics())
	ctx := context.Background()

	view := []item{{Hash: "0x1"}}
	sent, _ := notifier.Observe(ctx, view)
	assert.False(t, sent)

	notifier.SetEnabled(true)
	notifier.SetPermission(PermissionGranted)

	// The change seen while muted is still pending against the old snapshot.
	sent, _ = notifier.Observe(ctx, view)
	assert.True(t, sent)
	assert.Equal(t, 1, sink.count())
}

func TestObserveReportsSinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("socket closed")}
	notifier := newTestNotifier(sink)

	sent, err := notifier.Observe(context.Background(), []item{{Hash: "0x1"}})
	assert.True(t, sent)
	assert.Error(t, err)

	// The failed delivery still counts; the same view is not retried.
	sent, err = notifier.Observe(context.Background(), []item{{Hash: "0x1"}})
	assert.False(t, sent)
	assert.NoError(t, err)
}

func TestSignalCoalesces(t *testing.T) {
	signal := NewSignal()
	sink := &recordingSink{}
	notifier := newTestNotifier(sink)

	// A burst of view changes within one batch.
	var view []item
	for i := 0; i < 10; i++ {
		view = append(view, item{Hash: fmt.Sprintf("0x%d", i)})
		signal.Fire()
	}

	wakeups := 0
	for {
		select {
		case <-signal.C():
			wakeups++
			_, err := notifier.Observe(context.Background(), view)
			require.NoError(t, err)
			continue
		default:
		}
		break
	}

	assert.Equal(t, 1, wakeups)
	assert.Equal(t, 1, sink.count())
}

func TestMultiSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}

	multi := MultiSink{NewLogSink(zap.New(core), zap.String("session_id", "abc")), failing, ok}
	err := multi.Send(context.Background(), Notification{Title: "t", Body: "b"})

	assert.Error(t, err)
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, ok.count())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["session_id"])
}

func TestParsePermission(t *testing.T) {
	permission, err := ParsePermission("")
	require.NoError(t, err)
	assert.Equal(t, PermissionDefault, permission)

	permission, err = ParsePermission("granted")
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, permission)

	_, err = ParsePermission("sure")
	assert.Error(t, err)
}
