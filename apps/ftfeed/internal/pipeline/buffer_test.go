package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/chain/chaintest"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/observability"
	"ftfeed/apps/ftfeed/internal/profile"
)

type testEvent struct {
	hash      string
	addresses []string
}

func (e testEvent) Hash() string        { return e.hash }
func (e testEvent) Addresses() []string { return e.addresses }

type fakeIndex struct {
	mu    sync.Mutex
	known map[string]bool
}

func newFakeIndex(addresses ...string) *fakeIndex {
	index := &fakeIndex{known: make(map[string]bool)}
	for _, address := range addresses {
		index.known[address] = true
	}
	return index
}

func (f *fakeIndex) Has(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[address]
}

func (f *fakeIndex) add(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[address] = true
}

type recordingRequester struct {
	mu        sync.Mutex
	requested []string
}

func (r *recordingRequester) Request(ctx context.Context, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, address)
}

func (r *recordingRequester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requested)
}

func newTestBuffer(cap int, index ProfileIndex, requester Requester) *Buffer[testEvent] {
	return NewBuffer[testEvent](Config{Kind: "test", Cap: cap}, index, requester, zap.NewNop(), observability.NewNopMetrics())
}

func hashes(events []testEvent) []string {
	var out []string
	for _, event := range events {
		out = append(out, event.hash)
	}
	return out
}

func TestSubmitDeduplicates(t *testing.T) {
	buffer := newTestBuffer(10, newFakeIndex("a", "b"), &recordingRequester{})
	ctx := context.Background()

	// Same hash twice within one batch, then again in a later batch.
	buffer.Submit(ctx, []testEvent{
		{hash: "0x1", addresses: []string{"a"}},
		{hash: "0x1", addresses: []string{"b"}},
	})
	buffer.Submit(ctx, []testEvent{{hash: "0x1", addresses: []string{"a"}}})

	admitted := buffer.Admitted()
	require.Len(t, admitted, 1)
	assert.Equal(t, []string{"a"}, admitted[0].addresses)
	assert.Equal(t, 0, buffer.PendingCount())
}

func TestAdmissionRequiresEveryAddress(t *testing.T) {
	index := newFakeIndex("trader")
	requester := &recordingRequester{}
	buffer := newTestBuffer(10, index, requester)
	ctx := context.Background()

	buffer.Submit(ctx, []testEvent{{hash: "0x1", addresses: []string{"trader", "subject"}}})

	assert.Empty(t, buffer.Admitted())
	assert.Equal(t, 1, buffer.PendingCount())
	// Stored profiles are requested too; the requester decides whether they are fresh.
	assert.Equal(t, []string{"trader", "subject"}, requester.requested)

	index.add("subject")
	buffer.Rescan(ctx)

	assert.Equal(t, []string{"0x1"}, hashes(buffer.Admitted()))
	assert.Equal(t, 0, buffer.PendingCount())
}

func TestAdmittedOrderAndCap(t *testing.T) {
	index := newFakeIndex()
	buffer := newTestBuffer(3, index, &recordingRequester{})
	ctx := context.Background()

	buffer.Submit(ctx, []testEvent{
		{hash: "0x1", addresses: []string{"a"}},
		{hash: "0x2", addresses: []string{"a"}},
	})
	index.add("a")
	buffer.Rescan(ctx)
	assert.Equal(t, []string{"0x2", "0x1"}, hashes(buffer.Admitted()))

	buffer.Submit(ctx, []testEvent{
		{hash: "0x3", addresses: []string{"a"}},
		{hash: "0x4", addresses: []string{"a"}},
	})
	assert.Equal(t, []string{"0x4", "0x3", "0x2"}, hashes(buffer.Admitted()))

	// 0x1 was evicted by the cap and must not come back from a trailing window.
	buffer.Submit(ctx, []testEvent{{hash: "0x1", addresses: []string{"a"}}})
	assert.Equal(t, []string{"0x4", "0x3", "0x2"}, hashes(buffer.Admitted()))
	assert.Equal(t, 0, buffer.PendingCount())
}

func TestListenersReceiveOneBatchPerScan(t *testing.T) {
	index := newFakeIndex()
	buffer := newTestBuffer(10, index, &recordingRequester{})
	ctx := context.Background()

	var batches [][]string
	buffer.OnChange(func(batch []testEvent) {
		batches = append(batches, hashes(batch))
	})

	buffer.Submit(ctx, []testEvent{
		{hash: "0x1", addresses: []string{"a"}},
		{hash: "0x2", addresses: []string{"a"}},
		{hash: "0x3", addresses: []string{"b"}},
	})
	assert.Empty(t, batches)

	index.add("a")
	buffer.Rescan(ctx)
	buffer.Rescan(ctx)

	require.Len(t, batches, 1)
	assert.Equal(t, []string{"0x2", "0x1"}, batches[0])
}

func TestPendingMaxAge(t *testing.T) {
	requester := &recordingRequester{}
	buffer := NewBuffer[testEvent](Config{
		Kind:          "test",
		Cap:           10,
		PendingMaxAge: time.Minute,
		RetryAfter:    20 * time.Second,
	}, newFakeIndex(), requester, zap.NewNop(), observability.NewNopMetrics())

	now := time.Now()
	buffer.now = func() time.Time { return now }
	ctx := context.Background()

	buffer.Submit(ctx, []testEvent{{hash: "0x1", addresses: []string{"a"}}})
	assert.Equal(t, 1, requester.count())

	now = now.Add(30 * time.Second)
	buffer.Rescan(ctx)
	assert.Equal(t, 2, requester.count(), "missing profile is re-requested")
	assert.Equal(t, 1, buffer.PendingCount())

	now = now.Add(time.Minute)
	buffer.Rescan(ctx)
	assert.Equal(t, 0, buffer.PendingCount())
	assert.Empty(t, buffer.Admitted())

	// A dropped event is not remembered; a later poll may submit it again.
	buffer.Submit(ctx, []testEvent{{hash: "0x1", addresses: []string{"a"}}})
	assert.Equal(t, 1, buffer.PendingCount())
}

func TestFallbackProfileAdmitsWithinOneCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := profile.NewStore()
	fetcher := profile.NewFetcher(profile.FetcherConfig{
		BaseURL:  server.URL,
		Timeout:  time.Second,
		Cooldown: time.Minute,
	}, store, chaintest.NewFakeClient(), zap.NewNop(), observability.NewNopMetrics())

	buffer := NewBuffer[model.TradeEvent](Config{Kind: "trade", Cap: 10}, store, fetcher, zap.NewNop(), observability.NewNopMetrics())
	ctx := context.Background()
	store.OnChange(func(string) { buffer.Rescan(ctx) })

	trade := model.TradeEvent{
		Trader:          "0x00000000000000000000000000000000000000a1",
		Subject:         "0x00000000000000000000000000000000000000b2",
		TransactionType: model.Buy,
		EthAmount:       "0.5000000",
		TransactionHash: "0xfeed",
	}
	buffer.Submit(ctx, []model.TradeEvent{trade})
	fetcher.Wait()

	admitted := buffer.Admitted()
	require.Len(t, admitted, 1)
	assert.Equal(t, "0xfeed", admitted[0].TransactionHash)

	subject, ok := store.Get(trade.Subject)
	require.True(t, ok)
	assert.True(t, subject.Fallback)
}

func TestSubmitRefreshesStoredProfiles(t *testing.T) {
	const address = "0x00000000000000000000000000000000000000c3"

	tests := []struct {
		name         string
		status       int
		body         string
		wantFallback bool
		wantHits     int32
	}{
		{
			name:         "fallback profile is retried after the cooldown",
			status:       http.StatusBadGateway,
			wantFallback: true,
			wantHits:     2,
		},
		{
			name:     "fresh profile is kept",
			status:   http.StatusOK,
			body:     `{"userData":{"twitterUsername":"carol","address":"` + address + `"}}`,
			wantHits: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			store := profile.NewStore()
			fetcher := profile.NewFetcher(profile.FetcherConfig{
				BaseURL:  server.URL,
				Timeout:  time.Second,
				Cooldown: 50 * time.Millisecond,
			}, store, chaintest.NewFakeClient(), zap.NewNop(), observability.NewNopMetrics())

			buffer := NewBuffer[model.TradeEvent](Config{Kind: "trade", Cap: 10}, store, fetcher, zap.NewNop(), observability.NewNopMetrics())
			ctx := context.Background()
			store.OnChange(func(string) { buffer.Rescan(ctx) })

			trade := func(hash string) model.TradeEvent {
				return model.TradeEvent{
					Trader:          address,
					Subject:         address,
					TransactionType: model.Buy,
					EthAmount:       "0.1000000",
					TransactionHash: hash,
				}
			}

			buffer.Submit(ctx, []model.TradeEvent{trade("0x01")})
			fetcher.Wait()
			require.Equal(t, int32(1), hits.Load())

			stored, ok := store.Get(address)
			require.True(t, ok)
			assert.Equal(t, tt.wantFallback, stored.Fallback)

			require.Eventually(t, func() bool { return !fetcher.CoolingDown(address) }, time.Second, 10*time.Millisecond)

			buffer.Submit(ctx, []model.TradeEvent{trade("0x02")})
			fetcher.Wait()

			assert.Equal(t, tt.wantHits, hits.Load())
			assert.Equal(t, []string{"0x02", "0x01"}, tradeHashes(buffer.Admitted()))
		})
	}
}

func tradeHashes(events []model.TradeEvent) []string {
	var out []string
	for _, event := range events {
		out = append(out, event.TransactionHash)
	}
	return out
}
