package parser_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duka-ledger/duka/internal/ledger"
	"github.com/duka-ledger/duka/internal/parser"
)

func chatReply(content string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return payload
}

func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newRemote(t *testing.T, url string, mutate ...func(*parser.RemoteConfig)) *parser.Remote {
	t.Helper()
	cfg := parser.RemoteConfig{URL: url, APIKey: "secret", Model: "test-model", Timeout: time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	remote, err := parser.NewRemote(cfg, nil, nil)
	require.NoError(t, err)
	return remote
}

func TestNewRemoteRequiresCredentials(t *testing.T) {
	_, err := parser.NewRemote(parser.RemoteConfig{URL: "http://backend"}, nil, nil)
	require.ErrorIs(t, err, parser.ErrNotConfigured)
	_, err = parser.NewRemote(parser.RemoteConfig{APIKey: "k"}, nil, nil)
	require.ErrorIs(t, err, parser.ErrNotConfigured)
}

func TestRemoteParsesFencedReply(t *testing.T) {
	var mu sync.Mutex
	var seen struct {
		auth, requestID string
		body            map[string]any
	}
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen.auth = r.Header.Get("Authorization")
		seen.requestID = r.Header.Get("X-Request-ID")
		_ = json.NewDecoder(r.Body).Decode(&seen.body)
		_, _ = w.Write(chatReply("```json\n{\"kind\":\"sale\",\"product\":\"Soda\",\"quantity\":3,\"customer\":\"Grace\",\"settlement\":\"credit\",\"amount\":4500}\n```"))
	})

	got, err := newRemote(t, srv.URL).Parse(context.Background(), "Sold 3 sodas to Grace on credit")
	require.NoError(t, err)
	assert.Equal(t, ledger.KindSale, got.Kind)
	assert.Equal(t, "soda", got.Product)
	assert.Equal(t, int64(3), got.Quantity)
	assert.Equal(t, "Grace", got.Customer)
	assert.Equal(t, ledger.SettlementCredit, got.Settlement)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(4500)))
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, parser.StrategyRemote, got.Source)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret", seen.auth)
	assert.NotEmpty(t, seen.requestID)
	assert.Equal(t, "test-model", seen.body["model"])
	messages := seen.body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, parser.Instruction, messages[0].(map[string]any)["content"])
	assert.Equal(t, "Sold 3 sodas to Grace on credit", messages[1].(map[string]any)["content"])
}

func TestDecodeCandidate(t *testing.T) {
	got, err := parser.DecodeCandidate(`{"kind":"payment","product":"milk","customer":"James","settlement":"credit","amount":"2000"}`)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPayment, got.Kind)
	assert.Empty(t, got.Product)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(2000)))

	got, err = parser.DecodeCandidate(`{"kind":"sale","product":null,"quantity":1,"customer":null,"amount":100}`)
	require.NoError(t, err)
	assert.Equal(t, ledger.WalkIn, got.Customer)
	assert.Equal(t, ledger.SettlementCash, got.Settlement)

	got, err = parser.DecodeCandidate(`{"kind":"sale","product":"soda","quantity":1,"customer":"  grace ","settlement":"credit","amount":1500}`)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.Customer)

	got, err = parser.DecodeCandidate(`{"kind":"sale","quantity":1,"customer":"Walk-In","amount":100}`)
	require.NoError(t, err)
	assert.Equal(t, ledger.WalkIn, got.Customer)

	for _, bad := range []string{
		`not json`,
		`{"kind":"refund","amount":1}`,
		`{"kind":"sale","settlement":"barter"}`,
		`{"kind":"sale","quantity":1.5}`,
		`{"kind":"sale","quantity":-2}`,
		`{"kind":"sale","amount":-1}`,
		`{"kind":"sale","product":"soda","quantity":99999999999999999999}`,
	} {
		_, err := parser.DecodeCandidate(bad)
		require.ErrorIs(t, err, parser.ErrBadResponse, bad)
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, parser.StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, parser.StripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, parser.StripFences("  {\"a\":1} "))
}

func TestRemoteErrorsOnBadStatusAndTimeout(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	})
	_, err := newRemote(t, srv.URL).Parse(context.Background(), "sold soda")
	require.ErrorIs(t, err, parser.ErrBadResponse)

	slow := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	remote := newRemote(t, slow.URL, func(c *parser.RemoteConfig) { c.Timeout = 50 * time.Millisecond })
	start := time.Now()
	_, err = remote.Parse(context.Background(), "sold soda")
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestRemoteBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	remote := newRemote(t, srv.URL, func(c *parser.RemoteConfig) {
		c.FailureThreshold = 3
		c.OpenTimeout = time.Minute
	})

	for i := 0; i < 3; i++ {
		_, err := remote.Parse(context.Background(), "sold soda")
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, remote.State())

	_, err := remote.Parse(context.Background(), "sold soda")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, int32(3), calls.Load())
}

func TestRemoteCallerCancellationDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write(chatReply(`{"kind":"sale","product":"soda","quantity":1,"customer":"Grace","settlement":"cash","amount":1500}`))
	})
	remote := newRemote(t, srv.URL, func(c *parser.RemoteConfig) {
		c.FailureThreshold = 1
		c.OpenTimeout = time.Minute
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := remote.Parse(ctx, "sold soda")
		require.ErrorIs(t, err, context.Canceled)
		cancel()
	}

	got, err := remote.Parse(context.Background(), "sold soda")
	require.NoError(t, err)
	assert.Equal(t, "soda", got.Product)
	assert.Equal(t, gobreaker.StateClosed, remote.State())
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestRemoteWaitersShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write(chatReply(`{"kind":"purchase","product":"bread","quantity":10,"settlement":"cash","amount":25000}`))
	})
	remote := newRemote(t, srv.URL)

	first, cancelFirst := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = remote.Parse(first, "Bought 10 bread from supplier")
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, results[1] = remote.Parse(context.Background(), "bought 10 bread  from supplier")
	}()
	time.Sleep(20 * time.Millisecond)

	// The first caller leaving must not abort the call the second is waiting on.
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.ErrorIs(t, results[0], context.Canceled)
	require.NoError(t, results[1])
	require.Equal(t, int32(1), calls.Load())
}
