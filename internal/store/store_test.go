package store

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/compliance-viewer/internal/api"
	"github.com/example/compliance-viewer/pkg/transaction"
)

type fakeTokens struct {
	mu      sync.Mutex
	token   string
	err     error
	valid   bool
	calls   int
	cleared int
}

func (f *fakeTokens) GetToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.valid = true
	return f.token, nil
}

func (f *fakeTokens) CachedToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.valid
}

func (f *fakeTokens) ClearToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.valid = false
}

func (f *fakeTokens) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeSource struct {
	listCalls atomic.Int32
	getCalls  atomic.Int32
	list      func(call int32) ([]transaction.Transaction, error)
	get       func(id string) (transaction.Transaction, error)
}

func (f *fakeSource) ListTransactions(ctx context.Context, token string) ([]transaction.Transaction, error) {
	n := f.listCalls.Add(1)
	return f.list(n)
}

func (f *fakeSource) GetTransaction(ctx context.Context, token, id string) (transaction.Transaction, error) {
	f.getCalls.Add(1)
	return f.get(id)
}

func txs(ids ...string) []transaction.Transaction {
	out := make([]transaction.Transaction, len(ids))
	for i, id := range ids {
		out[i] = transaction.Transaction{TransactionID: id, CertificateType: transaction.TypeInfo{Name: "KYC"}}
	}
	return out
}

func staticList(ids ...string) func(int32) ([]transaction.Transaction, error) {
	return func(int32) ([]transaction.Transaction, error) {
		return txs(ids...), nil
	}
}

func newStore(t *testing.T, tokens *fakeTokens, source *fakeSource, retries uint64) *Store {
	t.Helper()
	s, err := New(tokens, source, zerolog.Nop(), Options{
		Retries:         retries,
		Backoff:         time.Millisecond,
		DetailCacheSize: 8,
	})
	require.NoError(t, err)
	return s
}

func collectIDs(st State) []string {
	ids := make([]string, len(st.Transactions))
	for i, tx := range st.Transactions {
		ids[i] = tx.TransactionID
	}
	return ids
}

func TestNew_InvalidCacheSize(t *testing.T) {
	_, err := New(&fakeTokens{}, &fakeSource{}, zerolog.Nop(), Options{DetailCacheSize: 0})
	assert.ErrorContains(t, err, "detail cache")
}

func TestStore_Initialize(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	source := &fakeSource{list: staticList("a", "b")}
	s := newStore(t, tokens, source, 0)

	var seen []State
	unsubscribe := s.Subscribe(func(st State) { seen = append(seen, st) })
	defer unsubscribe()

	s.Initialize(context.Background())

	st := s.State()
	assert.Equal(t, Ready, st.Phase)
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.Equal(t, []string{"a", "b"}, collectIDs(st))
	assert.False(t, st.LoadedAt.IsZero())

	require.Len(t, seen, 3)
	assert.Equal(t, Uninitialized, seen[0].Phase)
	assert.Empty(t, seen[0].Transactions)
	assert.Equal(t, Loading, seen[1].Phase)
	assert.True(t, seen[1].Loading)
	assert.Equal(t, Ready, seen[2].Phase)
	assert.False(t, seen[2].Loading)
	assert.Equal(t, []string{"a", "b"}, collectIDs(seen[2]))
}

func TestStore_InitializeIsIdempotent(t *testing.T) {
	source := &fakeSource{list: staticList("a")}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 0)

	s.Initialize(context.Background())
	s.Initialize(context.Background())

	assert.Equal(t, int32(1), source.listCalls.Load())
}

func TestStore_InitializeAuthFailure(t *testing.T) {
	cause := errors.New("bad key")
	tokens := &fakeTokens{err: cause}
	source := &fakeSource{list: staticList("a")}
	s := newStore(t, tokens, source, 0)

	s.Initialize(context.Background())

	st := s.State()
	assert.Equal(t, Ready, st.Phase)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Transactions)
	assert.ErrorIs(t, st.Err, cause)
	assert.Equal(t, int32(0), source.listCalls.Load(), "no fetch without a token")
}

func TestStore_RefreshAuthFailureKeepsCollection(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	source := &fakeSource{list: staticList("a", "b")}
	s := newStore(t, tokens, source, 0)

	s.Initialize(context.Background())
	require.Equal(t, []string{"a", "b"}, collectIDs(s.State()))

	tokens.setErr(errors.New("session endpoint down"))
	s.Refresh(context.Background())

	st := s.State()
	assert.False(t, st.Loading)
	assert.Equal(t, []string{"a", "b"}, collectIDs(st))
	assert.Error(t, st.Err)
}

func TestStore_RefreshReplacesCollection(t *testing.T) {
	source := &fakeSource{list: func(call int32) ([]transaction.Transaction, error) {
		if call == 1 {
			return txs("a"), nil
		}
		return txs("b", "c"), nil
	}}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 0)

	s.Initialize(context.Background())
	s.Refresh(context.Background())

	assert.Equal(t, []string{"b", "c"}, collectIDs(s.State()))
	assert.Equal(t, int32(2), source.listCalls.Load())
}

func TestStore_RefreshClearsPreviousError(t *testing.T) {
	tokens := &fakeTokens{token: "tok", err: errors.New("down")}
	s := newStore(t, tokens, &fakeSource{list: staticList("a")}, 0)

	s.Initialize(context.Background())
	require.Error(t, s.State().Err)

	tokens.setErr(nil)
	s.Refresh(context.Background())

	assert.NoError(t, s.State().Err)
	assert.Equal(t, []string{"a"}, collectIDs(s.State()))
}

func TestStore_FetchFailureRetriesTemporaryErrors(t *testing.T) {
	source := &fakeSource{list: func(int32) ([]transaction.Transaction, error) {
		return nil, &api.StatusError{StatusCode: http.StatusServiceUnavailable}
	}}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 2)

	s.Initialize(context.Background())

	st := s.State()
	assert.False(t, st.Loading)
	var fetchErr *FetchError
	require.ErrorAs(t, st.Err, &fetchErr)
	assert.True(t, api.HasStatus(st.Err, http.StatusServiceUnavailable))
	assert.Equal(t, int32(3), source.listCalls.Load())
}

func TestStore_FetchRecoversOnRetry(t *testing.T) {
	source := &fakeSource{list: func(call int32) ([]transaction.Transaction, error) {
		if call == 1 {
			return nil, &api.StatusError{StatusCode: http.StatusBadGateway}
		}
		return txs("a"), nil
	}}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 2)

	s.Initialize(context.Background())

	assert.NoError(t, s.State().Err)
	assert.Equal(t, []string{"a"}, collectIDs(s.State()))
	assert.Equal(t, int32(2), source.listCalls.Load())
}

func TestStore_PermanentFetchErrorIsNotRetried(t *testing.T) {
	source := &fakeSource{list: func(int32) ([]transaction.Transaction, error) {
		return nil, &api.StatusError{StatusCode: http.StatusForbidden}
	}}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 5)

	s.Initialize(context.Background())

	assert.Equal(t, int32(1), source.listCalls.Load())
	assert.Error(t, s.State().Err)
}

func TestStore_UnauthorizedFetchClearsToken(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	source := &fakeSource{list: func(int32) ([]transaction.Transaction, error) {
		return nil, &api.StatusError{StatusCode: http.StatusUnauthorized}
	}}
	s := newStore(t, tokens, source, 0)

	s.Initialize(context.Background())

	assert.Equal(t, 1, tokens.cleared)
	_, ok := tokens.CachedToken()
	assert.False(t, ok)
}

func TestStore_ConcurrentRefreshIsCoalesced(t *testing.T) {
	release := make(chan struct{})
	source := &fakeSource{list: func(int32) ([]transaction.Transaction, error) {
		<-release
		return txs("a"), nil
	}}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Refresh(context.Background())
	}()
	require.Eventually(t, func() bool { return source.listCalls.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Refresh(context.Background())
		}()
	}
	// give the late refreshes time to join the running load
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), source.listCalls.Load())
	assert.False(t, s.Loading())
	assert.Equal(t, []string{"a"}, collectIDs(s.State()))
}

func TestStore_TransactionsReturnsCopy(t *testing.T) {
	s := newStore(t, &fakeTokens{token: "tok"}, &fakeSource{list: staticList("a", "b")}, 0)
	s.Initialize(context.Background())

	got := s.Transactions()
	got[0].TransactionID = "mutated"

	assert.Equal(t, "a", s.Transactions()[0].TransactionID)
}

func TestStore_Find(t *testing.T) {
	s := newStore(t, &fakeTokens{token: "tok"}, &fakeSource{list: staticList("a", "b")}, 0)
	s.Initialize(context.Background())

	tx, ok := s.Find("b")
	assert.True(t, ok)
	assert.Equal(t, "b", tx.TransactionID)

	_, ok = s.Find("zzz")
	assert.False(t, ok)
}

func TestStore_Unsubscribe(t *testing.T) {
	s := newStore(t, &fakeTokens{token: "tok"}, &fakeSource{list: staticList("a")}, 0)

	calls := 0
	unsubscribe := s.Subscribe(func(State) { calls++ })
	unsubscribe()
	s.Initialize(context.Background())

	assert.Equal(t, 1, calls, "only the initial delivery")
}

func TestStore_GetTransactionWithoutSession(t *testing.T) {
	source := &fakeSource{}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 0)

	_, err := s.GetTransaction(context.Background(), "a")

	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, int32(0), source.getCalls.Load())
}

func TestStore_GetTransaction(t *testing.T) {
	source := &fakeSource{
		list: staticList("a"),
		get: func(id string) (transaction.Transaction, error) {
			switch id {
			case "a":
				return transaction.Transaction{TransactionID: "a", BlockSignature: "sig"}, nil
			case "empty":
				return transaction.Transaction{}, nil
			case "broken":
				return transaction.Transaction{}, &api.StatusError{StatusCode: http.StatusInternalServerError}
			default:
				return transaction.Transaction{}, &api.StatusError{StatusCode: http.StatusNotFound}
			}
		},
	}
	s := newStore(t, &fakeTokens{token: "tok"}, source, 0)
	s.Initialize(context.Background())

	tx, err := s.GetTransaction(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "sig", tx.BlockSignature)

	_, err = s.GetTransaction(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.getCalls.Load(), "second lookup served from cache")

	_, err = s.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetTransaction(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetTransaction(context.Background(), "broken")
	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)

	s.Refresh(context.Background())
	_, err = s.GetTransaction(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(5), source.getCalls.Load(), "refresh purges the lookup cache")
}

func TestStore_GetTransactionUnauthorizedClearsToken(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	source := &fakeSource{
		list: staticList(),
		get: func(string) (transaction.Transaction, error) {
			return transaction.Transaction{}, &api.StatusError{StatusCode: http.StatusUnauthorized}
		},
	}
	s := newStore(t, tokens, source, 0)
	s.Initialize(context.Background())

	_, err := s.GetTransaction(context.Background(), "a")

	assert.Error(t, err)
	assert.Equal(t, 1, tokens.cleared)
}
