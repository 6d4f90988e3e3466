package store

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/example/compliance-viewer/internal/api"
	"github.com/example/compliance-viewer/internal/logging"
	"github.com/example/compliance-viewer/pkg/transaction"
)

const loadKey = "load"

// Phase is the lifecycle stage of the store
type Phase int

const (
	Uninitialized Phase = iota
	Loading
	Ready
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

// State is a snapshot of the observable store state. Transactions is a
// copy of the collection and is shared by the subscribers of one change,
// so it must be treated as read-only.
type State struct {
	Phase        Phase
	Loading      bool
	Transactions []transaction.Transaction
	// Err is the error of the last load, nil after a successful one
	Err      error
	LoadedAt time.Time
}

// TokenSource hands out session tokens
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	CachedToken() (string, bool)
	ClearToken()
}

// Source retrieves transactions from the remote API
type Source interface {
	ListTransactions(ctx context.Context, token string) ([]transaction.Transaction, error)
	GetTransaction(ctx context.Context, token, id string) (transaction.Transaction, error)
}

// Options tunes retrieval
type Options struct {
	// Retries is the number of extra attempts for a temporary list failure
	Retries         uint64
	Backoff         time.Duration
	DetailCacheSize int
}

// Store owns the in-memory transaction collection and the loading flag.
// Subscribers are called synchronously, in order, on every state change.
// A subscriber may read the store but must not call Initialize or Refresh.
type Store struct {
	tokens  TokenSource
	source  Source
	log     zerolog.Logger
	retries uint64
	backoff time.Duration

	initialized *atomic.Bool
	loads       singleflight.Group
	details     *lru.Cache[string, transaction.Transaction]

	mu           sync.RWMutex
	phase        Phase
	loading      bool
	transactions []transaction.Transaction
	err          error
	loadedAt     time.Time

	// notifyMu orders state changes with their notifications
	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     map[int]func(State)
	nextSub  int
}

// New creates an empty, uninitialized store
func New(tokens TokenSource, source Source, log zerolog.Logger, opts Options) (*Store, error) {
	details, err := lru.New[string, transaction.Transaction](opts.DetailCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create detail cache: %w", err)
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &Store{
		tokens:       tokens,
		source:       source,
		log:          logging.Component(log, "store"),
		retries:      opts.Retries,
		backoff:      backoff,
		initialized:  atomic.NewBool(false),
		details:      details,
		transactions: []transaction.Transaction{},
		subs:         make(map[int]func(State)),
	}, nil
}

// State returns a snapshot of the current state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Loading reports whether a load is in progress
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Transactions returns a copy of the current collection
func (s *Store) Transactions() []transaction.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.transactions)
}

// Find looks a transaction up in the current collection
func (s *Store) Find(id string) (transaction.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.transactions {
		if tx.TransactionID == id {
			return tx, true
		}
	}
	return transaction.Transaction{}, false
}

// Subscribe registers fn and immediately delivers the current state to it.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	fn(s.State())

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Initialize loads the collection once. Later calls return immediately.
// Failures are logged and recorded in State().Err; they are not returned.
func (s *Store) Initialize(ctx context.Context) {
	if !s.initialized.CompareAndSwap(false, true) {
		return
	}
	s.load(ctx)
}

// Refresh loads the collection again whether or not it was initialized.
// A refresh issued while a load is running joins that load.
func (s *Store) Refresh(ctx context.Context) {
	s.initialized.Store(true)
	// loading is raised inside the load so a joined load cannot leave it set
	s.load(ctx)
}

// GetTransaction fetches one transaction on demand with the cached token.
// It never authenticates: without a valid token it returns ErrNoSession.
func (s *Store) GetTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	token, ok := s.tokens.CachedToken()
	if !ok {
		s.log.Error().Str("transaction_id", id).Msg("no access token available")
		return transaction.Transaction{}, ErrNoSession
	}
	if tx, ok := s.details.Get(id); ok {
		return tx, nil
	}

	tx, err := s.source.GetTransaction(ctx, token, id)
	switch {
	case api.HasStatus(err, http.StatusNotFound):
		return transaction.Transaction{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	case err != nil:
		if api.HasStatus(err, http.StatusUnauthorized) {
			s.tokens.ClearToken()
		}
		s.log.Error().Err(err).Str("transaction_id", id).Msg("failed to fetch transaction")
		return transaction.Transaction{}, &FetchError{Op: "fetch transaction " + id, Err: err}
	case tx.TransactionID == "":
		return transaction.Transaction{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	s.details.Add(id, tx)
	return tx, nil
}

func (s *Store) load(ctx context.Context) {
	_, _, _ = s.loads.Do(loadKey, func() (interface{}, error) {
		s.doLoad(ctx)
		return nil, nil
	})
}

func (s *Store) doLoad(ctx context.Context) {
	s.update(func() {
		s.phase = Loading
		s.loading = true
	})

	// the token must come from this load or still be valid
	token, err := s.tokens.GetToken(ctx)
	if err != nil {
		s.fail(err)
		return
	}

	txs, err := s.fetchAll(ctx, token)
	if err != nil {
		if api.HasStatus(err, http.StatusUnauthorized) {
			s.tokens.ClearToken()
		}
		s.fail(&FetchError{Op: "fetch transactions", Err: err})
		return
	}

	s.details.Purge()
	s.update(func() {
		s.phase = Ready
		s.loading = false
		s.transactions = slices.Clone(txs)
		s.err = nil
		s.loadedAt = time.Now()
	})
	s.log.Info().Int("count", len(txs)).Msg("transactions loaded")
}

func (s *Store) fetchAll(ctx context.Context, token string) ([]transaction.Transaction, error) {
	var txs []transaction.Transaction
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		txs, err = s.source.ListTransactions(ctx, token)
		if err != nil && api.IsTemporary(err) {
			s.log.Warn().Err(err).Msg("temporary failure fetching transactions, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// fail records a load failure. The collection keeps its previous value.
func (s *Store) fail(err error) {
	s.log.Error().Err(err).Msg("failed to load blockchain data")
	s.update(func() {
		s.phase = Ready
		s.loading = false
		s.err = err
	})
}

// update applies fn under the state lock and notifies subscribers before
// any other state change can happen
func (s *Store) update(fn func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn()
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(State), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub(st)
	}
}

func (s *Store) snapshotLocked() State {
	return State{
		Phase:        s.phase,
		Loading:      s.loading,
		Transactions: slices.Clone(s.transactions),
		Err:          s.err,
		LoadedAt:     s.loadedAt,
	}
}
