package view

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/compliance-viewer/internal/store"
	"github.com/example/compliance-viewer/pkg/transaction"
)

type fakeStore struct {
	mu        sync.Mutex
	state     store.State
	sub       func(store.State)
	initCalls int
	refreshes int
	onRefresh func(f *fakeStore)
	remote    map[string]transaction.Transaction
	remoteErr error
}

func newFakeStore(txs ...transaction.Transaction) *fakeStore {
	return &fakeStore{
		state:  store.State{Phase: store.Ready, Transactions: txs},
		remote: map[string]transaction.Transaction{},
	}
}

func (f *fakeStore) Subscribe(fn func(store.State)) func() {
	f.mu.Lock()
	f.sub = fn
	st := f.state
	f.mu.Unlock()
	fn(st)
	return func() {
		f.mu.Lock()
		f.sub = nil
		f.mu.Unlock()
	}
}

func (f *fakeStore) push(st store.State) {
	f.mu.Lock()
	f.state = st
	sub := f.sub
	f.mu.Unlock()
	if sub != nil {
		sub(st)
	}
}

func (f *fakeStore) Initialize(ctx context.Context) {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
}

func (f *fakeStore) Refresh(ctx context.Context) {
	f.mu.Lock()
	f.refreshes++
	hook := f.onRefresh
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
}

func (f *fakeStore) Find(id string) (transaction.Transaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.state.Transactions {
		if tx.TransactionID == id {
			return tx, true
		}
	}
	return transaction.Transaction{}, false
}

func (f *fakeStore) GetTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	if f.remoteErr != nil {
		return transaction.Transaction{}, f.remoteErr
	}
	if tx, ok := f.remote[id]; ok {
		return tx, nil
	}
	return transaction.Transaction{}, store.ErrNotFound
}

func kyc(id, first, last, insertedAt string) transaction.Transaction {
	return transaction.Transaction{
		TransactionID:   id,
		CertificateType: transaction.TypeInfo{Name: transaction.TypeKYC},
		InsertedAt:      insertedAt,
		Data: &transaction.Payload{KYC: &transaction.KYCData{
			PersonalInformation: transaction.PersonalInformation{FirstName: first, LastName: last},
		}},
	}
}

func audit(id, actor, context, insertedAt string) transaction.Transaction {
	return transaction.Transaction{
		TransactionID:   id,
		CertificateType: transaction.TypeInfo{Name: transaction.TypeAudit},
		InsertedAt:      insertedAt,
		Data: &transaction.Payload{Audit: &transaction.AuditData{
			ActorName:         actor,
			AdditionalContext: context,
		}},
	}
}

func fixture() []transaction.Transaction {
	return []transaction.Transaction{
		kyc("k1", "John", "Doe", "2024-01-01T10:00:00Z"),
		kyc("k2", "Jane", "Roe", "2024-01-03T10:00:00Z"),
		audit("a1", "admin", "Login success", "2024-01-02T10:00:00Z"),
	}
}

func ids(xs []transaction.Transaction) []string {
	out := make([]string, len(xs))
	for i, tx := range xs {
		out[i] = tx.TransactionID
	}
	return out
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	v := c.View()
	assert.Equal(t, transaction.TypeAll, v.FilterType)
	assert.Equal(t, transaction.Newest, v.SortOrder)
	assert.Empty(t, v.SearchTerm)
	assert.False(t, v.IsFiltered())
	assert.Nil(t, v.Selected)
	assert.Equal(t, 3, v.Total)
	assert.Equal(t, []string{"k2", "a1", "k1"}, ids(v.Transactions))
	assert.Equal(t, transaction.Stats{Total: 3, KYC: 2, Audit: 1}, v.Stats)
}

func TestController_Start(t *testing.T) {
	s := newFakeStore()
	c := NewController(s, zerolog.Nop())
	defer c.Close()

	c.Start(context.Background())
	assert.Equal(t, 1, s.initCalls)
}

func TestController_SearchRecomputes(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	c.OnSearchChange("doe")
	v := c.View()
	assert.Equal(t, []string{"k1"}, ids(v.Transactions))
	assert.True(t, v.IsFiltered())
	assert.Equal(t, 3, v.Total)

	c.OnSearchChange("")
	assert.Len(t, c.View().Transactions, 3)
}

func TestController_FilterRecomputes(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	c.OnFilterChange("audit")
	v := c.View()
	assert.Equal(t, transaction.TypeAudit, v.FilterType)
	assert.Equal(t, []string{"a1"}, ids(v.Transactions))

	c.OnFilterChange("")
	v = c.View()
	assert.Equal(t, transaction.TypeAll, v.FilterType)
	assert.Len(t, v.Transactions, 3)

	// stats ignore the filter
	assert.Equal(t, 2, v.Stats.KYC)
}

func TestController_SortRecomputes(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	c.OnSortChange(transaction.Oldest)
	assert.Equal(t, []string{"k1", "a1", "k2"}, ids(c.View().Transactions))

	c.OnSortToggle()
	assert.Equal(t, transaction.Newest, c.View().SortOrder)
	assert.Equal(t, []string{"k2", "a1", "k1"}, ids(c.View().Transactions))
}

func TestController_StoreChangeRecomputes(t *testing.T) {
	s := newFakeStore(fixture()...)
	c := NewController(s, zerolog.Nop())
	defer c.Close()

	c.OnFilterChange(transaction.TypeKYC)
	s.push(store.State{
		Phase:        store.Ready,
		Transactions: append(fixture(), kyc("k3", "Max", "Moe", "2024-02-01T00:00:00Z")),
	})

	v := c.View()
	assert.Equal(t, []string{"k3", "k2", "k1"}, ids(v.Transactions))
	assert.Equal(t, 4, v.Total)
	assert.Equal(t, 3, v.Stats.KYC)
}

func TestController_LoadingAndError(t *testing.T) {
	s := newFakeStore(fixture()...)
	c := NewController(s, zerolog.Nop())
	defer c.Close()

	s.push(store.State{Phase: store.Loading, Loading: true, Transactions: fixture()})
	assert.True(t, c.View().Loading)

	boom := errors.New("boom")
	s.push(store.State{Phase: store.Ready, Err: boom, Transactions: fixture()})
	v := c.View()
	assert.False(t, v.Loading)
	assert.ErrorIs(t, v.Err, boom)
	assert.Len(t, v.Transactions, 3)
}

func TestController_Notifications(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	var views []View
	unsubscribe := c.Subscribe(func(v View) { views = append(views, v) })

	c.OnSearchChange("jane")
	c.OnFilterChange(transaction.TypeKYC)
	unsubscribe()
	c.OnSearchChange("")

	require.Len(t, views, 3)
	assert.Len(t, views[0].Transactions, 3)
	assert.Equal(t, []string{"k2"}, ids(views[1].Transactions))
	assert.Equal(t, []string{"k2"}, ids(views[2].Transactions))
	assert.Equal(t, transaction.TypeKYC, views[2].FilterType)
}

func TestController_SelectAndClose(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	c.OnSelect(fixture()[2])
	require.NotNil(t, c.View().Selected)
	assert.Equal(t, "a1", c.View().Selected.TransactionID)

	c.OnCloseDetail()
	assert.Nil(t, c.View().Selected)
}

func TestController_SelectRow(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	require.NoError(t, c.OnSelectRow(1))
	assert.Equal(t, "k2", c.View().Selected.TransactionID)

	assert.Error(t, c.OnSelectRow(0))
	assert.Error(t, c.OnSelectRow(4))
	assert.Equal(t, "k2", c.View().Selected.TransactionID)
}

func TestController_SelectID(t *testing.T) {
	s := newFakeStore(fixture()...)
	s.remote["r1"] = audit("r1", "ops", "Remote", "2023-01-01T00:00:00Z")
	c := NewController(s, zerolog.Nop())
	defer c.Close()

	require.NoError(t, c.OnSelectID(context.Background(), "k1"))
	assert.Equal(t, "k1", c.View().Selected.TransactionID)

	require.NoError(t, c.OnSelectID(context.Background(), "r1"))
	assert.Equal(t, "r1", c.View().Selected.TransactionID)

	err := c.OnSelectID(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, "r1", c.View().Selected.TransactionID)

	s.remoteErr = store.ErrNoSession
	assert.ErrorIs(t, c.OnSelectID(context.Background(), "other"), store.ErrNoSession)
}

func TestController_RefreshClearsSelection(t *testing.T) {
	s := newFakeStore(fixture()...)
	c := NewController(s, zerolog.Nop())
	defer c.Close()

	var sawSelection []bool
	s.onRefresh = func(f *fakeStore) {
		sawSelection = append(sawSelection, c.View().Selected != nil)
		f.push(store.State{Phase: store.Ready, Transactions: fixture()[:1]})
	}

	c.OnSelect(fixture()[0])
	c.OnRefresh(context.Background())

	assert.Equal(t, 1, s.refreshes)
	assert.Equal(t, []bool{false}, sawSelection)
	v := c.View()
	assert.Nil(t, v.Selected)
	assert.Equal(t, 1, v.Total)
}

func TestController_Close(t *testing.T) {
	s := newFakeStore(fixture()...)
	c := NewController(s, zerolog.Nop())
	c.Close()

	s.push(store.State{Phase: store.Ready})
	assert.Equal(t, 3, c.View().Total)
}

func TestController_CountForType(t *testing.T) {
	c := NewController(newFakeStore(fixture()...), zerolog.Nop())
	defer c.Close()

	c.OnFilterChange(transaction.TypeAudit)
	assert.Equal(t, 3, c.CountForType(transaction.TypeAll))
	assert.Equal(t, 2, c.CountForType(transaction.TypeKYC))
	assert.Equal(t, 1, c.CountForType("audit"))
	assert.Equal(t, 0, c.CountForType("AML"))
}
