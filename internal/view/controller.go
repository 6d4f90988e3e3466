package view

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/compliance-viewer/internal/logging"
	"github.com/example/compliance-viewer/internal/store"
	"github.com/example/compliance-viewer/pkg/transaction"
)

// Store is the part of the transaction store the controller drives
type Store interface {
	Subscribe(fn func(store.State)) func()
	Initialize(ctx context.Context)
	Refresh(ctx context.Context)
	Find(id string) (transaction.Transaction, bool)
	GetTransaction(ctx context.Context, id string) (transaction.Transaction, error)
}

// View is everything a renderer needs, derived from the store state and
// the current search, filter and sort settings
type View struct {
	Loading bool
	Phase   store.Phase
	Err     error

	// Transactions is the filtered and sorted list
	Transactions []transaction.Transaction
	Total        int
	Stats        transaction.Stats
	Selected     *transaction.Transaction

	SearchTerm string
	FilterType string
	SortOrder  transaction.SortOrder
}

// IsFiltered reports whether a search or a type filter narrows the list
func (v View) IsFiltered() bool {
	return v.SearchTerm != "" || !strings.EqualFold(v.FilterType, transaction.TypeAll)
}

// Controller binds the store to the query engine. Every intent and every
// store change recomputes the view before it becomes observable.
type Controller struct {
	store       Store
	log         zerolog.Logger
	unsubscribe func()

	mu         sync.Mutex
	phase      store.Phase
	loading    bool
	err        error
	all        []transaction.Transaction
	filtered   []transaction.Transaction
	stats      transaction.Stats
	selected   *transaction.Transaction
	searchTerm string
	filterType string
	sortOrder  transaction.SortOrder

	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     map[int]func(View)
	nextSub  int
}

// NewController subscribes to the store with the default settings: all
// types, no search, newest first
func NewController(s Store, log zerolog.Logger) *Controller {
	c := &Controller{
		store:      s,
		log:        logging.Component(log, "view"),
		filterType: transaction.TypeAll,
		sortOrder:  transaction.Newest,
		all:        []transaction.Transaction{},
		filtered:   []transaction.Transaction{},
		subs:       make(map[int]func(View)),
	}
	c.unsubscribe = s.Subscribe(c.onStoreChange)
	return c
}

// Close detaches the controller from the store
func (c *Controller) Close() {
	c.unsubscribe()
}

// Start triggers the first load
func (c *Controller) Start(ctx context.Context) {
	c.store.Initialize(ctx)
}

// View returns the current derived view
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Subscribe registers fn for every view change and delivers the current view
func (c *Controller) Subscribe(fn func(View)) func() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	fn(c.View())

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// CountForType returns the unfiltered count shown on a filter tab
func (c *Controller) CountForType(filterType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.CountFor(filterType)
}

// OnSearchChange sets the free-text search term
func (c *Controller) OnSearchChange(term string) {
	c.apply(func() { c.searchTerm = term })
}

// OnSortChange sets the sort order
func (c *Controller) OnSortChange(order transaction.SortOrder) {
	c.apply(func() { c.sortOrder = order })
}

// OnSortToggle flips the sort order
func (c *Controller) OnSortToggle() {
	c.apply(func() { c.sortOrder = c.sortOrder.Toggle() })
}

// OnFilterChange sets the certificate type filter; "" means all types
func (c *Controller) OnFilterChange(filterType string) {
	if filterType == "" {
		filterType = transaction.TypeAll
	}
	c.apply(func() { c.filterType = strings.ToUpper(filterType) })
}

// OnSelect opens the detail of a transaction
func (c *Controller) OnSelect(tx transaction.Transaction) {
	c.apply(func() { c.selected = &tx })
}

// OnSelectID selects a transaction by id, looking it up remotely when it
// is not part of the loaded collection
func (c *Controller) OnSelectID(ctx context.Context, id string) error {
	if tx, ok := c.store.Find(id); ok {
		c.OnSelect(tx)
		return nil
	}
	tx, err := c.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	c.OnSelect(tx)
	return nil
}

// OnSelectRow selects the n-th row (1-based) of the visible list
func (c *Controller) OnSelectRow(n int) error {
	c.mu.Lock()
	if n < 1 || n > len(c.filtered) {
		count := len(c.filtered)
		c.mu.Unlock()
		return fmt.Errorf("row %d out of range 1..%d", n, count)
	}
	tx := c.filtered[n-1]
	c.mu.Unlock()

	c.OnSelect(tx)
	return nil
}

// OnCloseDetail clears the selection
func (c *Controller) OnCloseDetail() {
	c.apply(func() { c.selected = nil })
}

// OnRefresh clears the selection and reloads the collection
func (c *Controller) OnRefresh(ctx context.Context) {
	c.apply(func() { c.selected = nil })
	c.log.Debug().Msg("refresh requested")
	c.store.Refresh(ctx)
}

func (c *Controller) onStoreChange(st store.State) {
	c.apply(func() {
		c.phase = st.Phase
		c.loading = st.Loading
		c.err = st.Err
		c.all = st.Transactions
		c.stats = transaction.ComputeStats(st.Transactions)
	})
}

// apply mutates the controller state, recomputes the list and notifies
// subscribers, all before the next change can start
func (c *Controller) apply(fn func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	fn()
	c.filtered = transaction.Query(c.all, c.filterType, c.searchTerm, c.sortOrder)
	v := c.viewLocked()
	c.mu.Unlock()

	c.subMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(View), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, c.subs[id])
	}
	c.subMu.Unlock()

	for _, sub := range subs {
		sub(v)
	}
}

func (c *Controller) viewLocked() View {
	return View{
		Loading:      c.loading,
		Phase:        c.phase,
		Err:          c.err,
		Transactions: slices.Clone(c.filtered),
		Total:        len(c.all),
		Stats:        c.stats,
		Selected:     c.selected,
		SearchTerm:   c.searchTerm,
		FilterType:   c.filterType,
		SortOrder:    c.sortOrder,
	}
}
