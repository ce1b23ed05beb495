// Package memstore is an in-process store.Store. Units of work are
// serialized and run against a private copy of the state that replaces the
// shared one only on commit, so a failed unit of work leaves no trace.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/outbox"
)

type Store struct {
	mu    sync.Mutex
	st    *state
	topic string
	now   func() time.Time

	obMu   sync.Mutex
	ob     []outbox.Record
	nextOB int64
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithTopic(topic string) Option {
	return func(s *Store) { s.topic = topic }
}

func New(opts ...Option) *Store {
	s := &Store{
		st:    newState(),
		topic: contracts.TopicOrders,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type state struct {
	products  map[string]domain.Product
	orders    map[string]domain.Order
	subOrders map[string]domain.SubOrder
	idem      map[string]string
	seq       map[string]int64
	nextSeq   int64
	events    []outbox.Record
}

func newState() *state {
	return &state{
		products:  map[string]domain.Product{},
		orders:    map[string]domain.Order{},
		subOrders: map[string]domain.SubOrder{},
		idem:      map[string]string{},
		seq:       map[string]int64{},
	}
}

// clone copies the maps. Record slices are never mutated in place, so
// sharing them between copies is safe.
func (s *state) clone() *state {
	c := &state{
		products:  make(map[string]domain.Product, len(s.products)),
		orders:    make(map[string]domain.Order, len(s.orders)),
		subOrders: make(map[string]domain.SubOrder, len(s.subOrders)),
		idem:      make(map[string]string, len(s.idem)),
		seq:       make(map[string]int64, len(s.seq)),
		nextSeq:   s.nextSeq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.subOrders {
		c.subOrders[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{s: s, st: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st

	if len(tx.st.events) > 0 {
		s.obMu.Lock()
		for _, rec := range tx.st.events {
			s.nextOB++
			rec.ID = s.nextOB
			s.ob = append(s.ob, rec)
		}
		s.obMu.Unlock()
		s.st.events = nil
	}
	return nil
}

// PutProduct seeds or replaces a catalog entry. It stands in for the
// catalog collaborator and is not part of store.Tx.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

// UpsertProduct is PutProduct with the catalog signature used by the
// service layer.
func (s *Store) UpsertProduct(_ context.Context, p domain.Product) error {
	s.PutProduct(p)
	return nil
}

func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	return p, ok
}

// Counts reports how many orders and sub-orders are committed.
func (s *Store) Counts() (orders, subOrders int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders), len(s.st.subOrders)
}

func (s *Store) FetchPending(_ context.Context, limit int) ([]outbox.Record, error) {
	s.obMu.Lock()
	defer s.obMu.Unlock()
	var out []outbox.Record
	for _, rec := range s.ob {
		if rec.SentAt != nil {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, id int64) error {
	s.obMu.Lock()
	defer s.obMu.Unlock()
	for i := range s.ob {
		if s.ob[i].ID == id {
			at := s.now()
			s.ob[i].SentAt = &at
			return nil
		}
	}
	return store.ErrRowNotFound
}

// Events returns every committed outbox record, sent or not.
func (s *Store) Events() []outbox.Record {
	s.obMu.Lock()
	defer s.obMu.Unlock()
	return append([]outbox.Record(nil), s.ob...)
}

type memTx struct {
	s  *Store
	st *state
}

func (t *memTx) InStockProducts(_ context.Context, ids []string) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok && p.Stock > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) Product(_ context.Context, id string) (domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return domain.Product{}, store.ErrRowNotFound
	}
	return p, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int64) (bool, error) {
	p, ok := t.st.products[productID]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	t.st.products[productID] = p
	return true, nil
}

func (t *memTx) stamp(id string) {
	t.st.nextSeq++
	t.st.seq[id] = t.st.nextSeq
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	now := t.s.now()
	o.ID = uuid.NewString()
	o.CreatedAt, o.UpdatedAt = now, now
	rec := *o
	rec.Items = append([]domain.LineItem(nil), o.Items...)
	rec.SubOrderIDs = append([]string(nil), o.SubOrderIDs...)
	rec.SubOrders = nil
	t.st.orders[rec.ID] = rec
	t.stamp(rec.ID)
	return nil
}

func (t *memTx) InsertSubOrder(_ context.Context, so *domain.SubOrder) error {
	if _, ok := t.st.orders[so.OrderID]; !ok {
		return store.ErrRowNotFound
	}
	now := t.s.now()
	so.ID = uuid.NewString()
	so.CreatedAt, so.UpdatedAt = now, now
	rec := *so
	rec.Items = append([]domain.LineItem(nil), so.Items...)
	t.st.subOrders[rec.ID] = rec
	t.stamp(rec.ID)
	return nil
}

func (t *memTx) SetSubOrderIDs(_ context.Context, orderID string, ids []string) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return store.ErrRowNotFound
	}
	o.SubOrderIDs = append([]string(nil), ids...)
	o.UpdatedAt = t.s.now()
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) Resolve(_ context.Context, id string) (store.Target, error) {
	if o, ok := t.st.orders[id]; ok {
		return store.Target{Kind: store.TargetParent, Order: &o}, nil
	}
	if so, ok := t.st.subOrders[id]; ok {
		return store.Target{Kind: store.TargetChild, SubOrder: &so}, nil
	}
	return store.Target{Kind: store.TargetAbsent}, nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, store.ErrRowNotFound
	}
	return o, nil
}

func (t *memTx) SubOrdersOf(_ context.Context, orderID string) ([]domain.SubOrder, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, store.ErrRowNotFound
	}
	out := make([]domain.SubOrder, 0, len(o.SubOrderIDs))
	for _, id := range o.SubOrderIDs {
		if so, ok := t.st.subOrders[id]; ok {
			out = append(out, so)
		}
	}
	return out, nil
}

func (t *memTx) SetOrderStatus(_ context.Context, orderID string, st domain.Status) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return store.ErrRowNotFound
	}
	o.Status = st
	o.UpdatedAt = t.s.now()
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) SetSubOrderStatus(_ context.Context, subOrderID string, st domain.Status) error {
	so, ok := t.st.subOrders[subOrderID]
	if !ok {
		return store.ErrRowNotFound
	}
	so.Status = st
	so.UpdatedAt = t.s.now()
	t.st.subOrders[subOrderID] = so
	return nil
}

func (t *memTx) SetAllSubOrderStatus(ctx context.Context, orderID string, st domain.Status) error {
	subs, err := t.SubOrdersOf(ctx, orderID)
	if err != nil {
		return err
	}
	for _, so := range subs {
		if err := t.SetSubOrderStatus(ctx, so.ID, st); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) ListOrders(_ context.Context, f store.ListFilter) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range t.st.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.VendorID != "" && !t.hasVendor(o, f.VendorID) {
			continue
		}
		out = append(out, o)
	}
	t.newestFirst(len(out), func(i int) string { return out[i].ID }, func(i, j int) { out[i], out[j] = out[j], out[i] })
	return limit(out, f.Limit), nil
}

func (t *memTx) hasVendor(o domain.Order, vendorID string) bool {
	for _, id := range o.SubOrderIDs {
		if t.st.subOrders[id].VendorID == vendorID {
			return true
		}
	}
	return false
}

func (t *memTx) ListSubOrders(_ context.Context, f store.ListFilter) ([]domain.SubOrder, error) {
	var out []domain.SubOrder
	for _, so := range t.st.subOrders {
		if f.Status != "" && so.Status != f.Status {
			continue
		}
		if f.VendorID != "" && so.VendorID != f.VendorID {
			continue
		}
		out = append(out, so)
	}
	t.newestFirst(len(out), func(i int) string { return out[i].ID }, func(i, j int) { out[i], out[j] = out[j], out[i] })
	return limit(out, f.Limit), nil
}

func (t *memTx) newestFirst(n int, id func(int) string, swap func(i, j int)) {
	sort.Sort(bySeq{n: n, seq: func(i int) int64 { return t.st.seq[id(i)] }, swap: swap})
}

type bySeq struct {
	n    int
	seq  func(int) int64
	swap func(i, j int)
}

func (b bySeq) Len() int           { return b.n }
func (b bySeq) Less(i, j int) bool { return b.seq(i) > b.seq(j) }
func (b bySeq) Swap(i, j int)      { b.swap(i, j) }

func limit[T any](in []T, n int) []T {
	if n > 0 && len(in) > n {
		return in[:n]
	}
	return in
}

func idemKey(customerID, key string) string { return customerID + "\x00" + key }

func (t *memTx) OrderByIdempotencyKey(_ context.Context, customerID, key string) (string, error) {
	id, ok := t.st.idem[idemKey(customerID, key)]
	if !ok {
		return "", store.ErrRowNotFound
	}
	return id, nil
}

func (t *memTx) PutIdempotencyKey(_ context.Context, customerID, key, orderID string) error {
	k := idemKey(customerID, key)
	if _, ok := t.st.idem[k]; ok {
		return store.ErrIdempotencyRace
	}
	t.st.idem[k] = orderID
	return nil
}

func (t *memTx) Enqueue(_ context.Context, evt contracts.Event) error {
	rec, err := outbox.NewRecord(t.s.topic, evt)
	if err != nil {
		return err
	}
	t.st.events = append(t.st.events, rec)
	return nil
}
