// Package memory is an in-process store.Store. A single mutex serializes
// units of work; each one runs on a copy of the tenant's data that
// replaces the original only on success.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/tenant"
)

type tenantData struct {
	products     map[string]domain.Product
	lots         map[string]domain.Lot
	entries      []domain.LedgerEntry
	reservations map[string]domain.Reservation
	countSeq     map[string]int
	counts       map[string]domain.InventoryCount
	lines        map[string][]domain.CountLine
	alerts       map[string]domain.Alert
}

func newTenantData() *tenantData {
	return &tenantData{
		products:     make(map[string]domain.Product),
		lots:         make(map[string]domain.Lot),
		reservations: make(map[string]domain.Reservation),
		countSeq:     make(map[string]int),
		counts:       make(map[string]domain.InventoryCount),
		lines:        make(map[string][]domain.CountLine),
		alerts:       make(map[string]domain.Alert),
	}
}

func (d *tenantData) clone() *tenantData {
	lines := make(map[string][]domain.CountLine, len(d.lines))
	for k, v := range d.lines {
		lines[k] = slices.Clone(v)
	}
	return &tenantData{
		products:     maps.Clone(d.products),
		lots:         maps.Clone(d.lots),
		entries:      slices.Clone(d.entries),
		reservations: maps.Clone(d.reservations),
		countSeq:     maps.Clone(d.countSeq),
		counts:       maps.Clone(d.counts),
		lines:        lines,
		alerts:       maps.Clone(d.alerts),
	}
}

// Store keeps every tenant's data in memory.
type Store struct {
	mu      sync.Mutex
	tenants map[string]*tenantData
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tenants: make(map[string]*tenantData),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Atomic implements store.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tenants[tenantID]
	if !ok {
		current = newTenantData()
	}
	tx := &memTx{data: current.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.tenants[tenantID] = tx.data
	return nil
}

// Tenants implements store.Store.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.tenants))
	sort.Strings(ids)
	return ids, nil
}

type memTx struct {
	data *tenantData
	now  func() time.Time
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Products

func (t *memTx) CreateProduct(ctx context.Context, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	for _, existing := range t.data.products {
		if existing.SKU == p.SKU {
			return errors.Conflict("a product with this SKU already exists")
		}
	}
	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.data.products[p.ID] = *p
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := t.data.products[id]
	if !ok {
		return nil, errors.NotFoundWithKey("product")
	}
	return &p, nil
}

func (t *memTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *memTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	existing, ok := t.data.products[p.ID]
	if !ok {
		return errors.NotFoundWithKey("product")
	}
	for id, other := range t.data.products {
		if id != p.ID && other.SKU == p.SKU {
			return errors.Conflict("a product with this SKU already exists")
		}
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = t.now()
	t.data.products[p.ID] = *p
	return nil
}

func (t *memTx) ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int, error) {
	var out []domain.Product
	for _, p := range t.data.products {
		if f.Category != nil && (p.Category == nil || *p.Category != *f.Category) {
			continue
		}
		if f.TrackedOnly && !p.TrackStock {
			continue
		}
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, p.ID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), len(out), nil
}

// Lots

func (t *memTx) CreateLot(ctx context.Context, l *domain.Lot) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	for _, existing := range t.data.lots {
		if existing.ProductID == l.ProductID && existing.LotNumber == l.LotNumber {
			return errors.Conflict("a lot with this lot number already exists for the product")
		}
	}
	now := t.now()
	l.CreatedAt, l.UpdatedAt = now, now
	t.data.lots[l.ID] = *l
	return nil
}

func (t *memTx) GetLot(ctx context.Context, id string) (*domain.Lot, error) {
	l, ok := t.data.lots[id]
	if !ok {
		return nil, errors.NotFoundWithKey("lot")
	}
	return &l, nil
}

func (t *memTx) ListLots(ctx context.Context, productID string) ([]domain.Lot, error) {
	var out []domain.Lot
	for _, l := range t.data.lots {
		if l.ProductID == productID {
			out = append(out, l)
		}
	}
	domain.SortFEFO(out)
	return out, nil
}

func (t *memTx) SaveLot(ctx context.Context, l *domain.Lot) error {
	existing, ok := t.data.lots[l.ID]
	if !ok {
		return errors.NotFoundWithKey("lot")
	}
	if l.CurrentQuantity < 0 || l.CurrentQuantity > existing.InitialQuantity {
		return errors.Validation(map[string]string{
			"current_quantity": "must be between 0 and the initial quantity",
		})
	}
	existing.CurrentQuantity = l.CurrentQuantity
	existing.Status = l.Status
	existing.UpdatedAt = t.now()
	t.data.lots[l.ID] = existing
	*l = existing
	return nil
}

// Ledger

func (t *memTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = t.now()
	}
	t.data.entries = append(t.data.entries, *e)
	return nil
}

func (t *memTx) OnHand(ctx context.Context, productID string) (int, error) {
	total := 0
	for _, e := range t.data.entries {
		if e.ProductID == productID {
			total += e.Delta
		}
	}
	return total, nil
}

func (t *memTx) LedgerByLot(ctx context.Context, productID string) (map[string]int, error) {
	sums := make(map[string]int)
	for _, e := range t.data.entries {
		if e.ProductID == productID && e.LotID != nil {
			sums[*e.LotID] += e.Delta
		}
	}
	return sums, nil
}

func (t *memTx) ListEntries(ctx context.Context, f store.LedgerFilter) ([]domain.LedgerEntry, int, error) {
	var out []domain.LedgerEntry
	for _, e := range t.data.entries {
		switch {
		case f.ProductID != "" && e.ProductID != f.ProductID:
			continue
		case f.LotID != nil && (e.LotID == nil || *e.LotID != *f.LotID):
			continue
		case f.ReferenceType != nil && e.ReferenceType != *f.ReferenceType:
			continue
		case f.ReferenceID != nil && e.ReferenceID != *f.ReferenceID:
			continue
		case f.From != nil && e.OccurredAt.Before(*f.From):
			continue
		case f.To != nil && !e.OccurredAt.Before(*f.To):
			continue
		}
		out = append(out, e)
	}
	return page(out, f.Limit, f.Offset), len(out), nil
}

// Reservations

func (t *memTx) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}
	t.data.reservations[r.ID] = *r
	return nil
}

func (t *memTx) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	r, ok := t.data.reservations[id]
	if !ok {
		return nil, errors.NotFoundWithKey("reservation")
	}
	return &r, nil
}

func (t *memTx) UpdateReservation(ctx context.Context, r *domain.Reservation) error {
	if _, ok := t.data.reservations[r.ID]; !ok {
		return errors.NotFoundWithKey("reservation")
	}
	t.data.reservations[r.ID] = *r
	return nil
}

func (t *memTx) ReservedActive(ctx context.Context, productID string) (int, error) {
	total := 0
	for _, r := range t.data.reservations {
		if r.ProductID == productID && r.Status == domain.ReservationActive {
			total += r.Quantity
		}
	}
	return total, nil
}

func (t *memTx) ListStaleReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range t.data.reservations {
		if r.IsStale(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return page(out, limit, 0), nil
}

func (t *memTx) ListReservationsByReference(ctx context.Context, ref domain.Reference) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range t.data.reservations {
		if r.ReferenceType == ref.Type && r.ReferenceID == ref.ID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Counts

func (t *memTx) NextCountSequence(ctx context.Context, day time.Time) (int, error) {
	key := day.UTC().Format(time.DateOnly)
	t.data.countSeq[key]++
	return t.data.countSeq[key], nil
}

func (t *memTx) CreateCount(ctx context.Context, c *domain.InventoryCount) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	for _, existing := range t.data.counts {
		if existing.CountNumber == c.CountNumber {
			return errors.Conflict("an inventory count with this number already exists")
		}
	}
	c.UpdatedAt = t.now()
	t.data.counts[c.ID] = *c
	return nil
}

func (t *memTx) GetCount(ctx context.Context, id string) (*domain.InventoryCount, error) {
	c, ok := t.data.counts[id]
	if !ok {
		return nil, errors.NotFoundWithKey("inventory_count")
	}
	return &c, nil
}

func (t *memTx) LockCount(ctx context.Context, id string) (*domain.InventoryCount, error) {
	return t.GetCount(ctx, id)
}

func (t *memTx) UpdateCount(ctx context.Context, c *domain.InventoryCount) error {
	if _, ok := t.data.counts[c.ID]; !ok {
		return errors.NotFoundWithKey("inventory_count")
	}
	c.UpdatedAt = t.now()
	t.data.counts[c.ID] = *c
	return nil
}

func (t *memTx) InsertCountLines(ctx context.Context, lines []domain.CountLine) error {
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.New().String()
		}
		t.data.lines[lines[i].CountID] = append(t.data.lines[lines[i].CountID], lines[i])
	}
	return nil
}

func (t *memTx) ListCountLines(ctx context.Context, countID string) ([]domain.CountLine, error) {
	return slices.Clone(t.data.lines[countID]), nil
}

func (t *memTx) UpdateCountLine(ctx context.Context, l *domain.CountLine) error {
	lines := t.data.lines[l.CountID]
	for i := range lines {
		if lines[i].ID == l.ID {
			lines[i] = *l
			return nil
		}
	}
	return errors.NotFoundWithKey("count_line")
}

// Alerts

func (t *memTx) FindUnresolvedAlert(ctx context.Context, productID string, typ domain.AlertType) (*domain.Alert, error) {
	for _, a := range t.data.alerts {
		if a.ProductID == productID && a.Type == typ && a.Unresolved() {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateAlert(ctx context.Context, a *domain.Alert) error {
	if existing, _ := t.FindUnresolvedAlert(ctx, a.ProductID, a.Type); existing != nil {
		return errors.Conflict("an unresolved alert already exists for this product")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now()
	}
	t.data.alerts[a.ID] = *a
	return nil
}

func (t *memTx) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	a, ok := t.data.alerts[id]
	if !ok {
		return nil, errors.NotFoundWithKey("alert")
	}
	return &a, nil
}

func (t *memTx) UpdateAlert(ctx context.Context, a *domain.Alert) error {
	if _, ok := t.data.alerts[a.ID]; !ok {
		return errors.NotFoundWithKey("alert")
	}
	t.data.alerts[a.ID] = *a
	return nil
}

func (t *memTx) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, int, error) {
	var out []domain.Alert
	for _, a := range t.data.alerts {
		if f.ProductID != nil && a.ProductID != *f.ProductID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Unresolved && !a.Unresolved() {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return page(out, f.Limit, f.Offset), len(out), nil
}
