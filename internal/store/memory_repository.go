package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
)

// MemoryRepository is an in-process Repository used for local runs and tests.
// WithinTx serialises every transaction behind one mutex and works on a copy
// of the state, so a failed callback leaves nothing behind.
type MemoryRepository struct {
	mu     sync.RWMutex
	state  *memoryState
	faults map[string]*memoryFault
}

type memoryFault struct {
	after int
	err   error
}

type memoryState struct {
	users        map[string]uuid.UUID
	services     map[uuid.UUID]*domain.Service
	orders       map[uuid.UUID]*domain.Order
	deliverables map[uuid.UUID][]domain.Deliverable
	balances     map[string]*domain.Balance
	transactions []domain.Transaction
	reviews      map[uuid.UUID]*domain.Review
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			users:        make(map[string]uuid.UUID),
			services:     make(map[uuid.UUID]*domain.Service),
			orders:       make(map[uuid.UUID]*domain.Order),
			deliverables: make(map[uuid.UUID][]domain.Deliverable),
			balances:     make(map[string]*domain.Balance),
			reviews:      make(map[uuid.UUID]*domain.Review),
		},
		faults: make(map[string]*memoryFault),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		users:        make(map[string]uuid.UUID, len(s.users)),
		services:     s.services,
		orders:       make(map[uuid.UUID]*domain.Order, len(s.orders)),
		deliverables: make(map[uuid.UUID][]domain.Deliverable, len(s.deliverables)),
		balances:     make(map[string]*domain.Balance, len(s.balances)),
		transactions: append([]domain.Transaction(nil), s.transactions...),
		reviews:      make(map[uuid.UUID]*domain.Review, len(s.reviews)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range s.deliverables {
		c.deliverables[k] = append([]domain.Deliverable(nil), v...)
	}
	for k, v := range s.balances {
		b := *v
		c.balances[k] = &b
	}
	for k, v := range s.reviews {
		rv := *v
		c.reviews[k] = &rv
	}
	return c
}

// SeedUser maps a Clerk user id to an internal user id.
func (r *MemoryRepository) SeedUser(clerkUserID string, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.users[clerkUserID] = userID
}

// SeedService stores a catalog entry.
func (r *MemoryRepository) SeedService(svc domain.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := svc
	r.state.services[svc.ID] = &copied
}

// InjectFault makes the named Tx operation fail with err once it has
// succeeded `after` more times. Operation names match the Tx method names.
func (r *MemoryRepository) InjectFault(op string, after int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = &memoryFault{after: after, err: err}
}

// Balances returns a copy of every balance row.
func (r *MemoryRepository) Balances() []domain.Balance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Balance, 0, len(r.state.balances))
	for _, b := range r.state.balances {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Key() < out[j].Account.Key() })
	return out
}

// AllTransactions returns a copy of the full ledger in insertion order.
func (r *MemoryRepository) AllTransactions() []domain.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Transaction(nil), r.state.transactions...)
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := r.state.clone()
	if err := fn(&memoryTx{state: staged, faults: r.faults}); err != nil {
		return err
	}
	r.state = staged
	return nil
}

func (r *MemoryRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.state.users[clerkUserID]
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}
	return id, nil
}

func (r *MemoryRepository) FindServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.state.services[serviceID]
	if !ok {
		return nil, ErrServiceNotFound
	}
	copied := *svc
	return &copied, nil
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.state.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *MemoryRepository) listOrders(match func(*domain.Order) bool, limit int) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var orders []domain.Order
	for _, o := range r.state.orders {
		if match(o) {
			orders = append(orders, *o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

func (r *MemoryRepository) ListOrdersByClient(ctx context.Context, clientID uuid.UUID, limit int) ([]domain.Order, error) {
	return r.listOrders(func(o *domain.Order) bool { return o.ClientID == clientID }, limit), nil
}

func (r *MemoryRepository) ListOrdersByFreelancer(ctx context.Context, freelancerID uuid.UUID, limit int) ([]domain.Order, error) {
	return r.listOrders(func(o *domain.Order) bool { return o.FreelancerID == freelancerID }, limit), nil
}

func (r *MemoryRepository) ListDueAutoReleaseOrderIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	due := r.listOrders(func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusDelivered && o.AutoReleaseAt != nil && !o.AutoReleaseAt.After(now)
	}, 0)
	sort.Slice(due, func(i, j int) bool { return due[i].AutoReleaseAt.Before(*due[j].AutoReleaseAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, o := range due {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) ListDeliverables(ctx context.Context, orderID uuid.UUID) ([]domain.Deliverable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Deliverable(nil), r.state.deliverables[orderID]...), nil
}

func (r *MemoryRepository) GetBalance(ctx context.Context, account domain.LedgerAccount) (*domain.Balance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.state.balances[account.Key()]; ok {
		copied := *b
		return &copied, nil
	}
	return &domain.Balance{Account: account}, nil
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, account domain.LedgerAccount, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var entries []domain.Transaction
	for i := len(r.state.transactions) - 1; i >= 0; i-- {
		if r.state.transactions[i].Account == account {
			entries = append(entries, r.state.transactions[i])
			if limit > 0 && len(entries) == limit {
				break
			}
		}
	}
	return entries, nil
}

func (r *MemoryRepository) ListServiceReviews(ctx context.Context, serviceID uuid.UUID, limit int) ([]domain.Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var reviews []domain.Review
	for _, rv := range r.state.reviews {
		if rv.ServiceID == serviceID && rv.IsPublic {
			reviews = append(reviews, *rv)
		}
	}
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].CreatedAt.After(reviews[j].CreatedAt) })
	if limit > 0 && len(reviews) > limit {
		reviews = reviews[:limit]
	}
	return reviews, nil
}

func (r *MemoryRepository) ServiceReviewStats(ctx context.Context, serviceID uuid.UUID) (domain.ReviewStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stats domain.ReviewStats
	for _, rv := range r.state.reviews {
		if rv.ServiceID == serviceID && rv.IsPublic {
			stats.Count++
			stats.RatingSum += int64(rv.Rating)
		}
	}
	return stats, nil
}

// memoryTx mutates a staged copy of the repository state.
type memoryTx struct {
	state  *memoryState
	faults map[string]*memoryFault
}

func (t *memoryTx) fault(op string) error {
	f, ok := t.faults[op]
	if !ok {
		return nil
	}
	if f.after > 0 {
		f.after--
		return nil
	}
	delete(t.faults, op)
	return f.err
}

func (t *memoryTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	if err := t.fault("LockOrder"); err != nil {
		return nil, err
	}
	order, ok := t.state.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order *domain.Order) error {
	if err := t.fault("UpdateOrder"); err != nil {
		return err
	}
	if _, ok := t.state.orders[order.ID]; !ok {
		return ErrOrderNotFound
	}
	t.state.orders[order.ID] = order.Clone()
	return nil
}

func (t *memoryTx) InsertDeliverable(ctx context.Context, d *domain.Deliverable) error {
	if err := t.fault("InsertDeliverable"); err != nil {
		return err
	}
	copied := *d
	copied.Files = append([]domain.DeliverableFile(nil), d.Files...)
	t.state.deliverables[d.OrderID] = append(t.state.deliverables[d.OrderID], copied)
	return nil
}

func (t *memoryTx) LockBalance(ctx context.Context, account domain.LedgerAccount, currency string) (*domain.Balance, error) {
	if err := t.fault("LockBalance"); err != nil {
		return nil, err
	}
	b, ok := t.state.balances[account.Key()]
	if !ok {
		b = &domain.Balance{Account: account, Currency: currency}
		t.state.balances[account.Key()] = b
	}
	copied := *b
	return &copied, nil
}

func (t *memoryTx) SaveBalance(ctx context.Context, b *domain.Balance) error {
	if err := t.fault("SaveBalance"); err != nil {
		return err
	}
	copied := *b
	t.state.balances[b.Account.Key()] = &copied
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, e *domain.Transaction) error {
	if err := t.fault("InsertTransaction"); err != nil {
		return err
	}
	t.state.transactions = append(t.state.transactions, *e)
	return nil
}

func (t *memoryTx) FindReviewByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Review, error) {
	for _, rv := range t.state.reviews {
		if rv.OrderID == orderID {
			copied := *rv
			return &copied, nil
		}
	}
	return nil, ErrReviewNotFound
}

func (t *memoryTx) InsertReview(ctx context.Context, rv *domain.Review) error {
	if err := t.fault("InsertReview"); err != nil {
		return err
	}
	for _, existing := range t.state.reviews {
		if existing.OrderID == rv.OrderID {
			return ErrReviewExists
		}
	}
	copied := *rv
	t.state.reviews[rv.ID] = &copied
	return nil
}

func (t *memoryTx) LockReview(ctx context.Context, reviewID uuid.UUID) (*domain.Review, error) {
	rv, ok := t.state.reviews[reviewID]
	if !ok {
		return nil, ErrReviewNotFound
	}
	copied := *rv
	return &copied, nil
}

func (t *memoryTx) UpdateReview(ctx context.Context, rv *domain.Review) error {
	if _, ok := t.state.reviews[rv.ID]; !ok {
		return ErrReviewNotFound
	}
	copied := *rv
	t.state.reviews[rv.ID] = &copied
	return nil
}
