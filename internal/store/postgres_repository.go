/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` and `Tx`
 * interfaces. Locked reads use `SELECT ... FOR UPDATE` so that the guard and the
 * effect of every transition are evaluated under the same row lock.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/escrow-service/internal/domain"
)

const pgUniqueViolation = "23505"

// queryer is the subset of pgx shared by the pool and an open transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithinTx begins a transaction, runs fn and commits only if fn succeeds.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postgresTx implements Tx on top of an open pgx transaction.
type postgresTx struct {
	q queryer
}

// FindUserIDByClerkUserID resolves the internal UUID from a Clerk user id.
func (r *PostgresRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// FindServiceByID loads the catalog entry an order is priced from.
func (r *PostgresRepository) FindServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	var (
		svc          domain.Service
		status       string
		packagesJSON []byte
		addOnsJSON   []byte
	)
	query := `SELECT id, freelancer_id, title, status, packages::text, add_ons::text FROM freelancer_services WHERE id = $1`
	err := r.db.QueryRow(ctx, query, serviceID).Scan(&svc.ID, &svc.FreelancerID, &svc.Title, &status, &packagesJSON, &addOnsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("failed to load service: %w", err)
	}
	svc.Status = domain.ServiceStatus(status)

	if svc.Packages, err = decodeCatalogPackages(packagesJSON); err != nil {
		return nil, err
	}
	if svc.AddOns, err = decodeCatalogAddOns(addOnsJSON); err != nil {
		return nil, err
	}
	return &svc, nil
}

const orderColumns = `id, service_id, client_id, freelancer_id, selected_package, package_details::text, add_ons::text,
	amount_subtotal, platform_fee_amount, amount_total, currency, escrow_held_amount, status, revision_count,
	requirements_text, payment_method, payment_reference, dispute_reason, delivery_due_at, created_at, updated_at,
	paid_at, delivered_at, auto_release_at, completed_at, cancelled_at, disputed_at, refunded_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o             domain.Order
		tier          string
		status        string
		packageJSON   []byte
		addOnsJSON    []byte
		paymentMethod *string
	)
	err := row.Scan(
		&o.ID, &o.ServiceID, &o.ClientID, &o.FreelancerID, &tier, &packageJSON, &addOnsJSON,
		&o.AmountSubtotal, &o.PlatformFeeAmount, &o.AmountTotal, &o.Currency, &o.EscrowHeldAmount, &status, &o.RevisionCount,
		&o.RequirementsText, &paymentMethod, &o.PaymentReference, &o.DisputeReason, &o.DeliveryDueAt, &o.CreatedAt, &o.UpdatedAt,
		&o.PaidAt, &o.DeliveredAt, &o.AutoReleaseAt, &o.CompletedAt, &o.CancelledAt, &o.DisputedAt, &o.RefundedAt,
	)
	if err != nil {
		return nil, err
	}
	o.SelectedPackage = domain.PackageTier(tier)
	o.Status = domain.OrderStatus(status)
	if paymentMethod != nil {
		method := domain.PaymentMethod(*paymentMethod)
		o.PaymentMethod = &method
	}
	if err := json.Unmarshal(packageJSON, &o.PackageDetails); err != nil {
		return nil, fmt.Errorf("failed to decode package details: %w", err)
	}
	if len(addOnsJSON) > 0 {
		if err := json.Unmarshal(addOnsJSON, &o.AddOns); err != nil {
			return nil, fmt.Errorf("failed to decode order add-ons: %w", err)
		}
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// encodeOrderDocuments renders the jsonb columns scanOrder decodes. A nil
// add-on list is stored as an empty array.
func encodeOrderDocuments(order *domain.Order) (packageJSON string, addOnsJSON string, err error) {
	pkg, err := json.Marshal(order.PackageDetails)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode package details: %w", err)
	}
	addOns := order.AddOns
	if addOns == nil {
		addOns = []domain.AddOn{}
	}
	encoded, err := json.Marshal(addOns)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode add-ons: %w", err)
	}
	return string(pkg), string(encoded), nil
}

// CreateOrder inserts a new order row.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	packageJSON, addOnsJSON, err := encodeOrderDocuments(order)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO freelancer_orders (
			id, service_id, client_id, freelancer_id, selected_package, package_details, add_ons,
			amount_subtotal, platform_fee_amount, amount_total, currency, status, revision_count,
			requirements_text, delivery_due_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = r.db.Exec(ctx, query,
		order.ID, order.ServiceID, order.ClientID, order.FreelancerID, string(order.SelectedPackage),
		packageJSON, addOnsJSON,
		order.AmountSubtotal, order.PlatformFeeAmount, order.AmountTotal, order.Currency, string(order.Status),
		order.RevisionCount, order.RequirementsText, order.DeliveryDueAt, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// FindOrderByID loads an order without locking it.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, "SELECT "+orderColumns+" FROM freelancer_orders WHERE id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

// ListOrdersByClient returns the client's orders, newest first.
func (r *PostgresRepository) ListOrdersByClient(ctx context.Context, clientID uuid.UUID, limit int) ([]domain.Order, error) {
	rows, err := r.db.Query(ctx, "SELECT "+orderColumns+" FROM freelancer_orders WHERE client_id = $1 ORDER BY created_at DESC LIMIT $2", clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list client orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrdersByFreelancer returns the orders placed on the freelancer's services, newest first.
func (r *PostgresRepository) ListOrdersByFreelancer(ctx context.Context, freelancerID uuid.UUID, limit int) ([]domain.Order, error) {
	rows, err := r.db.Query(ctx, "SELECT "+orderColumns+" FROM freelancer_orders WHERE freelancer_id = $1 ORDER BY created_at DESC LIMIT $2", freelancerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list freelancer orders: %w", err)
	}
	return collectOrders(rows)
}

// ListDueAutoReleaseOrderIDs returns delivered orders whose grace period has elapsed.
func (r *PostgresRepository) ListDueAutoReleaseOrderIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM freelancer_orders
		WHERE status = 'delivered' AND auto_release_at IS NOT NULL AND auto_release_at <= $1
		ORDER BY auto_release_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-release orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDeliverables returns the delivery history of an order, oldest first.
func (r *PostgresRepository) ListDeliverables(ctx context.Context, orderID uuid.UUID) ([]domain.Deliverable, error) {
	query := `SELECT id, order_id, message, files::text, is_revision, created_at FROM freelancer_order_deliverables WHERE order_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliverables: %w", err)
	}
	defer rows.Close()

	var deliverables []domain.Deliverable
	for rows.Next() {
		var (
			d         domain.Deliverable
			filesJSON []byte
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &d.Message, &filesJSON, &d.IsRevision, &d.CreatedAt); err != nil {
			return nil, err
		}
		if len(filesJSON) > 0 {
			if err := json.Unmarshal(filesJSON, &d.Files); err != nil {
				return nil, fmt.Errorf("failed to decode deliverable files: %w", err)
			}
		}
		deliverables = append(deliverables, d)
	}
	return deliverables, rows.Err()
}

// GetBalance returns the account balance, or a zero balance if the account has never been touched.
func (r *PostgresRepository) GetBalance(ctx context.Context, account domain.LedgerAccount) (*domain.Balance, error) {
	balance, err := scanBalance(r.db.QueryRow(ctx, `
		SELECT account_type, account_id, available_balance, total_earnings, currency, updated_at
		FROM ledger_balances WHERE account_type = $1 AND account_id = $2`, string(account.Type), account.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.Balance{Account: account}, nil
		}
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	return balance, nil
}

func scanBalance(row pgx.Row) (*domain.Balance, error) {
	var (
		b           domain.Balance
		accountType string
	)
	if err := row.Scan(&accountType, &b.Account.ID, &b.AvailableBalance, &b.TotalEarnings, &b.Currency, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Account.Type = domain.AccountType(accountType)
	return &b, nil
}

// ListTransactions returns the newest ledger entries of an account.
func (r *PostgresRepository) ListTransactions(ctx context.Context, account domain.LedgerAccount, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, account_type, account_id, type, amount, status, description, reference, metadata::text, created_at
		FROM ledger_transactions
		WHERE account_type = $1 AND account_id = $2
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, string(account.Type), account.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var entries []domain.Transaction
	for rows.Next() {
		var (
			t            domain.Transaction
			accountType  string
			entryType    string
			metadataJSON []byte
		)
		if err := rows.Scan(&t.ID, &accountType, &t.Account.ID, &entryType, &t.Amount, &t.Status, &t.Description, &t.Reference, &metadataJSON, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Account.Type = domain.AccountType(accountType)
		t.Type = domain.EntryType(entryType)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
			}
		}
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

const reviewColumns = `id, order_id, service_id, reviewer_id, freelancer_id, rating, comment, seller_response, seller_responded_at, is_public, created_at`

func scanReview(row pgx.Row) (*domain.Review, error) {
	var rv domain.Review
	err := row.Scan(&rv.ID, &rv.OrderID, &rv.ServiceID, &rv.ReviewerID, &rv.FreelancerID, &rv.Rating, &rv.Comment,
		&rv.SellerResponse, &rv.SellerRespondedAt, &rv.IsPublic, &rv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// ListServiceReviews returns the public reviews of a service, newest first.
func (r *PostgresRepository) ListServiceReviews(ctx context.Context, serviceID uuid.UUID, limit int) ([]domain.Review, error) {
	rows, err := r.db.Query(ctx, "SELECT "+reviewColumns+" FROM freelancer_service_reviews WHERE service_id = $1 AND is_public ORDER BY created_at DESC LIMIT $2", serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *rv)
	}
	return reviews, rows.Err()
}

// ServiceReviewStats counts and sums the ratings of every public review of a service.
func (r *PostgresRepository) ServiceReviewStats(ctx context.Context, serviceID uuid.UUID) (domain.ReviewStats, error) {
	var stats domain.ReviewStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(rating), 0)
		FROM freelancer_service_reviews WHERE service_id = $1 AND is_public`, serviceID).Scan(&stats.Count, &stats.RatingSum)
	if err != nil {
		return domain.ReviewStats{}, fmt.Errorf("failed to aggregate reviews: %w", err)
	}
	return stats, nil
}

// LockOrder loads the order row with FOR UPDATE.
func (t *postgresTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(t.q.QueryRow(ctx, "SELECT "+orderColumns+" FROM freelancer_orders WHERE id = $1 FOR UPDATE", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return order, nil
}

// UpdateOrder writes back every mutable column of a locked order.
func (t *postgresTx) UpdateOrder(ctx context.Context, order *domain.Order) error {
	var paymentMethod *string
	if order.PaymentMethod != nil {
		method := string(*order.PaymentMethod)
		paymentMethod = &method
	}
	query := `
		UPDATE freelancer_orders SET
			escrow_held_amount = $2, status = $3, revision_count = $4, payment_method = $5, payment_reference = $6,
			dispute_reason = $7, updated_at = $8, paid_at = $9, delivered_at = $10, auto_release_at = $11,
			completed_at = $12, cancelled_at = $13, disputed_at = $14, refunded_at = $15
		WHERE id = $1`
	tag, err := t.q.Exec(ctx, query,
		order.ID, order.EscrowHeldAmount, string(order.Status), order.RevisionCount, paymentMethod, order.PaymentReference,
		order.DisputeReason, order.UpdatedAt, order.PaidAt, order.DeliveredAt, order.AutoReleaseAt,
		order.CompletedAt, order.CancelledAt, order.DisputedAt, order.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// InsertDeliverable appends a deliverable row.
func (t *postgresTx) InsertDeliverable(ctx context.Context, d *domain.Deliverable) error {
	files := d.Files
	if files == nil {
		files = []domain.DeliverableFile{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to encode deliverable files: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO freelancer_order_deliverables (id, order_id, message, files, is_revision, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		d.ID, d.OrderID, d.Message, string(filesJSON), d.IsRevision, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deliverable: %w", err)
	}
	return nil
}

// LockBalance creates the balance row if needed and locks it.
func (t *postgresTx) LockBalance(ctx context.Context, account domain.LedgerAccount, currency string) (*domain.Balance, error) {
	_, err := t.q.Exec(ctx, `
		INSERT INTO ledger_balances (account_type, account_id, available_balance, total_earnings, currency, updated_at)
		VALUES ($1, $2, 0, 0, $3, NOW())
		ON CONFLICT (account_type, account_id) DO NOTHING`, string(account.Type), account.ID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	balance, err := scanBalance(t.q.QueryRow(ctx, `
		SELECT account_type, account_id, available_balance, total_earnings, currency, updated_at
		FROM ledger_balances WHERE account_type = $1 AND account_id = $2 FOR UPDATE`, string(account.Type), account.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return balance, nil
}

// SaveBalance persists a locked balance.
func (t *postgresTx) SaveBalance(ctx context.Context, b *domain.Balance) error {
	_, err := t.q.Exec(ctx, `
		UPDATE ledger_balances SET available_balance = $3, total_earnings = $4, updated_at = $5
		WHERE account_type = $1 AND account_id = $2`,
		string(b.Account.Type), b.Account.ID, b.AvailableBalance, b.TotalEarnings, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// InsertTransaction appends a ledger entry.
func (t *postgresTx) InsertTransaction(ctx context.Context, e *domain.Transaction) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode transaction metadata: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO ledger_transactions (id, account_type, account_id, type, amount, status, description, reference, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
		e.ID, string(e.Account.Type), e.Account.ID, string(e.Type), e.Amount, e.Status, e.Description, e.Reference,
		string(metadataJSON), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindReviewByOrderID returns the review left on an order.
func (t *postgresTx) FindReviewByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Review, error) {
	rv, err := scanReview(t.q.QueryRow(ctx, "SELECT "+reviewColumns+" FROM freelancer_service_reviews WHERE order_id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to load review: %w", err)
	}
	return rv, nil
}

// InsertReview stores a new review. The order_id unique index backs the one-review rule.
func (t *postgresTx) InsertReview(ctx context.Context, rv *domain.Review) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO freelancer_service_reviews (id, order_id, service_id, reviewer_id, freelancer_id, rating, comment, is_public, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rv.ID, rv.OrderID, rv.ServiceID, rv.ReviewerID, rv.FreelancerID, rv.Rating, rv.Comment, rv.IsPublic, rv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReviewExists
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// LockReview loads a review with FOR UPDATE.
func (t *postgresTx) LockReview(ctx context.Context, reviewID uuid.UUID) (*domain.Review, error) {
	rv, err := scanReview(t.q.QueryRow(ctx, "SELECT "+reviewColumns+" FROM freelancer_service_reviews WHERE id = $1 FOR UPDATE", reviewID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to lock review: %w", err)
	}
	return rv, nil
}

// UpdateReview writes back the seller response fields.
func (t *postgresTx) UpdateReview(ctx context.Context, rv *domain.Review) error {
	_, err := t.q.Exec(ctx, `
		UPDATE freelancer_service_reviews SET seller_response = $2, seller_responded_at = $3, is_public = $4
		WHERE id = $1`, rv.ID, rv.SellerResponse, rv.SellerRespondedAt, rv.IsPublic)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
