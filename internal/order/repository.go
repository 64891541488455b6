package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
)

const trackingTokenConstraint = "orders_tracking_token_key"

// Catalog resolves checkout codes. Lookups receive the creation transaction.
type Catalog interface {
	ResolveProduct(ctx context.Context, q catalog.Querier, code string) (catalog.Product, error)
	ResolveOption(ctx context.Context, q catalog.Querier, productID int64, code string) (catalog.Option, error)
}

// IdentifierSource mints the public identifiers for a sequence value.
type IdentifierSource interface {
	Identifiers(sequenceID int64) (orderNumber, trackingToken string)
}

type Repository interface {
	CreateOrder(ctx context.Context, draft *Draft, status Status) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	GetOrderByTrackingToken(ctx context.Context, token string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, orderNumber string, to Status, actor Actor, reason string, policy TransitionPolicy) (StatusChange, error)
	ListStatusChanges(ctx context.Context, orderNumber string) ([]StatusChange, error)
}

type postgresRepository struct {
	pool    *pgxpool.Pool
	reader  *sqlx.DB
	catalog Catalog
	ids     IdentifierSource
	now     func() time.Time
}

// NewRepository builds the store. Writes go through the pgx pool; reads use
// sqlx over the same pool.
func NewRepository(pool *pgxpool.Pool, reader *sqlx.DB, catalog Catalog, ids IdentifierSource) Repository {
	return &postgresRepository{
		pool:    pool,
		reader:  reader,
		catalog: catalog,
		ids:     ids,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder writes the order, its line items and their options in one
// transaction. Any failure, including an unresolvable catalog code, rolls the
// whole checkout back.
func (r *postgresRepository) CreateOrder(ctx context.Context, draft *Draft, status Status) (created *Order, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w: %w", ErrPersistence, err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic during CreateOrder, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("repository: failed to rollback CreateOrder transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Str("order_number", created.OrderNumber).Msg("repository: failed to commit CreateOrder transaction")
			created = nil
			err = fmt.Errorf("repository: failed to commit transaction: %w: %w", ErrPersistence, commitErr)
		}
	}()

	items, err := r.resolveItems(ctx, tx, draft.Items)
	if err != nil {
		return nil, err
	}

	totals, err := ComputeTotals(items, draft.Discount, draft.DeliveryCost)
	if err != nil {
		return nil, err
	}

	var sequenceID int64
	if err = tx.QueryRow(ctx, `SELECT nextval('orders_id_seq')`).Scan(&sequenceID); err != nil {
		return nil, fmt.Errorf("repository: failed to allocate order sequence: %w: %w", ErrPersistence, err)
	}
	orderNumber, token := r.ids.Identifiers(sequenceID)

	customerJSON, recipientJSON, deliveryJSON, err := marshalSnapshots(draft)
	if err != nil {
		return nil, err
	}

	now := r.now()
	o := &Order{
		SequenceID:    sequenceID,
		OrderNumber:   orderNumber,
		TrackingToken: token,
		Status:        status,
		PaymentMethod: draft.PaymentMethod,
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		DeliveryCost:  totals.DeliveryCost,
		Total:         totals.Total,
		Customer:      draft.Customer,
		Recipient:     draft.Recipient,
		Delivery:      draft.Delivery,
		PromoCode:     draft.PromoCode,
		Comment:       draft.Comment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	queryOrder := `
		INSERT INTO orders (id, order_number, tracking_token, status, payment_method,
			subtotal, discount, delivery_cost, total,
			customer, recipient, delivery, promo_code, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), NULLIF($14, ''), $15, $16)
	`
	_, err = tx.Exec(ctx, queryOrder,
		o.SequenceID,
		o.OrderNumber,
		o.TrackingToken,
		string(o.Status),
		string(o.PaymentMethod),
		o.Subtotal,
		o.Discount,
		o.DeliveryCost,
		o.Total,
		customerJSON,
		recipientJSON,
		deliveryJSON,
		o.PromoCode,
		o.Comment,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == trackingTokenConstraint {
			return nil, fmt.Errorf("repository: order %s: %w", orderNumber, ErrTrackingTokenCollision)
		}
		return nil, fmt.Errorf("repository: failed to insert order: %w: %w", ErrPersistence, err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, product_code, product_name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	queryOption := `
		INSERT INTO order_item_options (line_item_id, option_id, option_code, option_name, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	for i := range items {
		item := &items[i]
		item.OrderID = o.SequenceID

		err = tx.QueryRow(ctx, queryItem,
			item.OrderID,
			item.ProductID,
			item.ProductCode,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
		).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to insert line item for order %s: %w: %w", orderNumber, ErrPersistence, err)
		}

		for j := range item.Options {
			opt := &item.Options[j]
			opt.LineItemID = item.ID
			err = tx.QueryRow(ctx, queryOption,
				opt.LineItemID,
				opt.OptionID,
				opt.OptionCode,
				opt.OptionName,
				opt.Price,
			).Scan(&opt.ID)
			if err != nil {
				return nil, fmt.Errorf("repository: failed to insert option for order %s: %w: %w", orderNumber, ErrPersistence, err)
			}
		}
	}
	o.Items = items

	if err = insertStatusChange(ctx, tx, o.SequenceID, "", status, SystemActor(), "order created", now); err != nil {
		return nil, err
	}

	return o, nil
}

func (r *postgresRepository) resolveItems(ctx context.Context, tx pgx.Tx, draftItems []DraftItem) ([]LineItem, error) {
	items := make([]LineItem, 0, len(draftItems))
	for _, di := range draftItems {
		product, err := r.catalog.ResolveProduct(ctx, tx, di.ProductCode)
		if err != nil {
			return nil, resolutionError(err)
		}

		item := LineItem{
			ProductID:   product.ID,
			ProductCode: product.Code,
			ProductName: product.Name,
			Quantity:    di.Quantity,
			UnitPrice:   product.Price,
		}
		for _, code := range di.OptionCodes {
			option, err := r.catalog.ResolveOption(ctx, tx, product.ID, code)
			if err != nil {
				return nil, resolutionError(err)
			}
			item.Options = append(item.Options, LineItemOption{
				OptionID:   option.ID,
				OptionCode: option.Code,
				OptionName: option.Name,
				Price:      option.Price,
			})
		}
		items = append(items, item)
	}
	return items, nil
}

func resolutionError(err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrUnresolvedReference, err)
	}
	return fmt.Errorf("repository: catalog lookup failed: %w: %w", ErrPersistence, err)
}

func marshalSnapshots(draft *Draft) (customer, recipient, delivery []byte, err error) {
	customer, err = json.Marshal(draft.Customer)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("repository: failed to encode customer snapshot: %w", err)
	}
	if draft.Recipient != nil {
		recipient, err = json.Marshal(draft.Recipient)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("repository: failed to encode recipient snapshot: %w", err)
		}
	}
	delivery, err = json.Marshal(draft.Delivery)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("repository: failed to encode delivery snapshot: %w", err)
	}
	return customer, recipient, delivery, nil
}

// UpdateOrderStatus locks the order row, asks policy whether the move is
// allowed and writes the new status together with its audit row. Asking for
// the current status is a no-op and returns an unchanged StatusChange.
func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderNumber string, to Status, actor Actor, reason string, policy TransitionPolicy) (change StatusChange, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return StatusChange{}, fmt.Errorf("repository: failed to begin transaction: %w: %w", ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Str("order_number", orderNumber).Msg("repository: failed to rollback status update")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			change = StatusChange{}
			err = fmt.Errorf("repository: failed to commit status update: %w: %w", ErrPersistence, commitErr)
		}
	}()

	var (
		orderID int64
		current Status
	)
	err = tx.QueryRow(ctx, `SELECT id, status FROM orders WHERE order_number = $1 FOR UPDATE`, orderNumber).Scan(&orderID, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusChange{}, ErrOrderNotFound
		}
		return StatusChange{}, fmt.Errorf("repository: failed to lock order %s: %w: %w", orderNumber, ErrPersistence, err)
	}

	now := r.now()
	change = StatusChange{
		OrderNumber: orderNumber,
		From:        current,
		To:          to,
		Actor:       actor.Name,
		Source:      actor.Source,
		Reason:      reason,
		At:          now,
	}
	if current == to {
		return change, nil
	}

	if policy != nil {
		if err = policy(current, to, actor.Source); err != nil {
			return StatusChange{}, err
		}
	}

	cmdTag, err := tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, string(to), now, orderID)
	if err != nil {
		return StatusChange{}, fmt.Errorf("repository: failed to update order status %s: %w: %w", orderNumber, ErrPersistence, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return StatusChange{}, ErrOrderNotFound
	}

	if err = insertStatusChange(ctx, tx, orderID, current, to, actor, reason, now); err != nil {
		return StatusChange{}, err
	}

	return change, nil
}

func insertStatusChange(ctx context.Context, tx pgx.Tx, orderID int64, from, to Status, actor Actor, reason string, at time.Time) error {
	query := `
		INSERT INTO order_status_changes (order_id, from_status, to_status, actor, source, reason, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7)
	`
	_, err := tx.Exec(ctx, query, orderID, string(from), string(to), actor.Name, string(actor.Source), reason, at)
	if err != nil {
		return fmt.Errorf("repository: failed to record status change: %w: %w", ErrPersistence, err)
	}
	return nil
}
