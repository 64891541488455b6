package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type orderRow struct {
	ID            int64           `db:"id"`
	OrderNumber   string          `db:"order_number"`
	TrackingToken string          `db:"tracking_token"`
	Status        Status          `db:"status"`
	PaymentMethod PaymentMethod   `db:"payment_method"`
	Subtotal      decimal.Decimal `db:"subtotal"`
	Discount      decimal.Decimal `db:"discount"`
	DeliveryCost  decimal.Decimal `db:"delivery_cost"`
	Total         decimal.Decimal `db:"total"`
	Customer      []byte          `db:"customer"`
	Recipient     []byte          `db:"recipient"`
	Delivery      []byte          `db:"delivery"`
	PromoCode     sql.NullString  `db:"promo_code"`
	Comment       sql.NullString  `db:"comment"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

const selectOrder = `
	SELECT id, order_number, tracking_token, status, payment_method,
		subtotal, discount, delivery_cost, total,
		customer, recipient, delivery, promo_code, comment, created_at, updated_at
	FROM orders
`

func (r *postgresRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return r.getOrder(ctx, selectOrder+` WHERE order_number = $1`, orderNumber)
}

func (r *postgresRepository) GetOrderByTrackingToken(ctx context.Context, token string) (*Order, error) {
	return r.getOrder(ctx, selectOrder+` WHERE tracking_token = $1`, token)
}

func (r *postgresRepository) getOrder(ctx context.Context, query string, arg string) (*Order, error) {
	var row orderRow
	if err := r.reader.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to get order: %w: %w", ErrPersistence, err)
	}

	o, err := row.toOrder()
	if err != nil {
		return nil, err
	}

	var items []LineItem
	err = r.reader.SelectContext(ctx, &items, `
		SELECT id, order_id, product_id, product_code, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, o.SequenceID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get items for order %s: %w: %w", o.OrderNumber, ErrPersistence, err)
	}

	var options []LineItemOption
	err = r.reader.SelectContext(ctx, &options, `
		SELECT o.id, o.line_item_id, o.option_id, o.option_code, o.option_name, o.price
		FROM order_item_options o
		JOIN order_items i ON i.id = o.line_item_id
		WHERE i.order_id = $1
		ORDER BY o.id
	`, o.SequenceID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get item options for order %s: %w: %w", o.OrderNumber, ErrPersistence, err)
	}

	byItem := make(map[int64][]LineItemOption, len(items))
	for _, opt := range options {
		byItem[opt.LineItemID] = append(byItem[opt.LineItemID], opt)
	}
	for i := range items {
		items[i].Options = byItem[items[i].ID]
	}
	o.Items = items

	return o, nil
}

func (row orderRow) toOrder() (*Order, error) {
	o := &Order{
		SequenceID:    row.ID,
		OrderNumber:   row.OrderNumber,
		TrackingToken: row.TrackingToken,
		Status:        row.Status,
		PaymentMethod: row.PaymentMethod,
		Subtotal:      row.Subtotal,
		Discount:      row.Discount,
		DeliveryCost:  row.DeliveryCost,
		Total:         row.Total,
		PromoCode:     row.PromoCode.String,
		Comment:       row.Comment.String,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("repository: failed to decode customer snapshot for order %s: %w", row.OrderNumber, err)
	}
	if len(row.Recipient) > 0 {
		o.Recipient = &Recipient{}
		if err := json.Unmarshal(row.Recipient, o.Recipient); err != nil {
			return nil, fmt.Errorf("repository: failed to decode recipient snapshot for order %s: %w", row.OrderNumber, err)
		}
	}
	if err := json.Unmarshal(row.Delivery, &o.Delivery); err != nil {
		return nil, fmt.Errorf("repository: failed to decode delivery snapshot for order %s: %w", row.OrderNumber, err)
	}
	return o, nil
}

type statusChangeRow struct {
	OrderNumber string         `db:"order_number"`
	FromStatus  sql.NullString `db:"from_status"`
	ToStatus    Status         `db:"to_status"`
	Actor       string         `db:"actor"`
	Source      Source         `db:"source"`
	Reason      sql.NullString `db:"reason"`
	CreatedAt   time.Time      `db:"created_at"`
}

// ListStatusChanges returns the audit trail of an order, oldest first.
func (r *postgresRepository) ListStatusChanges(ctx context.Context, orderNumber string) ([]StatusChange, error) {
	var exists bool
	if err := r.reader.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, orderNumber); err != nil {
		return nil, fmt.Errorf("repository: failed to look up order %s: %w: %w", orderNumber, ErrPersistence, err)
	}
	if !exists {
		return nil, ErrOrderNotFound
	}

	var rows []statusChangeRow
	err := r.reader.SelectContext(ctx, &rows, `
		SELECT o.order_number, c.from_status, c.to_status, c.actor, c.source, c.reason, c.created_at
		FROM order_status_changes c
		JOIN orders o ON o.id = c.order_id
		WHERE o.order_number = $1
		ORDER BY c.id
	`, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list status changes for order %s: %w: %w", orderNumber, ErrPersistence, err)
	}

	changes := make([]StatusChange, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, StatusChange{
			OrderNumber: row.OrderNumber,
			From:        Status(row.FromStatus.String),
			To:          row.ToStatus,
			Actor:       row.Actor,
			Source:      row.Source,
			Reason:      row.Reason.String,
			At:          row.CreatedAt,
		})
	}
	return changes, nil
}
