package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/outbox"
)

type pgTx struct {
	tx    pgx.Tx
	topic string
}

const productCols = `id, name, price::text, stock, vendor_id, category`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.VendorID, &p.Category); err != nil {
		return domain.Product{}, err
	}
	var err error
	p.Price, err = decimal.NewFromString(price)
	return p, err
}

func (t *pgTx) InStockProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+productCols+` FROM products WHERE id = ANY($1) AND stock > 0`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) Product(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id))
	return p, notFound(err)
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	var created, updated time.Time
	err = t.tx.QueryRow(ctx, `
		INSERT INTO orders(id, customer_id, items, total_amount, status, sub_order_ids)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING created_at, updated_at`,
		id, o.CustomerID, items, o.TotalAmount.String(), string(o.Status), nonNil(o.SubOrderIDs),
	).Scan(&created, &updated)
	if err != nil {
		return err
	}
	o.ID, o.CreatedAt, o.UpdatedAt = id, created.UTC(), updated.UTC()
	return nil
}

func (t *pgTx) InsertSubOrder(ctx context.Context, so *domain.SubOrder) error {
	items, err := json.Marshal(so.Items)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	var created, updated time.Time
	err = t.tx.QueryRow(ctx, `
		INSERT INTO sub_orders(id, order_id, vendor_id, items, amount, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING created_at, updated_at`,
		id, so.OrderID, so.VendorID, items, so.Amount.String(), string(so.Status),
	).Scan(&created, &updated)
	if err != nil {
		return err
	}
	so.ID, so.CreatedAt, so.UpdatedAt = id, created.UTC(), updated.UTC()
	return nil
}

func (t *pgTx) SetSubOrderIDs(ctx context.Context, orderID string, ids []string) error {
	return t.exec1(ctx, `UPDATE orders SET sub_order_ids = $2, updated_at = now() WHERE id = $1`, orderID, nonNil(ids))
}

const orderCols = `id, customer_id, items, total_amount::text, status, sub_order_ids, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		items  []byte
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &items, &total, &status, &o.SubOrderIDs, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.Status(status)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, nil
}

const subOrderCols = `id, order_id, vendor_id, items, amount::text, status, created_at, updated_at`

func scanSubOrder(row pgx.Row) (domain.SubOrder, error) {
	var (
		so     domain.SubOrder
		items  []byte
		amount string
		status string
	)
	if err := row.Scan(&so.ID, &so.OrderID, &so.VendorID, &items, &amount, &status, &so.CreatedAt, &so.UpdatedAt); err != nil {
		return domain.SubOrder{}, err
	}
	if err := json.Unmarshal(items, &so.Items); err != nil {
		return domain.SubOrder{}, fmt.Errorf("decode sub-order items: %w", err)
	}
	var err error
	if so.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.SubOrder{}, err
	}
	so.Status = domain.Status(status)
	so.CreatedAt, so.UpdatedAt = so.CreatedAt.UTC(), so.UpdatedAt.UTC()
	return so, nil
}

func (t *pgTx) Resolve(ctx context.Context, id string) (store.Target, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if err == nil {
		return store.Target{Kind: store.TargetParent, Order: &o}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Target{}, err
	}
	so, err := scanSubOrder(t.tx.QueryRow(ctx, `SELECT `+subOrderCols+` FROM sub_orders WHERE id = $1`, id))
	if err == nil {
		return store.Target{Kind: store.TargetChild, SubOrder: &so}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Target{}, err
	}
	return store.Target{Kind: store.TargetAbsent}, nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	return o, notFound(err)
}

// SubOrdersOf returns the sub-orders in the order's SubOrderIDs sequence.
func (t *pgTx) SubOrdersOf(ctx context.Context, orderID string) ([]domain.SubOrder, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+prefixed("s", subOrderCols)+`
		FROM orders o
		CROSS JOIN LATERAL unnest(o.sub_order_ids) WITH ORDINALITY AS ref(id, pos)
		JOIN sub_orders s ON s.id = ref.id
		WHERE o.id = $1
		ORDER BY ref.pos`, orderID)
	if err != nil {
		return nil, err
	}
	return collectSubOrders(rows)
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID string, st domain.Status) error {
	return t.exec1(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, string(st))
}

func (t *pgTx) SetSubOrderStatus(ctx context.Context, subOrderID string, st domain.Status) error {
	return t.exec1(ctx, `UPDATE sub_orders SET status = $2, updated_at = now() WHERE id = $1`, subOrderID, string(st))
}

func (t *pgTx) SetAllSubOrderStatus(ctx context.Context, orderID string, st domain.Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE sub_orders SET status = $2, updated_at = now() WHERE order_id = $1`, orderID, string(st))
	return err
}

func (t *pgTx) ListOrders(ctx context.Context, f store.ListFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("o.status = $%d", string(f.Status))
	}
	if f.CustomerID != "" {
		add("o.customer_id = $%d", f.CustomerID)
	}
	if f.VendorID != "" {
		add("EXISTS (SELECT 1 FROM sub_orders s WHERE s.order_id = o.id AND s.vendor_id = $%d)", f.VendorID)
	}

	q := `SELECT ` + prefixed("o", orderCols) + ` FROM orders o` + whereClause(where) + ` ORDER BY o.created_at DESC, o.id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) ListSubOrders(ctx context.Context, f store.ListFilter) ([]domain.SubOrder, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.VendorID != "" {
		args = append(args, f.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}

	q := `SELECT ` + subOrderCols + ` FROM sub_orders` + whereClause(where) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectSubOrders(rows)
}

func (t *pgTx) OrderByIdempotencyKey(ctx context.Context, customerID, key string) (string, error) {
	var orderID string
	err := t.tx.QueryRow(ctx,
		`SELECT order_id FROM order_idempotency WHERE customer_id = $1 AND idempotency_key = $2`,
		customerID, key,
	).Scan(&orderID)
	return orderID, notFound(err)
}

func (t *pgTx) PutIdempotencyKey(ctx context.Context, customerID, key, orderID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_idempotency(customer_id, idempotency_key, order_id) VALUES ($1, $2, $3)`,
		customerID, key, orderID,
	)
	if isUniqueViolation(err) {
		return store.ErrIdempotencyRace
	}
	return err
}

func (t *pgTx) Enqueue(ctx context.Context, evt contracts.Event) error {
	rec, err := outbox.NewRecord(t.topic, evt)
	if err != nil {
		return err
	}
	return outbox.Insert(ctx, t.tx, rec)
}

// exec1 runs a single-row update and reports a missing row.
func (t *pgTx) exec1(ctx context.Context, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRowNotFound
	}
	return nil
}

func collectSubOrders(rows pgx.Rows) ([]domain.SubOrder, error) {
	defer rows.Close()
	var out []domain.SubOrder
	for rows.Next() {
		so, err := scanSubOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, so)
	}
	return out, rows.Err()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// prefixed qualifies every column in a comma separated list with alias.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
