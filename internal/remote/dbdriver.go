package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopsync/internal/db"
	"shopsync/internal/models"
)

const defaultTablePrefix = "ps_"

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]{0,32}$`)

// DBDriver reads and writes the storefront tables directly. It expects a
// PostgreSQL-hosted schema; MySQL storefronts go through APIDriver.
type DBDriver struct {
	pool    *pgxpool.Pool
	prefix  string
	timeout time.Duration
}

// ConnString builds the pgx connection string for a storefront database.
func ConnString(conn models.DBConnection) (string, error) {
	host := strings.TrimSpace(conn.Host)
	if host == "" || strings.TrimSpace(conn.Database) == "" {
		return "", fmt.Errorf("%w: database host and name are required", models.ErrInvalidConfig)
	}
	port := conn.Port
	if port <= 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strings.TrimSpace(conn.Database),
	}
	if conn.User != "" {
		u.User = url.UserPassword(conn.User, conn.Password)
	}
	q := url.Values{}
	if conn.SSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TablePrefix validates the configured prefix; it is interpolated into SQL.
func TablePrefix(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultTablePrefix, nil
	}
	if !prefixPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: invalid table prefix %q", models.ErrInvalidConfig, raw)
	}
	return raw, nil
}

func NewDBDriver(ctx context.Context, conn models.DBConnection, timeout time.Duration) (*DBDriver, error) {
	dsn, err := ConnString(conn)
	if err != nil {
		return nil, err
	}
	prefix, err := TablePrefix(conn.TablePrefix)
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	cfg.MaxConns = 4
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cfg.ConnConfig.ConnectTimeout = timeout
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classifyDB("connect", err)
	}
	return &DBDriver{pool: pool, prefix: prefix, timeout: timeout}, nil
}

func (d *DBDriver) table(name string) string {
	return pgx.Identifier{d.prefix + name}.Sanitize()
}

func (d *DBDriver) sql(query string) string {
	return db.Rebind(db.BackendPostgres, query)
}

func (d *DBDriver) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d.timeout)
}

func (d *DBDriver) orderSelect() string {
	return fmt.Sprintf(`SELECT o.id_order::text, o.reference, COALESCE(s.name, o.current_state::text),
	COALESCE(o.payment, ''), COALESCE(c.iso_code, ''), o.total_paid_tax_incl,
	COALESCE(cu.email, ''), o.date_add, o.id_address_delivery, o.id_address_invoice
FROM %s o
LEFT JOIN %s s ON s.id_order_state = o.current_state AND s.id_lang = 1
LEFT JOIN %s c ON c.id_currency = o.id_currency
LEFT JOIN %s cu ON cu.id_customer = o.id_customer`,
		d.table("orders"), d.table("order_state_lang"), d.table("currency"), d.table("customer"))
}

type orderHeader struct {
	order    Order
	delivery int64
	invoice  int64
}

func scanOrder(row pgx.Row) (orderHeader, error) {
	var h orderHeader
	var total float64
	var placed time.Time
	if err := row.Scan(&h.order.ExternalID, &h.order.Reference, &h.order.Status,
		&h.order.PaymentStatus, &h.order.Currency, &total,
		&h.order.CustomerEmail, &placed, &h.delivery, &h.invoice); err != nil {
		return orderHeader{}, err
	}
	h.order.TotalGross = &total
	placed = placed.UTC()
	h.order.PlacedAt = &placed
	return h, nil
}

func (d *DBDriver) ListOrders(ctx context.Context, q OrderQuery) (OrderPage, error) {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	var where []string
	var args []any
	if q.From != nil {
		where = append(where, "o.date_add >= ?")
		args = append(args, q.From.UTC())
	}
	if q.To != nil {
		where = append(where, "o.date_add <= ?")
		args = append(args, q.To.UTC())
	}
	if len(q.Statuses) > 0 {
		where = append(where, "(s.name = ANY(?) OR o.current_state::text = ANY(?))")
		args = append(args, q.Statuses, q.Statuses)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := d.orderSelect()
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	// One extra row tells whether another page exists.
	query += "\nORDER BY o.id_order ASC LIMIT ? OFFSET ?"
	args = append(args, limit+1, q.Offset)

	rows, err := d.pool.Query(ctx, d.sql(query), args...)
	if err != nil {
		return OrderPage{}, classifyDB("list_orders", err)
	}
	defer rows.Close()
	var page OrderPage
	for rows.Next() {
		h, err := scanOrder(rows)
		if err != nil {
			return OrderPage{}, classifyDB("list_orders", err)
		}
		page.Orders = append(page.Orders, h.order)
	}
	if err := rows.Err(); err != nil {
		return OrderPage{}, classifyDB("list_orders", err)
	}
	if len(page.Orders) > limit {
		page.Orders = page.Orders[:limit]
		page.HasMore = true
	}
	page.NextOffset = q.Offset + len(page.Orders)
	return page, nil
}

func (d *DBDriver) FetchOrder(ctx context.Context, externalID string) (Order, error) {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	id, err := parseID("fetch_order", externalID)
	if err != nil {
		return Order{}, err
	}
	h, err := scanOrder(d.pool.QueryRow(ctx, d.sql(d.orderSelect()+"\nWHERE o.id_order = ?"), id))
	if err != nil {
		return Order{}, classifyDB("fetch_order", err)
	}

	items, err := d.pool.Query(ctx, d.sql(fmt.Sprintf(`SELECT product_id::text, COALESCE(product_reference, ''),
	COALESCE(product_ean13, ''), product_name, product_quantity, unit_price_tax_incl
FROM %s WHERE id_order = ? ORDER BY id_order_detail`, d.table("order_detail"))), id)
	if err != nil {
		return Order{}, classifyDB("fetch_order", err)
	}
	defer items.Close()
	for items.Next() {
		var it models.OrderItem
		if err := items.Scan(&it.ExternalID, &it.SKU, &it.EAN, &it.Name, &it.Quantity, &it.UnitGross); err != nil {
			return Order{}, classifyDB("fetch_order", err)
		}
		h.order.Items = append(h.order.Items, it)
	}
	if err := items.Err(); err != nil {
		return Order{}, classifyDB("fetch_order", err)
	}

	for _, a := range []struct {
		kind string
		id   int64
	}{{"delivery", h.delivery}, {"invoice", h.invoice}} {
		if a.id == 0 {
			continue
		}
		addr := models.OrderAddress{Kind: a.kind}
		var first, last string
		err := d.pool.QueryRow(ctx, d.sql(fmt.Sprintf(`SELECT COALESCE(a.firstname, ''), COALESCE(a.lastname, ''),
	COALESCE(a.company, ''), COALESCE(a.address1, ''), COALESCE(a.city, ''), COALESCE(a.postcode, ''),
	COALESCE(c.iso_code, ''), COALESCE(a.phone, '')
FROM %s a LEFT JOIN %s c ON c.id_country = a.id_country
WHERE a.id_address = ?`, d.table("address"), d.table("country"))), a.id).
			Scan(&first, &last, &addr.Company, &addr.Street, &addr.City, &addr.PostalCode, &addr.Country, &addr.Phone)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return Order{}, classifyDB("fetch_order", err)
		}
		addr.Name = strings.TrimSpace(first + " " + last)
		h.order.Addresses = append(h.order.Addresses, addr)
	}
	return h.order, nil
}

func (d *DBDriver) FindProduct(ctx context.Context, by Identifier, code string) (Product, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Product{}, false, nil
	}
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	column := "p.reference"
	if by == ByEAN {
		column = "p.ean13"
	}
	query := fmt.Sprintf(`SELECT p.id_product::text, COALESCE(p.reference, ''), COALESCE(p.ean13, ''),
	COALESCE(pl.name, ''), sa.quantity
FROM %s p
LEFT JOIN %s pl ON pl.id_product = p.id_product AND pl.id_lang = 1
LEFT JOIN %s sa ON sa.id_product = p.id_product AND sa.id_product_attribute = 0
WHERE %s = ?
ORDER BY p.id_product ASC LIMIT 1`,
		d.table("product"), d.table("product_lang"), d.table("stock_available"), column)

	var p Product
	var qty *int64
	err := d.pool.QueryRow(ctx, d.sql(query), code).Scan(&p.ExternalID, &p.SKU, &p.EAN, &p.Name, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, classifyDB("find_product", err)
	}
	p.Quantity = qty
	return p, true, nil
}

func (d *DBDriver) UpdateAvailability(ctx context.Context, externalID string, outOfStock bool, text string) error {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	id, err := parseID("update_availability", externalID)
	if err != nil {
		return err
	}
	column := "available_now"
	if outOfStock {
		column = "available_later"
	}
	tag, err := d.pool.Exec(ctx, d.sql(fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id_product = ?`,
		d.table("product_lang"), column)), text, id)
	if err != nil {
		return classifyDB("update_availability", err)
	}
	if tag.RowsAffected() == 0 {
		return newError(CodeNotFound, "update_availability", "product "+externalID+" not found", nil)
	}
	return nil
}

func (d *DBDriver) UpdateStock(ctx context.Context, externalID string, quantity int64) error {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	id, err := parseID("update_stock", externalID)
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx, d.sql(fmt.Sprintf(`UPDATE %s SET quantity = ?
WHERE id_product = ? AND id_product_attribute = 0`, d.table("stock_available"))), quantity, id)
	if err != nil {
		return classifyDB("update_stock", err)
	}
	if tag.RowsAffected() == 0 {
		return newError(CodeNotFound, "update_stock", "product "+externalID+" not found", nil)
	}
	return nil
}

func (d *DBDriver) Close() error {
	d.pool.Close()
	return nil
}

func parseID(op, externalID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(externalID), 10, 64)
	if err != nil || id <= 0 {
		return 0, newError(CodeNotFound, op, "invalid storefront id "+strconv.Quote(externalID), err)
	}
	return id, nil
}

func classifyDB(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return newError(CodeNotFound, op, "not found", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57014":
			return newError(CodeUpstreamTimeout, op, pgErr.Message, err)
		case "53300":
			return newError(CodeRateLimited, op, pgErr.Message, err)
		}
		return newError(CodeUpstreamError, op, pgErr.Message, err)
	}
	if pgconn.Timeout(err) {
		return newError(CodeUpstreamTimeout, op, "query timed out", err)
	}
	return classifyTransport(op, err)
}
