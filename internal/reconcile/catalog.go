package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"shopsync/internal/mapping"
	"shopsync/internal/models"
	"shopsync/internal/parser"
	"shopsync/internal/remote"
	"shopsync/internal/store"
)

// Product target fields kept as free-form attributes.
var attributeFields = map[string]bool{
	"description":        false,
	"manufacturer":       false,
	"sale_price_net":     true,
	"sale_price_gross":   true,
	"purchase_price_net": true,
	"vat_rate":           true,
	"weight":             true,
}

// Catalog lands mapped flat-file records on local products and categories.
type Catalog struct {
	store *store.Store
	now   func() time.Time
}

func NewCatalog(st *store.Store) *Catalog {
	return &Catalog{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Record maps rec with set and reconciles every target type it produces,
// categories before products. The returned result is the product's when the
// set maps products.
func (c *Catalog) Record(ctx context.Context, tenantID string, m Matcher, set *mapping.Set, rec parser.Record) Result {
	var last Result
	for _, t := range set.TargetTypes() {
		payload, err := set.Apply(t, rec)
		if err != nil {
			return failed(err)
		}
		if len(payload) == 0 {
			last = Result{Outcome: SkippedMissing, Reason: "no mapped values"}
			continue
		}
		switch t {
		case models.TargetTypeCategory:
			last = c.Category(ctx, tenantID, payload)
		case models.TargetTypeProduct:
			last = c.Product(ctx, tenantID, m, payload)
		}
		if last.Outcome == Failed {
			return last
		}
	}
	return last
}

// Product creates or updates one product. Existing products are matched by
// external id first, then by the matcher's identifiers.
func (c *Catalog) Product(ctx context.Context, tenantID string, m Matcher, payload mapping.Payload) Result {
	keys := Keys{SKU: payload["sku"], EAN: payload["ean"]}
	externalKey := strings.TrimSpace(payload["external_id"])

	var (
		existing models.Product
		found    bool
		err      error
	)
	if externalKey != "" {
		existing, found, err = c.store.FindProductByExternalKey(ctx, tenantID, externalKey)
		if err != nil {
			return failed(err)
		}
	}
	if !found {
		match, ok, err := m.Match(ctx, c.localProduct(tenantID), keys)
		if err != nil {
			return failed(err)
		}
		if ok {
			existing, found, err = c.store.GetProduct(ctx, tenantID, match.ID)
			if err != nil {
				return failed(err)
			}
		}
	}

	if !found {
		if res, done := m.OnMissing(keys); done {
			return res
		}
		p := models.Product{TenantID: tenantID, Attributes: map[string]string{}}
		if err := c.applyProduct(ctx, &p, payload); err != nil {
			return failed(err)
		}
		if strings.TrimSpace(p.Name) == "" {
			return failed(fmt.Errorf("%w: name is required for new products", mapping.ErrInvalidValue))
		}
		created, err := c.store.CreateProduct(ctx, p, c.now())
		if err != nil {
			return failed(err)
		}
		return Result{Outcome: Created, ID: created.ID}
	}

	next := cloneProduct(existing)
	if err := c.applyProduct(ctx, &next, payload); err != nil {
		return failed(err)
	}
	if productEqual(existing, next) {
		return Result{Outcome: SkippedUnchanged, ID: existing.ID}
	}
	if _, err := c.store.SaveProduct(ctx, next, c.now()); err != nil {
		return failed(err)
	}
	return Result{Outcome: Updated, ID: existing.ID}
}

func (c *Catalog) localProduct(tenantID string) Lookup {
	return func(ctx context.Context, by remote.Identifier, code string) (string, bool, error) {
		find := c.store.FindProductBySKU
		if by == remote.ByEAN {
			find = c.store.FindProductByEAN
		}
		p, ok, err := find(ctx, tenantID, code)
		return p.ID, ok, err
	}
}

// applyProduct writes the mapped fields present in payload onto p.
func (c *Catalog) applyProduct(ctx context.Context, p *models.Product, payload mapping.Payload) error {
	for key, value := range payload {
		value = strings.TrimSpace(value)
		switch key {
		case "name":
			p.Name = value
		case "sku":
			p.SKU = value
		case "ean":
			p.EAN = value
		case "external_id":
			if value != "" {
				p.ExternalKey = &value
			}
		case "stock_quantity":
			n, ok, err := payload.Int(key)
			if err != nil {
				return fmt.Errorf("%w: %v", mapping.ErrInvalidValue, err)
			}
			if ok {
				p.StockQuantity = n
			}
		case "delivery_days":
			n, ok, err := payload.Int(key)
			if err != nil {
				return fmt.Errorf("%w: %v", mapping.ErrInvalidValue, err)
			}
			if ok {
				days := int(n)
				p.DeliveryDays = &days
			}
		case "category":
			if value == "" {
				continue
			}
			cat, err := c.ensureCategory(ctx, p.TenantID, value)
			if err != nil {
				return err
			}
			p.CategoryID = &cat.ID
		default:
			numeric, known := attributeFields[key]
			if !known {
				continue
			}
			if numeric && value != "" {
				f, _, err := payload.Float(key)
				if err != nil {
					return fmt.Errorf("%w: %v", mapping.ErrInvalidValue, err)
				}
				value = strconv.FormatFloat(f, 'f', -1, 64)
			}
			if p.Attributes == nil {
				p.Attributes = map[string]string{}
			}
			if value == "" {
				delete(p.Attributes, key)
				continue
			}
			p.Attributes[key] = value
		}
	}
	return nil
}

// Category creates or updates one category, keyed by external id when mapped
// and by name otherwise.
func (c *Catalog) Category(ctx context.Context, tenantID string, payload mapping.Payload) Result {
	name := strings.TrimSpace(payload["name"])
	externalKey := strings.TrimSpace(payload["external_id"])

	var (
		existing models.Category
		found    bool
		err      error
	)
	if externalKey != "" {
		existing, found, err = c.store.FindCategoryByExternalKey(ctx, tenantID, externalKey)
		if err != nil {
			return failed(err)
		}
	}
	if !found && name != "" {
		existing, found, err = c.store.FindCategoryByName(ctx, tenantID, name)
		if err != nil {
			return failed(err)
		}
	}

	next := existing
	next.TenantID = tenantID
	if name != "" {
		next.Name = name
	}
	if externalKey != "" {
		next.ExternalKey = &externalKey
	}
	if v, ok := payload["description"]; ok {
		next.Description = strings.TrimSpace(v)
	}
	if parent := strings.TrimSpace(payload["parent"]); parent != "" && !strings.EqualFold(parent, next.Name) {
		cat, err := c.ensureCategory(ctx, tenantID, parent)
		if err != nil {
			return failed(err)
		}
		next.ParentID = &cat.ID
	}

	if !found {
		if next.Name == "" {
			return failed(fmt.Errorf("%w: name is required for new categories", mapping.ErrInvalidValue))
		}
		created, err := c.store.CreateCategory(ctx, next, c.now())
		if err != nil {
			return failed(err)
		}
		return Result{Outcome: Created, ID: created.ID}
	}
	if categoryEqual(existing, next) {
		return Result{Outcome: SkippedUnchanged, ID: existing.ID}
	}
	if _, err := c.store.SaveCategory(ctx, next, c.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed(fmt.Errorf("category %s disappeared", existing.ID))
		}
		return failed(err)
	}
	return Result{Outcome: Updated, ID: existing.ID}
}

func (c *Catalog) ensureCategory(ctx context.Context, tenantID, name string) (models.Category, error) {
	cat, ok, err := c.store.FindCategoryByName(ctx, tenantID, name)
	if err != nil || ok {
		return cat, err
	}
	return c.store.CreateCategory(ctx, models.Category{TenantID: tenantID, Name: name}, c.now())
}

func cloneProduct(p models.Product) models.Product {
	out := p
	out.Attributes = maps.Clone(p.Attributes)
	if out.Attributes == nil {
		out.Attributes = map[string]string{}
	}
	return out
}

func productEqual(a, b models.Product) bool {
	return a.SKU == b.SKU &&
		a.EAN == b.EAN &&
		a.Name == b.Name &&
		a.StockQuantity == b.StockQuantity &&
		equalIntPtr(a.DeliveryDays, b.DeliveryDays) &&
		equalStrPtr(a.CategoryID, b.CategoryID) &&
		equalStrPtr(a.ExternalKey, b.ExternalKey) &&
		maps.Equal(a.Attributes, b.Attributes)
}

func categoryEqual(a, b models.Category) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		equalStrPtr(a.ParentID, b.ParentID) &&
		equalStrPtr(a.ExternalKey, b.ExternalKey)
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
