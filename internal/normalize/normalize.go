package normalize

import (
	"fmt"
	"strings"

	"ordersync/entity"
	"ordersync/internal/lib/util"
	"ordersync/internal/lib/validate"
)

// Normalizer maps raw source documents to canonical orders. It does no I/O.
type Normalizer struct {
	tables   Tables
	callCode string
}

func New(tables Tables, defaultCountry string) *Normalizer {
	return &Normalizer{
		tables:   tables,
		callCode: util.CallCode(defaultCountry),
	}
}

// Normalize returns *entity.MalformedOrder when required fields are missing or mistyped.
func (n *Normalizer) Normalize(source entity.Source, shop string, raw entity.RawOrder) (*entity.Order, error) {
	var (
		order *entity.Order
		err   error
	)
	switch source {
	case entity.SourceProm:
		order, err = n.prom(raw)
	case entity.SourceHoroshop:
		order, err = n.horoshop(raw)
	case entity.SourceKeyCrm:
		order, err = n.keyCrm(raw)
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
	if err != nil {
		return nil, err
	}

	order.Source = source
	order.Shop = shop
	for name, amount := range order.Money() {
		if amount.IsNegative() {
			return nil, malformed(order.ExternalId, "%s is negative: %s", name, amount)
		}
	}
	if err = validate.Struct(order); err != nil {
		return nil, malformed(order.ExternalId, "%v", err)
	}
	return order, nil
}

// ExternalId reads the source id of a raw record without normalizing it; "" when absent.
func ExternalId(source entity.Source, raw entity.RawOrder) string {
	key := "id"
	if source == entity.SourceHoroshop {
		key = "order_id"
	}
	s, _ := id(raw[key])
	return s
}

func malformed(externalId, format string, args ...any) *entity.MalformedOrder {
	return &entity.MalformedOrder{ExternalId: externalId, Reason: fmt.Sprintf(format, args...)}
}

func (n *Normalizer) phone(v any) string {
	return util.InternationalPhone(text(v), n.callCode)
}

// products reads a product list; nameKey and priceKey differ per source.
func products(externalId string, v any, skuKey, nameKey, priceKey string) ([]entity.Product, error) {
	items := list(v)
	result := make([]entity.Product, 0, len(items))
	for i, item := range items {
		p := object(item)
		if p == nil {
			return nil, malformed(externalId, "product %d is not an object", i)
		}
		price, err := money(p[priceKey])
		if err != nil {
			return nil, malformed(externalId, "product %d %s: %v", i, priceKey, err)
		}
		if price.IsNegative() {
			return nil, malformed(externalId, "product %d price is negative", i)
		}
		quantity, ok := quantityOf(p["quantity"])
		if !ok {
			return nil, malformed(externalId, "product %d quantity %v", i, p["quantity"])
		}
		result = append(result, entity.Product{
			Sku:      text(p[skuKey]),
			Name:     strings.TrimSpace(text(p[nameKey])),
			Price:    price,
			Quantity: quantity,
		})
	}
	return result, nil
}

// quantityOf accepts whole numbers written as "2", 2 or 2.0
func quantityOf(v any) (int, bool) {
	if q, ok := integer(v); ok {
		return q, true
	}
	d, err := money(v)
	if err != nil || v == nil || !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	return int(d.IntPart()), true
}
