package normalize

import (
	"github.com/shopspring/decimal"

	"ordersync/entity"
	"ordersync/internal/lib/util"
)

const paymentPaid = "paid"

func (n *Normalizer) keyCrm(raw entity.RawOrder) (*entity.Order, error) {
	externalId, ok := id(raw["id"])
	if !ok {
		return nil, malformed("", "id is missing")
	}

	order := &entity.Order{
		ExternalId: externalId,
		Status:     entity.StatusOther,
	}
	if group, ok := integer(raw["status_group_id"]); ok {
		if status, found := n.tables.KeyCrmStatus[group]; found {
			order.Status = status
		}
	}

	var err error
	if order.TotalPrice, err = money(raw["grand_total"]); err != nil {
		return nil, malformed(externalId, "grand_total: %v", err)
	}
	if created, ok := timestamp(raw["created_at"]); ok {
		order.Created = created
	}

	buyer := object(raw["buyer"])
	order.Buyer = entity.Buyer{
		FullName: text(buyer["full_name"]),
		Phone:    n.phone(buyer["phone"]),
		Email:    util.CleanEmail(text(buyer["email"])),
		Comment:  text(raw["buyer_comment"]),
	}
	shipping := object(raw["shipping"])
	order.Shipping = entity.Shipping{
		Address:        text(shipping["full_address"]),
		RecipientName:  text(shipping["recipient_full_name"]),
		RecipientPhone: n.phone(shipping["recipient_phone"]),
	}
	if order.Shipping.RecipientPhone == order.Buyer.Phone {
		order.Shipping.RecipientName = ""
		order.Shipping.RecipientPhone = ""
	}

	if order.Products, err = products(externalId, raw["products"], "sku", "name", "price_sold"); err != nil {
		return nil, err
	}
	supplierProducts, err := products(externalId, raw["products"], "sku", "name", "purchased_price")
	if err != nil {
		return nil, err
	}

	acc := &entity.Accounting{
		SupplierProducts: supplierProducts,
		ManagerComment:   text(raw["manager_comment"]),
		TrackingCode:     text(shipping["tracking_code"]),
		HasDuplicates:    truthy(buyer["has_duplicates"]),
	}
	if parent, ok := id(raw["parent_id"]); ok && parent != "0" {
		acc.ParentId = parent
	}
	if sourceUuid, ok := id(raw["source_uuid"]); ok {
		acc.SourceOrderId = sourceUuid
	}
	if sourceId, ok := integer(raw["source_id"]); ok {
		acc.Shop = n.tables.Shops[sourceId]
	}
	if managerId, ok := integer(object(raw["manager"])["id"]); ok {
		acc.Manager = n.tables.Managers[managerId]
	}
	n.customFields(acc, raw["custom_fields"])
	if len(acc.TrackingCode) < 5 {
		acc.TrackingCode = ""
	}
	n.payment(acc, raw["payments"])
	order.Accounting = acc

	discount, err := money(raw["total_discount"])
	if err != nil {
		return nil, malformed(externalId, "total_discount: %v", err)
	}
	if discount.IsPositive() {
		if warn := applyDiscount(order.Products, discount); warn != "" {
			order.Warnings = append(order.Warnings, warn)
		}
	}
	if !acc.PaidByCard {
		acc.PricesRounded = roundPrices(order.Products)
	}
	return order, nil
}

func (n *Normalizer) customFields(acc *entity.Accounting, v any) {
	for _, item := range list(v) {
		field := object(item)
		value := field["value"]
		switch text(field["name"]) {
		case n.tables.Fields.Supplier:
			// a select field; the first option is the supplier
			if options := list(value); len(options) > 0 {
				acc.Supplier = text(options[0])
			} else {
				acc.Supplier = text(value)
			}
		case n.tables.Fields.SupplierId:
			acc.SupplierId = text(value)
		case n.tables.Fields.PushFlag:
			acc.PushToAccounting = truthy(value)
		case n.tables.Fields.SentByCar:
			if truthy(value) {
				acc.TrackingCode = entity.TrackingSentByCar
			}
		}
	}
}

// payment picks the label: paid by card, then any other paid method, then unpaid.
func (n *Normalizer) payment(acc *entity.Accounting, v any) {
	var byCard, paid, notPaid string
	for _, item := range list(v) {
		p := object(item)
		methodId, _ := integer(p["payment_method_id"])
		label := n.tables.Payments[methodId]
		if text(p["status"]) != paymentPaid {
			notPaid = label
			continue
		}
		if n.tables.isCardPayment(label) {
			acc.PaidByCard = true
			byCard = label
		} else {
			paid = label
		}
	}
	acc.Payment = firstNonEmpty(byCard, paid, notPaid)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// applyDiscount spreads the whole order discount onto the most expensive product.
func applyDiscount(products []entity.Product, discount decimal.Decimal) string {
	if len(products) == 0 {
		return "discount on an order without products"
	}
	top := 0
	for i, p := range products {
		if p.Price.GreaterThan(products[top].Price) {
			top = i
		}
	}
	p := &products[top]
	if p.Quantity == 0 {
		return "discount on a product with zero quantity: " + p.Sku
	}
	unit := p.Price.Sub(discount.Div(decimal.NewFromInt(int64(p.Quantity))))
	p.Price = util.RoundHalfUp(unit, 2)
	return ""
}

// roundPrices removes kopecks from line totals; reports whether any price changed.
func roundPrices(products []entity.Product) bool {
	rounded := false
	for i := range products {
		p := &products[i]
		if p.Quantity == 0 {
			continue
		}
		quantity := decimal.NewFromInt(int64(p.Quantity))
		line := p.Price.Mul(quantity)
		if line.Equal(line.Truncate(0)) {
			continue
		}
		if p.Quantity%2 != 0 {
			p.Price = util.RoundHalfUp(p.Price, 0)
		} else {
			p.Price = util.RoundHalfUp(line, 0).Div(quantity)
		}
		rounded = true
	}
	return rounded
}
