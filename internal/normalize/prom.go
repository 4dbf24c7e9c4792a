package normalize

import (
	"regexp"

	"github.com/shopspring/decimal"

	"ordersync/entity"
	"ordersync/internal/lib/util"
)

// promo condition text, e.g. "Безкоштовна доставка: 59.5 грн — продавец"
var freeDeliveryRe = regexp.MustCompile(`([\d.]+) грн — продавец`)

func (n *Normalizer) prom(raw entity.RawOrder) (*entity.Order, error) {
	externalId, ok := id(raw["id"])
	if !ok {
		return nil, malformed("", "id is missing")
	}

	order := &entity.Order{
		ExternalId: externalId,
		Status:     n.promStatus(text(raw["status"])),
	}

	var err error
	if order.TotalPrice, err = money(raw["price"]); err != nil {
		return nil, malformed(externalId, "price: %v", err)
	}
	if created, ok := timestamp(raw["date_created"]); ok {
		order.Created = created
	}

	if cpa := object(raw["cpa_commission"]); cpa != nil {
		if order.CpaCommission, err = money(cpa["amount"]); err != nil {
			return nil, malformed(externalId, "cpa_commission: %v", err)
		}
		order.CpaRefunded = truthy(cpa["is_refunded"])
	}

	if truthy(raw["has_order_promo_free_delivery"]) {
		amount, warn := promFreeDelivery(raw["ps_promotion"])
		if warn != "" {
			order.Warnings = append(order.Warnings, warn)
		}
		order.DeliveryCommission = amount
	}
	if order.OrderCommission, err = money(raw["order_commission"]); err != nil {
		return nil, malformed(externalId, "order_commission: %v", err)
	}

	surname := util.Capitalize(text(raw["client_last_name"]))
	name := util.Capitalize(text(raw["client_first_name"]))
	middle := util.Capitalize(text(raw["client_second_name"]))
	order.Buyer = entity.Buyer{
		FullName: util.JoinNonEmpty(surname, name, middle),
		Phone:    n.phone(raw["phone"]),
		Email:    util.CleanEmail(text(raw["email"])),
		Comment:  text(raw["client_notes"]),
	}
	order.Shipping = entity.Shipping{Address: text(raw["delivery_address"])}

	if order.Products, err = products(externalId, raw["products"], "sku", "name", "price"); err != nil {
		return nil, err
	}
	return order, nil
}

func (n *Normalizer) promStatus(code string) entity.Status {
	if status, ok := n.tables.PromStatus[code]; ok {
		return status
	}
	return entity.StatusOther
}

// promFreeDelivery extracts the seller's share of a free delivery promotion.
// A missing or unreadable condition yields zero and a warning.
func promFreeDelivery(v any) (decimal.Decimal, string) {
	conditions := list(object(v)["conditions"])
	if len(conditions) == 0 {
		return decimal.Zero, "free delivery promotion without conditions"
	}
	condition := text(conditions[0])
	match := freeDeliveryRe.FindStringSubmatch(condition)
	if match == nil {
		return decimal.Zero, "free delivery amount not found in " + condition
	}
	amount, err := decimal.NewFromString(match[1])
	if err != nil {
		return decimal.Zero, "free delivery amount " + match[1] + " is not a number"
	}
	return amount, ""
}
