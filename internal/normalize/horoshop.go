package normalize

import (
	"ordersync/entity"
	"ordersync/internal/lib/util"
)

func (n *Normalizer) horoshop(raw entity.RawOrder) (*entity.Order, error) {
	externalId, ok := id(raw["order_id"])
	if !ok {
		return nil, malformed("", "order_id is missing")
	}

	order := &entity.Order{
		ExternalId: externalId,
		Status:     entity.StatusOther,
	}
	if code, ok := integer(raw["stat_status"]); ok {
		if status, found := n.tables.HoroshopStatus[code]; found {
			order.Status = status
		}
	}

	var err error
	if order.TotalPrice, err = money(raw["total_sum"]); err != nil {
		return nil, malformed(externalId, "total_sum: %v", err)
	}
	if created, ok := timestamp(raw["stat_created"]); ok {
		order.Created = created
	}

	order.Buyer = entity.Buyer{
		FullName: util.CapitalizeWords(text(raw["delivery_name"])),
		Phone:    n.phone(raw["delivery_phone"]),
		Email:    util.CleanEmail(text(raw["delivery_email"])),
		Comment:  text(raw["comment"]),
	}
	order.Shipping = entity.Shipping{Address: text(raw["delivery_address"])}

	if order.Products, err = products(externalId, raw["products"], "article", "title", "price"); err != nil {
		return nil, err
	}
	return order, nil
}
