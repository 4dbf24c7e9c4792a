package dispatch

import (
	"fmt"

	"ordersync/entity"
)

var commissionNames = map[entity.CommissionKind]string{
	entity.CommissionCpa:      "CPA",
	entity.CommissionDelivery: "за доставку",
	entity.CommissionOrder:    "за заказ",
}

// OrderText is the order notification sent to managers.
func OrderText(order *entity.Order, shop, currency string) string {
	state := "Принят"
	switch order.Status {
	case entity.StatusNew:
		state = "НОВЫЙ"
	case entity.StatusPaid:
		state = "НОВЫЙ ОПЛАЧЕННЫЙ"
	}
	if shop == "" {
		shop = order.Shop
	}
	return fmt.Sprintf("%s заказ %s на %s\nСумма: %s %s\nКлиент: %s \nТелефон: %s",
		state, order.ExternalId, shop, order.TotalPrice.String(), currency, order.Buyer.FullName, order.Buyer.Phone)
}

func RefundText(entry *entity.RefundQueueEntry, currency string) string {
	return fmt.Sprintf("Возврат комиссии по заказу %s на %s\nСумма: %s %s",
		entry.ExternalId, entry.Shop, entry.CpaCommission.String(), currency)
}

func CommissionText(change *entity.CommissionChange, currency string) string {
	return fmt.Sprintf("Комиссия %s по заказу %s на %s\nБыло: %s %s\nСтало: %s %s",
		commissionNames[change.Kind], change.ExternalId, change.Shop,
		change.Previous.String(), currency, change.Amount.String(), currency)
}
