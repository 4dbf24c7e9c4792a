package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawOrder is an order document as returned by a source, numbers kept as json.Number
type RawOrder map[string]any

// Order is a normalized snapshot of a source order taken on one fetch.
type Order struct {
	Source             Source          `json:"source" validate:"required"`
	Shop               string          `json:"shop" validate:"required"`
	ExternalId         string          `json:"external_id" validate:"required"`
	Status             Status          `json:"status" validate:"required"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	CpaCommission      decimal.Decimal `json:"cpa_commission"`
	CpaRefunded        bool            `json:"cpa_refunded"`
	DeliveryCommission decimal.Decimal `json:"delivery_commission"`
	OrderCommission    decimal.Decimal `json:"order_commission"`
	Buyer              Buyer           `json:"buyer"`
	Shipping           Shipping        `json:"shipping"`
	Products           []Product       `json:"products" validate:"dive"`
	Created            time.Time       `json:"created"`
	Accounting         *Accounting     `json:"accounting,omitempty"`
	// Warnings collects non-fatal mapping problems
	Warnings []string `json:"-"`
}

// Money returns the order amounts that must never be negative, keyed by json name.
func (o *Order) Money() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"total_price":         o.TotalPrice,
		"cpa_commission":      o.CpaCommission,
		"delivery_commission": o.DeliveryCommission,
		"order_commission":    o.OrderCommission,
	}
}

type Buyer struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

type Shipping struct {
	Address        string `json:"full_address,omitempty"`
	RecipientName  string `json:"recipient_full_name,omitempty"`
	RecipientPhone string `json:"recipient_phone,omitempty"`
}

type Product struct {
	Sku      string          `json:"sku"`
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"gte=0"`
}

// Accounting holds the CRM fields needed to build accounting documents.
type Accounting struct {
	ParentId         string    `json:"parent_id,omitempty"`
	Shop             string    `json:"shop,omitempty"`
	SourceOrderId    string    `json:"source_order_id,omitempty"`
	Manager          string    `json:"manager,omitempty"`
	ManagerComment   string    `json:"manager_comment,omitempty"`
	Payment          string    `json:"payment,omitempty"`
	Supplier         string    `json:"supplier,omitempty"`
	SupplierId       string    `json:"supplier_id,omitempty"`
	TrackingCode     string    `json:"tracking_code,omitempty"`
	SupplierProducts []Product `json:"supplier_products,omitempty" validate:"dive"`
	PushToAccounting bool      `json:"push_to_accounting"`
	HasDuplicates    bool      `json:"has_duplicates"`
	PaidByCard       bool      `json:"paid_by_card"`
	PricesRounded    bool      `json:"prices_rounded"`
}

// Pushable reports whether a CRM order is complete enough to be sent to accounting.
func (o *Order) Pushable() bool {
	a := o.Accounting
	if a == nil {
		return false
	}
	return a.PushToAccounting && a.Manager != "" && o.Buyer.FullName != "" && o.Buyer.Phone != "" && !a.HasDuplicates
}
