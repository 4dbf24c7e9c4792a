package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRow is the durable state of one tracked order, keyed by (Source, ExternalId).
type LedgerRow struct {
	Source             Source          `json:"source"`
	ExternalId         string          `json:"external_id"`
	Shop               string          `json:"shop"`
	Status             Status          `json:"status"`
	Accepted           bool            `json:"accepted"`
	CpaRefunded        bool            `json:"cpa_refunded"`
	CpaCommission      decimal.Decimal `json:"cpa_commission"`
	DeliveryCommission decimal.Decimal `json:"delivery_commission"`
	OrderCommission    decimal.Decimal `json:"order_commission"`
	Created            time.Time       `json:"created"`
	Updated            time.Time       `json:"updated"`
}

// NewLedgerRow builds the first row for an order; delivery and order
// commissions start at zero and are latched by later observations.
func NewLedgerRow(o *Order, now time.Time) *LedgerRow {
	return &LedgerRow{
		Source:        o.Source,
		ExternalId:    o.ExternalId,
		Shop:          o.Shop,
		Status:        o.Status,
		Accepted:      o.Status.IsAccepted(),
		CpaCommission: o.CpaCommission,
		Created:       o.Created,
		Updated:       now,
	}
}

type RefundQueueEntry struct {
	ExternalId    string          `json:"external_id"`
	Shop          string          `json:"shop"`
	CpaCommission decimal.Decimal `json:"cpa_commission"`
	Created       time.Time       `json:"created"`
}

type CommissionKind string

const (
	CommissionCpa      CommissionKind = "cpa"
	CommissionDelivery CommissionKind = "delivery"
	CommissionOrder    CommissionKind = "order"
)

// CommissionChange records a commission value observed under a final status.
type CommissionChange struct {
	ExternalId string          `json:"external_id"`
	Shop       string          `json:"shop"`
	Kind       CommissionKind  `json:"kind"`
	Previous   decimal.Decimal `json:"previous"`
	Amount     decimal.Decimal `json:"amount"`
	Created    time.Time       `json:"created"`
}
