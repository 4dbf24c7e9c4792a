package entity

type EffectKind string

const (
	EffectNewOrder   EffectKind = "new_order_notification"
	EffectAccepted   EffectKind = "accepted_notification"
	EffectRefund     EffectKind = "refund_queued"
	EffectCommission EffectKind = "commission_outbox_entry"
	EffectDocument   EffectKind = "outbox_document"
)

// Effect is a side effect produced by reconciliation and executed after commit.
type Effect struct {
	Kind       EffectKind
	Shop       string
	Order      *Order
	Refund     *RefundQueueEntry
	Commission *CommissionChange
	Document   *OutboxDocument
	Entry      *OutboxEntry
}

func (e Effect) IsNotification() bool {
	return e.Kind == EffectNewOrder || e.Kind == EffectAccepted
}
