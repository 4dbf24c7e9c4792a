package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"ordersync/entity"
	"ordersync/internal/ledger"
	"ordersync/internal/lib/sl"
)

var commissionKinds = []entity.CommissionKind{
	entity.CommissionCpa,
	entity.CommissionDelivery,
	entity.CommissionOrder,
}

func commissionAmount(row *entity.LedgerRow, kind entity.CommissionKind) decimal.Decimal {
	switch kind {
	case entity.CommissionDelivery:
		return row.DeliveryCommission
	case entity.CommissionOrder:
		return row.OrderCommission
	default:
		return row.CpaCommission
	}
}

// directDocuments emits the buyer order of a marketplace order and one
// supplier order with a goods receipt per nonzero commission.
func (w *work) directDocuments(row *entity.LedgerRow) error {
	if _, err := w.emit(w.buyerOrder(nil), true); err != nil {
		return err
	}
	return w.commissionDocuments(row, row.ExternalId)
}

// commissionDocuments derives the commission pairs of a marketplace row; parentId is the buyer order.
func (w *work) commissionDocuments(row *entity.LedgerRow, parentId string) error {
	for _, kind := range commissionKinds {
		amount := commissionAmount(row, kind)
		if !amount.IsPositive() {
			continue
		}
		externalId := row.ExternalId + entity.CommissionSuffix[kind]
		supplier := w.engine.commissionDocument(entity.ActionCreateSupplierOrder, entity.DocumentSupplierOrder,
			externalId, parentId, row.Shop, entity.CommissionProduct(kind, amount))
		if _, err := w.emit(supplier, true); err != nil {
			return err
		}
		receipt := w.engine.commissionDocument(entity.ActionCreateGoodsReceipt, entity.DocumentGoodsReceipt,
			externalId, externalId, "", entity.CommissionProduct(kind, amount))
		receipt.Supplier = supplier.Supplier
		if _, err := w.emit(receipt, true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) commissionDocument(action string, docType entity.DocumentType, externalId, parentId, shop string, product entity.Product) *entity.OutboxDocument {
	return &entity.OutboxDocument{
		Action:       action,
		DocumentType: docType,
		Posted:       true,
		ExternalId:   externalId,
		ParentId:     parentId,
		Shop:         shop,
		Manager:      e.manager,
		Products:     []entity.Product{product},
		Supplier:     fmt.Sprintf(e.supplierFormat, shop),
	}
}

// buyerOrder is the root document of the current order; extra products are appended.
func (w *work) buyerOrder(extra []entity.Product) *entity.OutboxDocument {
	o := w.order
	buyer := o.Buyer
	shipping := o.Shipping
	doc := &entity.OutboxDocument{
		Action:       entity.ActionCreateBuyerOrder,
		DocumentType: entity.DocumentClientOrder,
		ExternalId:   o.ExternalId,
		Shop:         o.Shop,
		Products:     append(append([]entity.Product(nil), o.Products...), extra...),
		Buyer:        &buyer,
		Shipping:     &shipping,
	}
	if acc := o.Accounting; acc != nil {
		if acc.Shop != "" {
			doc.Shop = acc.Shop
		}
		doc.Manager = acc.Manager
		doc.ManagerComment = acc.ManagerComment
		doc.Payment = acc.Payment
	}
	return doc
}

// emit records the document, when insert is set, and queues it in the
// outbox. It reports false when the document was already recorded or was
// dropped for an unresolved parent.
func (w *work) emit(doc *entity.OutboxDocument, insert bool) (bool, error) {
	if !doc.IsRoot() {
		err := w.checkParent(doc)
		var violation *entity.InvariantViolation
		if errors.As(err, &violation) {
			w.engine.log.With(
				slog.String("shop", w.shop.Name),
				slog.String("document", doc.String()),
				slog.String("parent_id", doc.ParentId),
				sl.Err(err),
			).Error("document dropped")
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}

	if insert {
		inserted, err := w.tx.InsertDocument(doc.Record())
		if err != nil {
			return false, err
		}
		if !inserted {
			return false, nil
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", doc, err)
	}
	entry := &entity.OutboxEntry{
		DocumentId: w.engine.newId(),
		ExternalId: doc.ExternalId,
		Action:     doc.Action,
		Payload:    payload,
		Created:    w.now,
	}
	if err = w.tx.AddOutbox(entry); err != nil {
		return false, err
	}

	w.effects = append(w.effects, entity.Effect{
		Kind:     entity.EffectDocument,
		Shop:     w.shop.Name,
		Order:    w.order,
		Document: doc,
		Entry:    entry,
	})
	w.engine.log.With(
		slog.String("shop", w.shop.Name),
		slog.String("document", doc.String()),
		slog.String("parent_id", doc.ParentId),
	).Info("document emitted")
	return true, nil
}

// checkParent requires a non-root document to reference itself or an already recorded document.
func (w *work) checkParent(doc *entity.OutboxDocument) error {
	if doc.ParentId == "" {
		return &entity.InvariantViolation{ExternalId: doc.ExternalId, Reason: "non-root document without parent"}
	}
	if doc.ParentId == doc.ExternalId {
		return nil
	}
	exists, err := w.tx.DocumentExists(doc.ParentId)
	if err != nil {
		return err
	}
	if !exists {
		return &entity.InvariantViolation{
			ExternalId: doc.ExternalId,
			Reason:     fmt.Sprintf("parent %s is not recorded", doc.ParentId),
		}
	}
	return nil
}

func notFound(err error) bool {
	return errors.Is(err, ledger.ErrNotFound)
}
