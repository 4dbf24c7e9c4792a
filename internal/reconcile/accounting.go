package reconcile

import (
	"log/slog"

	"ordersync/entity"
)

// accountingDocuments feeds a CRM order to accounting: a buyer order for a
// root order with the commission documents of its marketplace order, and a
// supplier order, created once and then updated with tracking or supplier id.
func (w *work) accountingDocuments() error {
	order := w.order
	if !order.Pushable() {
		return nil
	}
	acc := order.Accounting

	if acc.ParentId == "" {
		if err := w.accountingBuyerOrder(); err != nil {
			return err
		}
	}
	if acc.Supplier != "" {
		return w.accountingSupplierOrder()
	}
	return nil
}

func (w *work) accountingBuyerOrder() error {
	order := w.order
	_, err := w.tx.GetDocument(order.ExternalId, entity.DocumentClientOrder)
	if err == nil {
		return nil
	}
	if !notFound(err) {
		return err
	}

	emitted, err := w.emit(w.buyerOrder(w.children), true)
	if err != nil || !emitted {
		return err
	}

	sourceId := order.Accounting.SourceOrderId
	if sourceId == "" {
		return nil
	}
	row, err := w.tx.FindOrder(sourceId)
	if notFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return w.commissionDocuments(row, order.ExternalId)
}

func (w *work) accountingSupplierOrder() error {
	order := w.order
	acc := order.Accounting

	rec, err := w.tx.GetDocument(order.ExternalId, entity.DocumentSupplierOrder)
	if notFound(err) {
		parentId := acc.ParentId
		if parentId == "" {
			parentId = order.ExternalId
		}
		doc := &entity.OutboxDocument{
			Action:         entity.ActionCreateSupplierOrder,
			DocumentType:   entity.DocumentSupplierOrder,
			ExternalId:     order.ExternalId,
			ParentId:       parentId,
			Shop:           acc.Shop,
			Manager:        acc.Manager,
			ManagerComment: acc.ManagerComment,
			Products:       acc.SupplierProducts,
			Supplier:       acc.Supplier,
			SupplierId:     acc.SupplierId,
			TrackingCode:   acc.TrackingCode,
		}
		_, err = w.emit(doc, true)
		return err
	}
	if err != nil {
		return err
	}

	update := &entity.OutboxDocument{
		Action:       entity.ActionUpdateSupplierOrder,
		DocumentType: entity.DocumentSupplierOrder,
		ExternalId:   order.ExternalId,
		ParentId:     rec.ParentId,
	}
	switch {
	case acc.TrackingCode != "" && acc.TrackingCode != rec.TrackingCode:
		update.TrackingCode = acc.TrackingCode
		rec.TrackingCode = acc.TrackingCode
	case acc.SupplierId != "" && rec.SupplierId == "":
		update.SupplierId = acc.SupplierId
		rec.SupplierId = acc.SupplierId
	default:
		return nil
	}

	if err = w.tx.UpdateDocument(rec); err != nil {
		return err
	}
	emitted, err := w.emit(update, false)
	if emitted {
		w.engine.log.With(
			slog.String("order_id", order.ExternalId),
			slog.String("tracking_code", update.TrackingCode),
			slog.String("supplier_id", update.SupplierId),
		).Info("supplier order updated")
	}
	return err
}
