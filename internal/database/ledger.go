package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"ordersync/entity"
	"ordersync/internal/ledger"
)

const errDuplicateEntry = 1062

const orderColumns = `source, external_id, shop, status, accepted, cpa_refunded,
	cpa_commission, delivery_commission, order_commission, created, updated`

// InTx runs fn in a database transaction; it is committed only when fn returns nil.
func (s *MySql) InTx(ctx context.Context, fn func(tx ledger.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlTx{tx: tx, ctx: ctx, s: s}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx  *sql.Tx
	ctx context.Context
	s   *MySql
}

func (t *sqlTx) scanOrder(row *sql.Row) (*entity.LedgerRow, error) {
	var (
		r       entity.LedgerRow
		created sql.NullTime
	)
	err := row.Scan(&r.Source, &r.ExternalId, &r.Shop, &r.Status, &r.Accepted, &r.CpaRefunded,
		&r.CpaCommission, &r.DeliveryCommission, &r.OrderCommission, &created, &r.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if created.Valid {
		r.Created = created.Time
	}
	return &r, nil
}

// GetOrder locks the row so concurrent reconciliations of one order serialize.
func (t *sqlTx) GetOrder(source entity.Source, externalId string) (*entity.LedgerRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE source = ? AND external_id = ? FOR UPDATE`,
		orderColumns, t.s.table(tableOrders))
	return t.scanOrder(t.tx.QueryRowContext(t.ctx, query, source, externalId))
}

func (t *sqlTx) FindOrder(externalId string) (*entity.LedgerRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE external_id = ? AND source <> ?
		ORDER BY created DESC LIMIT 1`,
		orderColumns, t.s.table(tableOrders))
	return t.scanOrder(t.tx.QueryRowContext(t.ctx, query, externalId, entity.SourceKeyCrm))
}

func (t *sqlTx) UpsertOrder(row *entity.LedgerRow) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			shop = VALUES(shop),
			status = VALUES(status),
			accepted = GREATEST(accepted, VALUES(accepted)),
			cpa_refunded = GREATEST(cpa_refunded, VALUES(cpa_refunded)),
			cpa_commission = VALUES(cpa_commission),
			delivery_commission = VALUES(delivery_commission),
			order_commission = VALUES(order_commission),
			updated = VALUES(updated)`,
		t.s.table(tableOrders), orderColumns)

	var created sql.NullTime
	if !row.Created.IsZero() {
		created = sql.NullTime{Time: row.Created, Valid: true}
	}
	_, err := t.tx.ExecContext(t.ctx, query,
		row.Source, row.ExternalId, row.Shop, row.Status, row.Accepted, row.CpaRefunded,
		row.CpaCommission, row.DeliveryCommission, row.OrderCommission, created, row.Updated)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", row.ExternalId, err)
	}
	return nil
}

func (t *sqlTx) EnqueueRefund(entry *entity.RefundQueueEntry) error {
	query := fmt.Sprintf(`INSERT IGNORE INTO %s (external_id, shop, cpa_commission, created) VALUES (?, ?, ?, ?)`,
		t.s.table(tableRefunds))
	_, err := t.tx.ExecContext(t.ctx, query, entry.ExternalId, entry.Shop, entry.CpaCommission, entry.Created)
	if err != nil {
		return fmt.Errorf("enqueue refund %s: %w", entry.ExternalId, err)
	}
	return nil
}

func (t *sqlTx) ListPendingRefunds() ([]*entity.RefundQueueEntry, error) {
	query := fmt.Sprintf(`SELECT external_id, shop, cpa_commission, created FROM %s ORDER BY created, external_id`,
		t.s.table(tableRefunds))
	rows, err := t.tx.QueryContext(t.ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var entries []*entity.RefundQueueEntry
	for rows.Next() {
		var e entity.RefundQueueEntry
		if err = rows.Scan(&e.ExternalId, &e.Shop, &e.CpaCommission, &e.Created); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (t *sqlTx) DeleteRefund(entry *entity.RefundQueueEntry) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE external_id = ?`, t.s.table(tableRefunds))
	if _, err := t.tx.ExecContext(t.ctx, query, entry.ExternalId); err != nil {
		return fmt.Errorf("delete refund %s: %w", entry.ExternalId, err)
	}
	return nil
}

func (t *sqlTx) EnqueueCommission(change *entity.CommissionChange) error {
	query := fmt.Sprintf(`INSERT INTO %s (external_id, shop, kind, previous, amount, created) VALUES (?, ?, ?, ?, ?, ?)`,
		t.s.table(tableCommissions))
	_, err := t.tx.ExecContext(t.ctx, query,
		change.ExternalId, change.Shop, change.Kind, change.Previous, change.Amount, change.Created)
	if err != nil {
		return fmt.Errorf("enqueue commission %s: %w", change.ExternalId, err)
	}
	return nil
}

func (t *sqlTx) GetDocument(externalId string, docType entity.DocumentType) (*entity.DocumentRecord, error) {
	query := fmt.Sprintf(`SELECT external_id, document_type, parent_id, tracking_code, supplier_id
		FROM %s WHERE external_id = ? AND document_type = ?`, t.s.table(tableDocuments))

	var rec entity.DocumentRecord
	err := t.tx.QueryRowContext(t.ctx, query, externalId, docType).
		Scan(&rec.ExternalId, &rec.DocumentType, &rec.ParentId, &rec.TrackingCode, &rec.SupplierId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", externalId, err)
	}
	return &rec, nil
}

func (t *sqlTx) DocumentExists(externalId string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE external_id = ? LIMIT 1`, t.s.table(tableDocuments))

	var one int
	err := t.tx.QueryRowContext(t.ctx, query, externalId).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("document exists %s: %w", externalId, err)
	}
	return true, nil
}

func (t *sqlTx) InsertDocument(rec *entity.DocumentRecord) (bool, error) {
	query := fmt.Sprintf(`INSERT IGNORE INTO %s (external_id, document_type, parent_id, tracking_code, supplier_id)
		VALUES (?, ?, ?, ?, ?)`, t.s.table(tableDocuments))
	res, err := t.tx.ExecContext(t.ctx, query,
		rec.ExternalId, rec.DocumentType, rec.ParentId, rec.TrackingCode, rec.SupplierId)
	if err != nil {
		return false, fmt.Errorf("insert document %s: %w", rec.ExternalId, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected == 1, nil
}

func (t *sqlTx) UpdateDocument(rec *entity.DocumentRecord) error {
	query := fmt.Sprintf(`UPDATE %s SET parent_id = ?, tracking_code = ?, supplier_id = ?
		WHERE external_id = ? AND document_type = ?`, t.s.table(tableDocuments))
	_, err := t.tx.ExecContext(t.ctx, query,
		rec.ParentId, rec.TrackingCode, rec.SupplierId, rec.ExternalId, rec.DocumentType)
	if err != nil {
		return fmt.Errorf("update document %s: %w", rec.ExternalId, err)
	}
	return nil
}

func (t *sqlTx) AddOutbox(entry *entity.OutboxEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s (document_id, external_id, action, payload, created) VALUES (?, ?, ?, ?, ?)`,
		t.s.table(tableOutbox))
	_, err := t.tx.ExecContext(t.ctx, query,
		entry.DocumentId, entry.ExternalId, entry.Action, entry.Payload, entry.Created)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
			return fmt.Errorf("outbox entry %s already exists: %w", entry.DocumentId, err)
		}
		return fmt.Errorf("add outbox %s: %w", entry.DocumentId, err)
	}
	return nil
}

func (s *MySql) MarkDelivered(ctx context.Context, documentId string, at time.Time) error {
	stmt, err := s.prepareStmt("markDelivered",
		fmt.Sprintf(`UPDATE %s SET delivered = ? WHERE document_id = ?`, s.table(tableOutbox)))
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, at, documentId)
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", documentId, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("outbox entry %s: %w", documentId, ledger.ErrNotFound)
	}
	return nil
}

func (s *MySql) ListUndelivered(ctx context.Context, before time.Time, limit int) ([]*entity.OutboxEntry, error) {
	stmt, err := s.prepareStmt("listUndelivered",
		fmt.Sprintf(`SELECT document_id, external_id, action, payload, created FROM %s
			WHERE delivered IS NULL AND created < ? ORDER BY created LIMIT ?`, s.table(tableOutbox)))
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list undelivered: %w", err)
	}
	defer rows.Close()

	var entries []*entity.OutboxEntry
	for rows.Next() {
		var e entity.OutboxEntry
		if err = rows.Scan(&e.DocumentId, &e.ExternalId, &e.Action, &e.Payload, &e.Created); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
