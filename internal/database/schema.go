package database

import (
	"fmt"
	"log/slog"
)

const (
	tableOrders      = "sync_orders"
	tableRefunds     = "sync_refund_queue"
	tableCommissions = "sync_commission_queue"
	tableDocuments   = "sync_documents"
	tableOutbox      = "sync_outbox"
)

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

var schema = []struct {
	table string
	ddl   string
}{
	{tableOrders, `CREATE TABLE IF NOT EXISTS %s (
		source VARCHAR(16) NOT NULL,
		external_id VARCHAR(64) NOT NULL,
		shop VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		accepted TINYINT(1) NOT NULL DEFAULT 0,
		cpa_refunded TINYINT(1) NOT NULL DEFAULT 0,
		cpa_commission DECIMAL(12,2) NOT NULL DEFAULT 0,
		delivery_commission DECIMAL(12,2) NOT NULL DEFAULT 0,
		created DATETIME(6) NULL,
		updated DATETIME(6) NOT NULL,
		PRIMARY KEY (source, external_id),
		KEY idx_external_id (external_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{tableRefunds, `CREATE TABLE IF NOT EXISTS %s (
		external_id VARCHAR(64) NOT NULL,
		shop VARCHAR(64) NOT NULL DEFAULT '',
		cpa_commission DECIMAL(12,2) NOT NULL DEFAULT 0,
		created DATETIME(6) NOT NULL,
		PRIMARY KEY (external_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{tableCommissions, `CREATE TABLE IF NOT EXISTS %s (
		id BIGINT NOT NULL AUTO_INCREMENT,
		external_id VARCHAR(64) NOT NULL,
		shop VARCHAR(64) NOT NULL DEFAULT '',
		kind VARCHAR(16) NOT NULL,
		previous DECIMAL(12,2) NOT NULL DEFAULT 0,
		amount DECIMAL(12,2) NOT NULL DEFAULT 0,
		created DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		KEY idx_external_id (external_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{tableDocuments, `CREATE TABLE IF NOT EXISTS %s (
		id BIGINT NOT NULL AUTO_INCREMENT,
		external_id VARCHAR(64) NOT NULL,
		document_type VARCHAR(64) NOT NULL,
		parent_id VARCHAR(64) NOT NULL DEFAULT '',
		tracking_code VARCHAR(64) NOT NULL DEFAULT '',
		created DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (id),
		UNIQUE KEY uq_document (external_id, document_type)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{tableOutbox, `CREATE TABLE IF NOT EXISTS %s (
		document_id CHAR(36) NOT NULL,
		external_id VARCHAR(64) NOT NULL,
		action VARCHAR(64) NOT NULL,
		payload MEDIUMBLOB NOT NULL,
		created DATETIME(6) NOT NULL,
		delivered DATETIME(6) NULL,
		PRIMARY KEY (document_id),
		KEY idx_pending (delivered, created)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

// columns added after the first release
var evolved = []struct {
	table, column, definition string
}{
	{tableOrders, "order_commission", "DECIMAL(12,2) NOT NULL DEFAULT 0"},
	{tableDocuments, "supplier_id", "VARCHAR(64) NOT NULL DEFAULT ''"},
}

func (s *MySql) initSchema() error {
	for _, t := range schema {
		if _, err := s.db.Exec(fmt.Sprintf(t.ddl, s.table(t.table))); err != nil {
			return fmt.Errorf("create table %s: %w", t.table, err)
		}
	}
	for _, c := range evolved {
		if err := s.addColumnIfNotExists(c.table, c.column, c.definition); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySql) loadStructure(table string) (map[string]Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if columns, ok := s.structure[table]; ok {
		return columns, nil
	}

	rows, err := s.db.Query(
		`SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE
		 FROM information_schema.COLUMNS
		 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`,
		s.table(table),
	)
	if err != nil {
		return nil, fmt.Errorf("read structure of %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]Column)
	for rows.Next() {
		var c Column
		var nullable string
		if err = rows.Scan(&c.Name, &c.Type, &nullable); err != nil {
			return nil, fmt.Errorf("scan structure of %s: %w", table, err)
		}
		c.Nullable = nullable == "YES"
		columns[c.Name] = c
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	s.structure[table] = columns
	return columns, nil
}

func (s *MySql) addColumnIfNotExists(table, column, definition string) error {
	columns, err := s.loadStructure(table)
	if err != nil {
		return err
	}
	if _, ok := columns[column]; ok {
		return nil
	}

	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.table(table), column, definition)
	if _, err = s.db.Exec(query); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}

	s.mu.Lock()
	columns[column] = Column{Name: column, Type: definition}
	s.mu.Unlock()

	s.log.With(
		slog.String("table", table),
		slog.String("column", column),
	).Info("column added")
	return nil
}
