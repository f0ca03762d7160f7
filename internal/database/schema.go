package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the workflow tables.  Fields, signers and audit events are
// owned by their document and go with it on delete.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		title         VARCHAR(255)    NOT NULL,
		description   TEXT            NOT NULL,
		author_id     BIGINT UNSIGNED NOT NULL,
		file_key      VARCHAR(512)    NOT NULL DEFAULT '',
		page_count    INT             NOT NULL DEFAULT 0,
		sequential    TINYINT(1)      NOT NULL DEFAULT 0,
		document_type VARCHAR(16)     NOT NULL DEFAULT 'UNSIGNED',
		status        VARCHAR(32)     NOT NULL DEFAULT 'DRAFT',
		created_at    DATETIME(6)     NOT NULL,
		updated_at    DATETIME(6)     NOT NULL,
		prepared_at   DATETIME(6)     NULL,
		signed_at     DATETIME(6)     NULL,
		expires_at    DATETIME(6)     NULL,
		due_date      DATETIME(6)     NULL,
		KEY idx_documents_author (author_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS signers (
		id               BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		document_id      BIGINT UNSIGNED NOT NULL,
		name             VARCHAR(255)    NOT NULL,
		email            VARCHAR(255)    NOT NULL,
		user_id          BIGINT UNSIGNED NULL,
		signing_order    INT             NOT NULL DEFAULT 1,
		status           VARCHAR(16)     NOT NULL DEFAULT 'PENDING',
		access_code_hash VARCHAR(100)    NOT NULL DEFAULT '',
		viewed_at        DATETIME(6)     NULL,
		signed_at        DATETIME(6)     NULL,
		declined_at      DATETIME(6)     NULL,
		decline_reason   TEXT            NULL,
		UNIQUE KEY uq_signers_doc_email (document_id, email),
		CONSTRAINT fk_signers_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS fields (
		id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		document_id     BIGINT UNSIGNED NOT NULL,
		type            VARCHAR(16)     NOT NULL,
		page            INT             NOT NULL,
		pos_x           DOUBLE          NOT NULL,
		pos_y           DOUBLE          NOT NULL,
		width           DOUBLE          NOT NULL,
		height          DOUBLE          NOT NULL,
		required        TINYINT(1)      NOT NULL DEFAULT 0,
		label           VARCHAR(255)    NOT NULL DEFAULT '',
		placeholder     VARCHAR(255)    NOT NULL DEFAULT '',
		options         JSON            NULL,
		validation_rule VARCHAR(1024)   NOT NULL DEFAULT '',
		assigned_to     BIGINT UNSIGNED NULL,
		value           MEDIUMTEXT      NOT NULL,
		created_at      DATETIME(6)     NOT NULL,
		modified_at     DATETIME(6)     NOT NULL,
		KEY idx_fields_document (document_id),
		CONSTRAINT fk_fields_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		CONSTRAINT fk_fields_signer FOREIGN KEY (assigned_to) REFERENCES signers(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		event_id    CHAR(36)        NOT NULL,
		document_id BIGINT UNSIGNED NOT NULL,
		occurred_at DATETIME(6)     NOT NULL,
		event       VARCHAR(64)     NOT NULL,
		actor_type  VARCHAR(16)     NOT NULL,
		actor_id    BIGINT UNSIGNED NOT NULL DEFAULT 0,
		actor_email VARCHAR(255)    NOT NULL DEFAULT '',
		ip_address  VARCHAR(64)     NOT NULL DEFAULT '',
		user_agent  VARCHAR(512)    NOT NULL DEFAULT '',
		geolocation VARCHAR(255)    NOT NULL DEFAULT '',
		details     TEXT            NOT NULL,
		prev_hash   CHAR(64)        NOT NULL DEFAULT '',
		hash        CHAR(64)        NOT NULL,
		UNIQUE KEY uq_audit_event_id (event_id),
		KEY idx_audit_document (document_id, id),
		CONSTRAINT fk_audit_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables.  It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
