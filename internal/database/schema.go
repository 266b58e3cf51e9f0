package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the tables the service needs, in dependency order. Every
// statement is idempotent so EnsureSchema can run on each start-up.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email         VARCHAR(255)    NOT NULL,
		name          VARCHAR(255)    NOT NULL DEFAULT '',
		password_hash VARCHAR(255)    NOT NULL,
		role          VARCHAR(16)     NOT NULL DEFAULT 'CUSTOMER',
		created_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS shows (
		id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		title          VARCHAR(255)    NOT NULL,
		starts_at      DATETIME        NOT NULL,
		price_cents    INT UNSIGNED    NOT NULL,
		occupied_seats JSON            NOT NULL,
		version        BIGINT UNSIGNED NOT NULL DEFAULT 0,
		created_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_shows_starts_at (starts_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id                  CHAR(36)        NOT NULL PRIMARY KEY,
		user_id             VARCHAR(64)     NOT NULL,
		show_id             BIGINT UNSIGNED NOT NULL,
		seats               JSON            NOT NULL,
		amount_cents        BIGINT UNSIGNED NOT NULL,
		currency            CHAR(3)         NOT NULL,
		status              VARCHAR(16)     NOT NULL DEFAULT 'PENDING',
		checkout_session_id VARCHAR(255)    NULL,
		checkout_url        TEXT            NULL,
		return_origin       VARCHAR(255)    NOT NULL DEFAULT '',
		paid_at             DATETIME        NULL,
		created_at          DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_bookings_user (user_id),
		KEY idx_bookings_show (show_id),
		KEY idx_bookings_status_created (status, created_at),
		CONSTRAINT fk_bookings_show FOREIGN KEY (show_id) REFERENCES shows (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates any missing tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
