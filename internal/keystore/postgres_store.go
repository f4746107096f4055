package keystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL, for deployments that
// centralize wallet files instead of scattering them across devices'
// local disks.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to databaseURL and ensures the wallet_files
// table exists.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if !strings.Contains(databaseURL, "sslmode=") {
		if strings.Contains(databaseURL, "?") {
			databaseURL += "&sslmode=disable"
		} else {
			databaseURL += "?sslmode=disable"
		}
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS frost_wallet_files (
			device_id  VARCHAR(128) NOT NULL,
			curve_type VARCHAR(32)  NOT NULL,
			name       VARCHAR(256) NOT NULL,
			file_json  JSONB        NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (device_id, curve_type, name)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("creating wallet_files table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (ps *PostgresStore) Save(deviceID, curve, name string, wf *WalletFile) error {
	raw, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("serializing wallet file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO frost_wallet_files (device_id, curve_type, name, file_json, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (device_id, curve_type, name) DO UPDATE SET
			file_json = EXCLUDED.file_json,
			updated_at = NOW()
	`, deviceID, curve, name, raw)
	if err != nil {
		return fmt.Errorf("saving wallet file: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Load(deviceID, curve, name string) (*WalletFile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var raw []byte
	err := ps.db.QueryRowContext(ctx,
		"SELECT file_json FROM frost_wallet_files WHERE device_id = $1 AND curve_type = $2 AND name = $3",
		deviceID, curve, name,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, newError(ErrWalletMissing, "wallet %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying wallet file: %w", err)
	}

	var wf WalletFile
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parsing wallet file: %w", err)
	}
	return &wf, nil
}

func (ps *PostgresStore) Delete(deviceID, curve, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := ps.db.ExecContext(ctx,
		"DELETE FROM frost_wallet_files WHERE device_id = $1 AND curve_type = $2 AND name = $3",
		deviceID, curve, name,
	)
	if err != nil {
		return fmt.Errorf("deleting wallet file: %w", err)
	}
	return nil
}

func (ps *PostgresStore) List(deviceID, curve string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows *sql.Rows
	var err error
	if curve == "" {
		rows, err = ps.db.QueryContext(ctx,
			"SELECT name FROM frost_wallet_files WHERE device_id = $1", deviceID)
	} else {
		rows, err = ps.db.QueryContext(ctx,
			"SELECT name FROM frost_wallet_files WHERE device_id = $1 AND curve_type = $2", deviceID, curve)
	}
	if err != nil {
		return nil, fmt.Errorf("listing wallet files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning wallet name: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}

// Close closes the underlying database connection.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
