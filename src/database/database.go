package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/lotfolio/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}

	if err := EnsureSchema(DB); err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	migrateStockLots(DB)

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// EnsureSchema creates the ledger tables if they do not exist. Exposed so
// tests can run against their own in-memory databases.
func EnsureSchema(db *sql.DB) error {
	createTableStatement := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alias TEXT NOT NULL,
		year INTEGER NOT NULL,
		opening_cash TEXT NOT NULL DEFAULT '0',
		opening_interest TEXT NOT NULL DEFAULT '0',
		opening_equity TEXT NOT NULL DEFAULT '0',
		opening_net_deposit TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(alias, year)
	);

	CREATE TABLE IF NOT EXISTS stock_lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Open',
		open_date TEXT NOT NULL,
		open_price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		code TEXT NOT NULL UNIQUE,
		note TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(account_id) REFERENCES accounts(id)
	);

	CREATE TABLE IF NOT EXISTS option_lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		operation TEXT NOT NULL DEFAULT 'Open',
		open_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		settlement_date TEXT NOT NULL DEFAULT '',
		days_held INTEGER NOT NULL DEFAULT 0,
		quantity INTEGER NOT NULL,
		underlying TEXT NOT NULL,
		kind TEXT NOT NULL,
		strike REAL NOT NULL,
		premium REAL NOT NULL,
		final_profit REAL NOT NULL DEFAULT 0,
		profit_pct REAL NOT NULL DEFAULT 0,
		code TEXT NOT NULL UNIQUE,
		FOREIGN KEY(account_id) REFERENCES accounts(id)
	);

	CREATE TABLE IF NOT EXISTS nav_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		cash TEXT NOT NULL DEFAULT '0',
		accrued_interest TEXT NOT NULL DEFAULT '0',
		net_equity TEXT NOT NULL DEFAULT '0',
		management_fee TEXT NOT NULL DEFAULT '0',
		net_deposit TEXT NOT NULL DEFAULT '0',
		FOREIGN KEY(account_id) REFERENCES accounts(id),
		UNIQUE(account_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_lots_account_symbol ON stock_lots(account_id, symbol, status);
	CREATE INDEX IF NOT EXISTS idx_option_lots_account_contract ON option_lots(account_id, underlying, strike, expiry_date, kind, operation);
	`
	_, err := db.Exec(createTableStatement)
	return err
}

// migrateStockLots backfills the note column on databases created before
// provenance tags existed.
func migrateStockLots(db *sql.DB) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='stock_lots'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'stock_lots' table", "error", err)
		}
		return
	}

	rows, err := db.Query("PRAGMA table_info(stock_lots)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'stock_lots'", "error", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'stock_lots'", "error", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'stock_lots'", "error", err)
		}
		return
	}

	if _, ok := columnExists["note"]; !ok {
		if _, err := db.Exec("ALTER TABLE stock_lots ADD COLUMN note TEXT NOT NULL DEFAULT ''"); err != nil {
			logger.L.Error("Error adding 'note' column to 'stock_lots' table", "error", err)
		} else {
			logger.L.Info("Added 'note' column to 'stock_lots' table")
		}
	}
}
