package sink

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
)

// BootstrapConfig holds the QuestDB Postgres-wire settings used for schema
// bootstrap.
type BootstrapConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// trades mirrors the ILP line layout: field names become columns and the
// trailing line timestamp becomes the designated timestamp.
const tradesDDL = `CREATE TABLE IF NOT EXISTS trades (
	symbol SYMBOL,
	price DOUBLE,
	qty DOUBLE,
	trade_id LONG,
	is_bm BOOLEAN,
	msg_id STRING,
	ts_ms LONG,
	timestamp TIMESTAMP
) TIMESTAMP(timestamp) PARTITION BY DAY`

// EnsureSchema creates the trades table over QuestDB's Postgres wire
// interface if it does not exist. The first ILP write would auto-create the
// table anyway; running the DDL up front pins column types instead of
// leaving them to inference. The connection is short-lived.
func EnsureSchema(ctx context.Context, cfg BootstrapConfig) error {
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("connect questdb pgwire: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, tradesDDL); err != nil {
		return fmt.Errorf("create trades table: %w", err)
	}
	return nil
}
