package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"ingestrunner/internal/config"
)

// New connects to the audit database
func New(ctx context.Context, conf *config.IRConfig) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "pgx", conf.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s:%d/%s: %w", conf.Database.Host, conf.Database.Port, conf.Database.Name, err)
	}
	db.SetMaxOpenConns(2)
	return db, nil
}
