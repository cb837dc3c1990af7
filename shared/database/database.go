// Package database opens the PostgreSQL primary and replica pools and joins
// them behind a dbresolver so writes hit the primary and reads the replica.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	_ "github.com/lib/pq"
)

type Connection struct {
	// Primary is the raw write pool, needed by migrations.
	Primary *sql.DB
	DB      dbresolver.DB

	replica *sql.DB
}

// Open connects to primaryURL and, if set, replicaURL. Without a replica the
// primary serves reads as well.
func Open(ctx context.Context, primaryURL, replicaURL string) (*Connection, error) {
	primary, err := connect(ctx, primaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database: %w", err)
	}

	replica := primary
	if replicaURL != "" && replicaURL != primaryURL {
		replica, err = connect(ctx, replicaURL)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("failed to connect to replica database: %w", err)
		}
	}

	db := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	return &Connection{Primary: primary, DB: db, replica: replica}, nil
}

// Check pings the primary within a short deadline.
func (c *Connection) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.Primary.PingContext(ctx)
}

// Close closes every underlying pool once.
func (c *Connection) Close() error {
	err := c.Primary.Close()
	if c.replica != c.Primary {
		if rerr := c.replica.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

func connect(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
