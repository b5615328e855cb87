// Package directory answers whether channels and servers still exist. The
// tables are owned by the domain CRUD service; this service only reads them
// so the retention sweeper can discard queues for deleted scopes.
package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory looks up scope existence in the domain database.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a directory backed by the given pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// ChannelExists reports whether the channel is present in the domain database.
func (d *PostgresDirectory) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM channels WHERE id = $1)", channelID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check channel %s: %w", channelID, err)
	}
	return exists, nil
}

// ServerExists reports whether the server is present in the domain database.
func (d *PostgresDirectory) ServerExists(ctx context.Context, serverID string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM servers WHERE id = $1)", serverID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check server %s: %w", serverID, err)
	}
	return exists, nil
}

// StaticDirectory treats every scope as alive. Used when no database is
// configured; emptied queues are then kept until events arrive again.
type StaticDirectory struct{}

// ChannelExists always reports true.
func (StaticDirectory) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	return true, nil
}

// ServerExists always reports true.
func (StaticDirectory) ServerExists(ctx context.Context, serverID string) (bool, error) {
	return true, nil
}
