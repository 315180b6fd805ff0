package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/humanfirst-ai/attune/internal/model"
)

// ChannelTargets is the Postgres LISTEN/NOTIFY channel for target changes.
// Prompt composers listen here to invalidate cached resolutions.
const ChannelTargets = "attune_targets"

// Listen starts listening on the specified channel using the dedicated notify connection.
// Returns an error if no notify connection is configured.
func (db *DB) Listen(ctx context.Context, channel string) error {
	if db.notifyConn == nil {
		return fmt.Errorf("storage: notify connection not configured")
	}
	_, err := db.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened channel.
// Returns the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", fmt.Errorf("storage: notify connection not configured")
	}
	notification, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// notifyTargetChange publishes a target-change event after a committed
// write. Best effort: a failed notify is logged, never surfaced, since
// the write itself already succeeded.
func (db *DB) notifyTargetChange(ctx context.Context, parameterID string, scope model.Scope) {
	payload := parameterID + "@" + scope.String()
	if _, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelTargets, payload); err != nil {
		db.logger.Warn("storage: notify target change", "payload", payload, "error", err)
	}
}
