package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/putto11262002/chatsync/core"
)

// SQLiteMessageCache persists confirmed messages in a local SQLite file.
type SQLiteMessageCache struct {
	db *sql.DB
}

func NewSQLiteMessageCache(db *sql.DB) *SQLiteMessageCache {
	return &SQLiteMessageCache{db: db}
}

func (c *SQLiteMessageCache) SaveMessage(ctx context.Context, m core.Message) error {
	query := `INSERT INTO message_cache (id, room_id, sender, sender_name, body, sent_at)
		VALUES (@id, @room_id, @sender, @sender_name, @body, @sent_at) ON CONFLICT DO NOTHING`
	_, err := c.db.ExecContext(ctx, query,
		sql.Named("id", m.ID), sql.Named("room_id", m.RoomID),
		sql.Named("sender", m.Sender), sql.Named("sender_name", m.SenderName),
		sql.Named("body", m.Body), sql.Named("sent_at", m.SentAt))
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	return nil
}

func (c *SQLiteMessageCache) RoomMessages(ctx context.Context, roomID string) ([]core.Message, error) {
	query := `SELECT id, room_id, sender, sender_name, body, sent_at
		FROM message_cache WHERE room_id = @room_id ORDER BY sent_at ASC`
	rows, err := c.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		var m core.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.SenderName, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		m.State = core.Confirmed
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
