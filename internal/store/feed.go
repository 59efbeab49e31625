package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/models"
)

type messageRow struct {
	ID           int64  `db:"id"`
	SenderID     int64  `db:"sender_id"`
	RecipientID  int64  `db:"recipient_id"`
	Subject      string `db:"subject"`
	Content      string `db:"content"`
	TalkableType string `db:"talkable_type"`
	TalkableID   int64  `db:"talkable_id"`
	ExchangeID   int64  `db:"exchange_id"`
	CreatedAt    int64  `db:"created_at"`
}

func (q *Queries) CreateMessage(ctx context.Context, m *domain.Message) error {
	m.CreatedAt = q.stamp(m.CreatedAt)
	id, err := q.insert(ctx, `
		INSERT INTO messages (sender_id, recipient_id, subject, content, talkable_type, talkable_id, exchange_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SenderID, m.RecipientID, m.Subject, m.Content, string(m.Talkable.Kind), m.Talkable.ID, m.ExchangeID, micros(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("message insert failed: %w", err)
	}
	m.ID = id
	return nil
}

// ListMessages returns a person's inbox, newest first.
func (q *Queries) ListMessages(ctx context.Context, recipientID int64) ([]domain.Message, error) {
	var rows []messageRow
	err := q.selectAll(ctx, &rows, `
		SELECT id, sender_id, recipient_id, subject, content, talkable_type, talkable_id, exchange_id, created_at
		FROM messages WHERE recipient_id = ? ORDER BY id DESC`, recipientID)
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, len(rows))
	for i, r := range rows {
		msgs[i] = domain.Message{
			ID:          r.ID,
			SenderID:    r.SenderID,
			RecipientID: r.RecipientID,
			Subject:     r.Subject,
			Content:     r.Content,
			Talkable:    domain.Metadata{Kind: domain.MetadataKind(r.TalkableType), ID: r.TalkableID},
			ExchangeID:  r.ExchangeID,
			CreatedAt:   fromMicros(r.CreatedAt),
		}
	}
	return msgs, nil
}

type activityRow struct {
	ID        int64  `db:"id"`
	ItemType  string `db:"item_type"`
	ItemID    int64  `db:"item_id"`
	PersonID  int64  `db:"person_id"`
	GroupID   int64  `db:"group_id"`
	CreatedAt int64  `db:"created_at"`
}

func (q *Queries) CreateActivity(ctx context.Context, a *domain.Activity) error {
	a.CreatedAt = q.stamp(a.CreatedAt)
	id, err := q.insert(ctx,
		"INSERT INTO activities (item_type, item_id, person_id, group_id, created_at) VALUES (?, ?, ?, ?, ?)",
		a.ItemType, a.ItemID, a.PersonID, a.GroupID, micros(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("activity insert failed: %w", err)
	}
	a.ID = id
	return nil
}

// ListActivities returns the group's feed, newest first.
func (q *Queries) ListActivities(ctx context.Context, groupID int64) ([]domain.Activity, error) {
	var rows []activityRow
	err := q.selectAll(ctx, &rows,
		"SELECT id, item_type, item_id, person_id, group_id, created_at FROM activities WHERE group_id = ? ORDER BY id DESC",
		groupID)
	if err != nil {
		return nil, err
	}
	feed := make([]domain.Activity, len(rows))
	for i, r := range rows {
		feed[i] = domain.Activity{
			ID:        r.ID,
			ItemType:  r.ItemType,
			ItemID:    r.ItemID,
			PersonID:  r.PersonID,
			GroupID:   r.GroupID,
			CreatedAt: fromMicros(r.CreatedAt),
		}
	}
	return feed, nil
}

// Idempotency key states.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

type idempotencyRow struct {
	Key            string         `db:"key"`
	RequestHash    string         `db:"request_hash"`
	Status         string         `db:"status"`
	ExchangeID     sql.NullInt64  `db:"exchange_id"`
	ResponseStatus sql.NullInt64  `db:"response_status"`
	ResponseBody   sql.NullString `db:"response_body"`
}

func (q *Queries) GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var row idempotencyRow
	err := q.get(ctx, &row, `
		SELECT key, request_hash, status, exchange_id, response_status, response_body
		FROM idempotency_keys WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	rec := &models.IdempotencyRecord{
		Key:            row.Key,
		RequestHash:    row.RequestHash,
		Status:         row.Status,
		ExchangeID:     row.ExchangeID.Int64,
		ResponseStatus: int(row.ResponseStatus.Int64),
	}
	if row.ResponseBody.Valid {
		rec.ResponseBody = json.RawMessage(row.ResponseBody.String)
	}
	return rec, nil
}

// ReserveIdempotencyKey claims key for one request. A concurrent claim of the
// same key surfaces as ErrConflict.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, key, requestHash string) error {
	_, err := q.exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES (?, ?, ?)",
		key, requestHash, IdempotencyInProgress,
	)
	if err != nil {
		return fmt.Errorf("key reservation failed: %w", err)
	}
	return nil
}

// CompleteIdempotencyKey stores the response replayed for later retries.
func (q *Queries) CompleteIdempotencyKey(ctx context.Context, key string, exchangeID int64, status int, body []byte) error {
	n, err := q.exec(ctx, `
		UPDATE idempotency_keys
		SET status = ?, exchange_id = ?, response_status = ?, response_body = ?
		WHERE key = ?`,
		IdempotencyCompleted, exchangeID, status, string(body), key,
	)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
