package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrConversationNotFound = errors.New("conversation not found")

type StoreRepository struct {
	pool *pgxpool.Pool
}

func NewStoreRepository(pool *pgxpool.Pool) *StoreRepository {
	return &StoreRepository{pool: pool}
}

// FindConversationParticipants returns the participant user ids and the
// group flag for a conversation, or ErrConversationNotFound.
func (r *StoreRepository) FindConversationParticipants(ctx context.Context, conversationID string) ([]string, bool, error) {
	var isGroup bool
	err := r.pool.QueryRow(ctx, `SELECT is_group FROM conversations WHERE conversation_id=$1`, conversationID).Scan(&isGroup)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrConversationNotFound
		}
		return nil, false, err
	}

	rows, err := r.pool.Query(ctx, `SELECT user_id FROM conversation_participants WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	participants := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, false, err
		}
		participants = append(participants, userID)
	}
	return participants, isGroup, rows.Err()
}

func (r *StoreRepository) SetUserPresence(ctx context.Context, userID string, online bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE users SET is_online=$1, updated_at=NOW() WHERE user_id=$2`, online, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

func (r *StoreRepository) SetUserLastSeen(ctx context.Context, userID string, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE users SET last_seen_at=$1, updated_at=NOW() WHERE user_id=$2`, at.UTC(), userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}
