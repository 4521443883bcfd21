package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/helpdesk/internal/model"
)

// messageColumns はmessagesテーブルのSELECT対象カラム。
const messageColumns = `id, conversation_id, seq, sender_id, sender_type, body, is_read, created_at, idempotency_key`

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	q queryer
}

func scanMessage(row interface{ Scan(dest ...interface{}) error }) (*model.Message, error) {
	msg := &model.Message{}
	var senderType string
	var key sql.NullString
	if err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.Seq,
		&msg.SenderID, &senderType, &msg.Body,
		&msg.IsRead, &msg.CreatedAt, &key,
	); err != nil {
		return nil, err
	}
	msg.SenderType = model.SenderType(senderType)
	msg.IdempotencyKey = key.String
	return msg, nil
}

// Insert はメッセージを追加する。
func (r *PostgresMessageRepo) Insert(ctx context.Context, msg *model.Message) error {
	var key sql.NullString
	if msg.IdempotencyKey != "" {
		key = sql.NullString{String: msg.IdempotencyKey, Valid: true}
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, sender_id, sender_type, body, is_read, created_at, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ConversationID, msg.Seq,
		msg.SenderID, string(msg.SenderType), msg.Body,
		msg.IsRead, msg.CreatedAt, key,
	)
	if err != nil {
		return fmt.Errorf("メッセージの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByIdempotencyKey は送信者と冪等キーで既存メッセージを検索する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByIdempotencyKey(ctx context.Context, conversationID, senderID, key string) (*model.Message, error) {
	msg, err := scanMessage(r.q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND sender_id = $2 AND idempotency_key = $3`,
		conversationID, senderID, key,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("冪等キーによるメッセージ検索に失敗しました: %w", err)
	}
	return msg, nil
}

// MarkUserMessagesRead は担当管理者が adminID である場合に限り、未読の利用者メッセージを既読にする。
// 担当者の条件をUPDATE自体に含めるため、確認と更新の間に担当が変わる余地がない。
func (r *PostgresMessageRepo) MarkUserMessagesRead(ctx context.Context, conversationID, adminID string) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE messages m SET is_read = true
		 FROM conversations c
		 WHERE m.conversation_id = c.id
		   AND c.id = $1 AND c.admin_id = $2
		   AND m.sender_type = 'user' AND NOT m.is_read`,
		conversationID, adminID,
	)
	if err != nil {
		return 0, fmt.Errorf("既読化に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// ListByConversation は会話のメッセージを古い順で返す。
func (r *PostgresMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC, seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("メッセージ行の読み取りに失敗しました: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メッセージ一覧の走査に失敗しました: %w", err)
	}
	return msgs, nil
}

// CountUnreadUserMessages は会話内の未読の利用者メッセージ数を返す。
func (r *PostgresMessageRepo) CountUnreadUserMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = $1 AND sender_type = 'user' AND NOT is_read`,
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ClearIdempotencyKeysBefore は指定日時より前に作成されたメッセージの冪等キーを消去する。
func (r *PostgresMessageRepo) ClearIdempotencyKeysBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE messages SET idempotency_key = NULL
		 WHERE idempotency_key IS NOT NULL AND created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("冪等キーの消去に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
