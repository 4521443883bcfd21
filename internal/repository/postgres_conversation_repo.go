package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/helpdesk/internal/model"
)

// conversationColumns はconversationsテーブルのSELECT/RETURNING対象カラム。
const conversationColumns = `id, user_id, admin_id, status, created_at, last_message_at, message_seq`

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	q queryer
}

// scanConversation は1行分の会話をスキャンする。
func scanConversation(row interface{ Scan(dest ...interface{}) error }) (*model.Conversation, error) {
	conv := &model.Conversation{}
	var adminID sql.NullString
	var status string
	if err := row.Scan(
		&conv.ID, &conv.UserID, &adminID, &status,
		&conv.CreatedAt, &conv.LastMessageAt, &conv.MessageSeq,
	); err != nil {
		return nil, err
	}
	conv.Status = model.ConversationStatus(status)
	if adminID.Valid {
		conv.AdminID = &adminID.String
	}
	return conv, nil
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := scanConversation(r.q.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会話の取得に失敗しました: %w", err)
	}
	return conv, nil
}

// Create は会話を作成する。
func (r *PostgresConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, admin_id, status, created_at, last_message_at, message_seq)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		conv.ID, conv.UserID, conv.AdminID, string(conv.Status),
		conv.CreatedAt, conv.LastMessageAt, conv.MessageSeq,
	)
	if err != nil {
		return fmt.Errorf("会話の作成に失敗しました: %w", err)
	}
	return nil
}

// Claim は admin_id IS NULL を条件とする単一のUPDATEで担当者を設定する。
// 同時に複数の管理者が実行した場合、行ロックを先に取得したUPDATEのみが成功し、
// 後続のUPDATEは再評価で条件不成立となり0行更新になる。
func (r *PostgresConversationRepo) Claim(ctx context.Context, id, adminID string) (*model.Conversation, error) {
	conv, err := scanConversation(r.q.QueryRowContext(ctx,
		`UPDATE conversations SET admin_id = $2, status = 'active'
		 WHERE id = $1 AND admin_id IS NULL
		 RETURNING `+conversationColumns,
		id, adminID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("担当者の設定に失敗しました: %w", err)
	}
	return conv, nil
}

// ReserveAdminSlot は担当管理者を条件にメッセージ連番を採番する。
func (r *PostgresConversationRepo) ReserveAdminSlot(ctx context.Context, id, adminID string, now time.Time) (*AppendSlot, error) {
	return r.reserveSlot(ctx,
		`UPDATE conversations
		 SET last_message_at = GREATEST(last_message_at, $3), message_seq = message_seq + 1
		 WHERE id = $1 AND admin_id = $2
		 RETURNING message_seq, last_message_at`,
		id, adminID, now,
	)
}

// ReserveUserSlot は所有利用者を条件にメッセージ連番を採番する。
func (r *PostgresConversationRepo) ReserveUserSlot(ctx context.Context, id, userID string, now time.Time) (*AppendSlot, error) {
	return r.reserveSlot(ctx,
		`UPDATE conversations
		 SET last_message_at = GREATEST(last_message_at, $3), message_seq = message_seq + 1
		 WHERE id = $1 AND user_id = $2
		 RETURNING message_seq, last_message_at`,
		id, userID, now,
	)
}

func (r *PostgresConversationRepo) reserveSlot(ctx context.Context, query string, id, ownerID string, now time.Time) (*AppendSlot, error) {
	slot := &AppendSlot{}
	err := r.q.QueryRowContext(ctx, query, id, ownerID, now).Scan(&slot.Seq, &slot.At)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メッセージ連番の採番に失敗しました: %w", err)
	}
	return slot, nil
}

// ListSummaries はフィルタ条件に一致する会話を要約付きで返す。
// 未読数は利用者メッセージの is_read = false 行をその場で数える。
func (r *PostgresConversationRepo) ListSummaries(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT c.id, c.user_id, c.admin_id, c.status, c.created_at, c.last_message_at, c.message_seq,
		        COALESCE(lm.body, ''),
		        (SELECT COUNT(*) FROM messages u
		         WHERE u.conversation_id = c.id AND u.sender_type = 'user' AND NOT u.is_read)
		 FROM conversations c
		 LEFT JOIN LATERAL (
		     SELECT m.body FROM messages m
		     WHERE m.conversation_id = c.id
		     ORDER BY m.created_at DESC, m.seq DESC
		     LIMIT 1
		 ) lm ON true
		 WHERE ($1::text = '' OR c.status = $1)
		   AND ($2::text = '' OR c.admin_id = $2)
		   AND ($3::text = '' OR c.user_id = $3)
		 ORDER BY c.last_message_at DESC, c.created_at DESC, c.id ASC`,
		string(filter.Status), filter.AdminID, filter.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []SummaryRow
	for rows.Next() {
		var row SummaryRow
		var adminID sql.NullString
		var status string
		if err := rows.Scan(
			&row.ID, &row.UserID, &adminID, &status,
			&row.CreatedAt, &row.LastMessageAt, &row.MessageSeq,
			&row.LastMessagePreview, &row.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("会話行の読み取りに失敗しました: %w", err)
		}
		row.Status = model.ConversationStatus(status)
		if adminID.Valid {
			id := adminID.String
			row.AdminID = &id
		}
		row.LastMessagePreview = truncatePreview(row.LastMessagePreview)
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("会話一覧の走査に失敗しました: %w", err)
	}
	return results, nil
}

// PendingQueueStats は未割り当て会話の件数と最古の作成日時を返す。
func (r *PostgresConversationRepo) PendingQueueStats(ctx context.Context) (int, *time.Time, error) {
	var count int
	var oldest sql.NullTime
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM conversations WHERE status = 'pending'`,
	).Scan(&count, &oldest)
	if err != nil {
		return 0, nil, fmt.Errorf("待ち行列統計の取得に失敗しました: %w", err)
	}
	if !oldest.Valid {
		return count, nil, nil
	}
	return count, &oldest.Time, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
