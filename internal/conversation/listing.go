package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
)

// ListInbox は管理者が担当中の会話を、最新メッセージ日時の降順で返す。
func (s *Service) ListInbox(ctx context.Context, admin model.Admin) ([]model.ConversationSummary, error) {
	return s.listSummaries(ctx, repository.SummaryFilter{
		Status:  model.ConversationStatusActive,
		AdminID: admin.ID,
	})
}

// ListPendingQueue は担当者未割り当ての会話を返す。すべての管理者が閲覧できる。
func (s *Service) ListPendingQueue(ctx context.Context) ([]model.ConversationSummary, error) {
	return s.listSummaries(ctx, repository.SummaryFilter{
		Status: model.ConversationStatusPending,
	})
}

// ListMyConversations は利用者が開始した会話を返す。
func (s *Service) ListMyConversations(ctx context.Context, user model.User) ([]model.ConversationSummary, error) {
	return s.listSummaries(ctx, repository.SummaryFilter{
		UserID: user.ID,
	})
}

func (s *Service) listSummaries(ctx context.Context, filter repository.SummaryFilter) ([]model.ConversationSummary, error) {
	rows, err := s.store.Conversations().ListSummaries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}

	// 同一利用者の問い合わせは1回の一覧取得内で使い回す
	snapshots := make(map[string]model.UserSnapshot)
	results := make([]model.ConversationSummary, len(rows))
	for i, row := range rows {
		snapshot, ok := snapshots[row.UserID]
		if !ok {
			snapshot = s.lookupUser(ctx, row.UserID)
			snapshots[row.UserID] = snapshot
		}

		results[i] = model.ConversationSummary{
			ID:                 row.ID,
			User:               snapshot,
			AdminID:            row.AdminID,
			Status:             row.Status,
			LastMessagePreview: row.LastMessagePreview,
			LastMessageAt:      row.LastMessageAt,
			CreatedAt:          row.CreatedAt,
			UnreadCount:        row.UnreadCount,
		}
	}
	return results, nil
}

// lookupUser は表示用の利用者情報を取得する。
// ディレクトリから取得できない場合でも一覧表示は継続し、IDのみのスナップショットを返す。
func (s *Service) lookupUser(ctx context.Context, userID string) model.UserSnapshot {
	if s.directory == nil {
		return model.UserSnapshot{ID: userID}
	}
	snapshot, err := s.directory.LookupUser(ctx, userID)
	if err != nil {
		s.logger.Warn("利用者情報の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return model.UserSnapshot{ID: userID}
	}
	return snapshot
}
