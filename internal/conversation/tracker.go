package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
)

// FetchMessages は管理者として会話のメッセージを古い順に返す。
// 未割り当て、または自分が担当中の会話のみ閲覧できる。
// 担当者が呼び出した場合は、同じトランザクション内で未読の利用者メッセージを既読にする。
// 未割り当ての会話を待ち行列から閲覧しただけでは既読にしない。
func (s *Service) FetchMessages(ctx context.Context, admin model.Admin, conversationID string) ([]*model.Message, error) {
	var (
		msgs   []*model.Message
		marked int64
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		conv, err := tx.Conversations().FindByID(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("会話の取得に失敗しました: %w", err)
		}
		if conv == nil {
			return model.NewConversationNotFoundError(conversationID)
		}
		if !conv.CanBeAccessedBy(admin.ID) {
			return model.NewAccessDeniedError()
		}

		if conv.IsOwnedBy(admin.ID) {
			marked, err = tx.Messages().MarkUserMessagesRead(ctx, conversationID, admin.ID)
			if err != nil {
				return err
			}
		}

		msgs, err = tx.Messages().ListByConversation(ctx, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if marked > 0 {
		s.recorder.RecordMessagesMarkedRead(marked)
		s.logger.Debug("利用者メッセージを既読にしました",
			slog.String("conversation_id", conversationID),
			slog.String("admin_id", admin.ID),
			slog.Int64("count", marked),
		)
	}
	return msgs, nil
}

// UnreadCount は会話内の未読の利用者メッセージ数を返す。
// 値は保持せず、呼び出しのたびにメッセージから数え直す。
func (s *Service) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	count, err := s.store.Messages().CountUnreadUserMessages(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	return count, nil
}
