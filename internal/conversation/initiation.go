package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
)

// StartConversation は利用者の最初のメッセージと共に、未割り当ての会話を作成する。
// 会話と最初のメッセージは同一トランザクションで作成され、片方だけが残ることはない。
func (s *Service) StartConversation(ctx context.Context, user model.User, body string) (*model.Conversation, *model.Message, error) {
	clean := s.sanitizer.Sanitize(body)
	if clean == "" {
		return nil, nil, model.NewEmptyBodyError()
	}

	now := s.timestamp()
	conv := &model.Conversation{
		ID:            s.newID(),
		UserID:        user.ID,
		Status:        model.ConversationStatusPending,
		CreatedAt:     now,
		LastMessageAt: now,
		MessageSeq:    1,
	}
	msg := &model.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		Seq:            1,
		SenderID:       user.ID,
		SenderType:     model.SenderTypeUser,
		Body:           clean,
		CreatedAt:      now,
	}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return fmt.Errorf("会話の作成に失敗しました: %w", err)
		}
		if err := tx.Messages().Insert(ctx, msg); err != nil {
			return fmt.Errorf("最初のメッセージの保存に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.recorder.RecordMessageAppended(model.SenderTypeUser, false)
	s.logger.Info("会話を開始しました",
		slog.String("conversation_id", conv.ID),
		slog.String("user_id", user.ID),
	)
	return conv, msg, nil
}

// ReplyAsUser は利用者として自分の会話にメッセージを送信する。
// 担当状態は変更しない。他者の会話や存在しない会話はどちらもNotFoundとし、存在を開示しない。
func (s *Service) ReplyAsUser(ctx context.Context, user model.User, conversationID, body, idempotencyKey string) (*model.Message, error) {
	clean := s.sanitizer.Sanitize(body)
	if clean == "" {
		return nil, model.NewEmptyBodyError()
	}

	var msg *model.Message
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		slot, err := tx.Conversations().ReserveUserSlot(ctx, conversationID, user.ID, s.timestamp())
		if err != nil {
			return fmt.Errorf("メッセージ順序の確保に失敗しました: %w", err)
		}
		if slot == nil {
			return model.NewConversationNotFoundError(conversationID)
		}

		msg, err = s.insertMessage(ctx, tx, outgoing{
			conversationID: conversationID,
			senderID:       user.ID,
			senderType:     model.SenderTypeUser,
			body:           clean,
			idempotencyKey: idempotencyKey,
		}, slot)
		return err
	})
	if replayed, ok := asReplay(err); ok {
		return replayed, nil
	}
	if err != nil {
		return nil, err
	}

	s.recorder.RecordMessageAppended(model.SenderTypeUser, false)
	s.logger.Info("利用者メッセージを送信しました",
		slog.String("conversation_id", conversationID),
		slog.String("user_id", user.ID),
		slog.String("message_id", msg.ID),
	)
	return msg, nil
}

// FetchMessagesAsUser は利用者として自分の会話のメッセージを古い順に返す。
// 既読フラグは利用者メッセージにのみ存在するため、利用者側の閲覧では変更しない。
func (s *Service) FetchMessagesAsUser(ctx context.Context, user model.User, conversationID string) ([]*model.Message, error) {
	conv, err := s.store.Conversations().FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("会話の取得に失敗しました: %w", err)
	}
	if conv == nil || conv.UserID != user.ID {
		return nil, model.NewConversationNotFoundError(conversationID)
	}

	msgs, err := s.store.Messages().ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	return msgs, nil
}
