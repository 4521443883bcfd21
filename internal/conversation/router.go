package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
)

// AppendMessage は管理者として会話にメッセージを送信する。
//
//   - 本文がサニタイズ後に空の場合は、ストアに触れずにEmptyBodyを返す。
//   - 自分が担当中の会話には追記のみを行う。
//   - 未割り当ての会話では同じトランザクション内で暗黙の担当取得を行う。
//     他の管理者が先に担当を取得していた場合はAlreadyClaimedを返し、メッセージは保存しない。
//   - 他の管理者が担当中の会話ではAccessDeniedを返し、状態は変更しない。
//
// idempotencyKeyが指定され、同じ送信者・同じキーのメッセージが既に存在する場合は
// 新たに保存せず既存のメッセージを返す。
func (s *Service) AppendMessage(ctx context.Context, admin model.Admin, conversationID, body, idempotencyKey string) (*model.Message, error) {
	clean := s.sanitizer.Sanitize(body)
	if clean == "" {
		return nil, model.NewEmptyBodyError()
	}

	var (
		msg           *model.Message
		implicitClaim bool
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		conv, err := tx.Conversations().FindByID(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("会話の取得に失敗しました: %w", err)
		}
		if conv == nil {
			return model.NewConversationNotFoundError(conversationID)
		}

		if conv.AdminID == nil {
			_, claimErr := claimIn(ctx, tx, admin, conversationID)
			switch {
			case claimErr == nil:
				implicitClaim = true
			case claimedBy(claimErr, admin.ID):
				// 読み取り後に自分の並行送信が担当を取得した
			default:
				return claimErr
			}
		} else if !conv.IsOwnedBy(admin.ID) {
			return model.NewAccessDeniedError()
		}

		slot, err := tx.Conversations().ReserveAdminSlot(ctx, conversationID, admin.ID, s.timestamp())
		if err != nil {
			return fmt.Errorf("メッセージ順序の確保に失敗しました: %w", err)
		}
		if slot == nil {
			return model.NewAccessDeniedError()
		}

		msg, err = s.insertMessage(ctx, tx, outgoing{
			conversationID: conversationID,
			senderID:       admin.ID,
			senderType:     model.SenderTypeAdmin,
			body:           clean,
			idempotencyKey: idempotencyKey,
		}, slot)
		return err
	})
	if replayed, ok := asReplay(err); ok {
		s.logger.Info("冪等キーに一致する既存メッセージを返します",
			slog.String("conversation_id", conversationID),
			slog.String("message_id", replayed.ID),
		)
		return replayed, nil
	}
	if err != nil {
		if model.IsCode(err, model.ErrCodeAlreadyClaimed) {
			s.recorder.RecordClaim(ClaimOutcomeLost)
		}
		return nil, err
	}

	if implicitClaim {
		s.recorder.RecordClaim(ClaimOutcomeWon)
	}
	s.recorder.RecordMessageAppended(model.SenderTypeAdmin, implicitClaim)
	s.logger.Info("管理者メッセージを送信しました",
		slog.String("conversation_id", conversationID),
		slog.String("admin_id", admin.ID),
		slog.String("message_id", msg.ID),
		slog.Bool("implicit_claim", implicitClaim),
	)
	return msg, nil
}

// outgoing は保存前の送信メッセージ。
type outgoing struct {
	conversationID string
	senderID       string
	senderType     model.SenderType
	body           string
	idempotencyKey string
}

// insertMessage は確保済みの順序情報でメッセージを保存する。
// 冪等キーに一致する既存メッセージがある場合はreplayErrorを返してトランザクションを取り消す。
// 順序確保によって会話行がロックされた後に照合するため、同じキーの並行送信も直列化される。
func (s *Service) insertMessage(ctx context.Context, tx repository.Store, out outgoing, slot *repository.AppendSlot) (*model.Message, error) {
	if out.idempotencyKey != "" {
		existing, err := tx.Messages().FindByIdempotencyKey(ctx, out.conversationID, out.senderID, out.idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("冪等キーの照合に失敗しました: %w", err)
		}
		if existing != nil {
			return nil, &replayError{msg: existing}
		}
	}

	msg := &model.Message{
		ID:             s.newID(),
		ConversationID: out.conversationID,
		Seq:            slot.Seq,
		SenderID:       out.senderID,
		SenderType:     out.senderType,
		Body:           out.body,
		IsRead:         false,
		CreatedAt:      slot.At,
		IdempotencyKey: out.idempotencyKey,
	}
	if err := tx.Messages().Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの保存に失敗しました: %w", err)
	}
	return msg, nil
}
