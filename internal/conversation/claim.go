package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
)

// Claim は未割り当ての会話を管理者に割り当てる。
// 割り当ては admin_id IS NULL を条件とする単一の条件付き書き込みで行う。
// 書き込みが0行だった場合は会話を再取得し、存在しなければNotFound、
// 存在すれば実際の担当者を含むAlreadyClaimedを返す。自動リトライはしない。
func (s *Service) Claim(ctx context.Context, admin model.Admin, conversationID string) (*model.Conversation, error) {
	conv, err := claimIn(ctx, s.store, admin, conversationID)
	if err != nil {
		s.recordClaimFailure(err)
		return nil, err
	}

	s.recorder.RecordClaim(ClaimOutcomeWon)
	s.logger.Info("会話の担当を取得しました",
		slog.String("conversation_id", conv.ID),
		slog.String("admin_id", admin.ID),
	)
	return conv, nil
}

// claimIn はstore上で条件付きの担当取得を行う。
// トランザクション内外のどちらからも呼び出せる。
func claimIn(ctx context.Context, store repository.Store, admin model.Admin, conversationID string) (*model.Conversation, error) {
	conv, err := store.Conversations().Claim(ctx, conversationID, admin.ID)
	if err != nil {
		return nil, fmt.Errorf("担当の取得に失敗しました: %w", err)
	}
	if conv != nil {
		return conv, nil
	}

	current, err := store.Conversations().FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("会話の再取得に失敗しました: %w", err)
	}
	if current == nil {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	return nil, model.NewAlreadyClaimedError(current.Owner())
}

// claimedBy はerrが指定管理者を担当者とするAlreadyClaimedかどうかを返す。
func claimedBy(err error, adminID string) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == model.ErrCodeAlreadyClaimed && apiErr.Owner == adminID
}

func (s *Service) recordClaimFailure(err error) {
	switch {
	case model.IsCode(err, model.ErrCodeAlreadyClaimed):
		s.recorder.RecordClaim(ClaimOutcomeLost)
	case model.IsCode(err, model.ErrCodeConversationNotFound):
		s.recorder.RecordClaim(ClaimOutcomeNotFound)
	}
}
