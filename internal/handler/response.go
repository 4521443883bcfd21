package handler

import (
	"time"

	"github.com/hitoshi/helpdesk/internal/model"
)

// conversationResponse は会話のAPIレスポンス。
type conversationResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AdminID       *string   `json:"admin_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// messageResponse はメッセージのAPIレスポンス。
type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	SenderType     string    `json:"sender_type"`
	Body           string    `json:"body"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// userResponse は相談者スナップショットのAPIレスポンス。
type userResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Matric  string `json:"matric,omitempty"`
	Email   string `json:"email,omitempty"`
	Program string `json:"program,omitempty"`
}

// summaryResponse は受信箱・待ち行列の1行。
type summaryResponse struct {
	ID                 string       `json:"id"`
	User               userResponse `json:"user"`
	AdminID            *string      `json:"admin_id"`
	Status             string       `json:"status"`
	LastMessagePreview string       `json:"last_message_preview"`
	LastMessageAt      time.Time    `json:"last_message_at"`
	CreatedAt          time.Time    `json:"created_at"`
	UnreadCount        int          `json:"unread_count"`
}

// startConversationResponse は会話開始のAPIレスポンス。
type startConversationResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Message      messageResponse      `json:"message"`
}

func toConversationResponse(c *model.Conversation) conversationResponse {
	return conversationResponse{
		ID:            c.ID,
		UserID:        c.UserID,
		AdminID:       c.AdminID,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
	}
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		SenderType:     string(m.SenderType),
		Body:           m.Body,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}

func toMessageResponses(msgs []*model.Message) []messageResponse {
	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	return resp
}

func toSummaryResponses(summaries []model.ConversationSummary) []summaryResponse {
	resp := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, summaryResponse{
			ID: s.ID,
			User: userResponse{
				ID:      s.User.ID,
				Name:    s.User.Name,
				Matric:  s.User.Matric,
				Email:   s.User.Email,
				Program: s.User.Program,
			},
			AdminID:            s.AdminID,
			Status:             string(s.Status),
			LastMessagePreview: s.LastMessagePreview,
			LastMessageAt:      s.LastMessageAt,
			CreatedAt:          s.CreatedAt,
			UnreadCount:        s.UnreadCount,
		})
	}
	return resp
}
