package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/helpdesk/internal/model"
)

// MemoryStore はプロセス内メモリを使用したStore実装。
// ローカル開発（STORE=memory）とテストで使用する。
// 1つのミューテックスで全操作を直列化し、トランザクション中はロックを保持し続ける。
// トランザクションが失敗した場合は記録した取り消し操作を逆順に適用する。
type MemoryStore struct {
	mu    *sync.Mutex
	state *memoryState
	undo  *[]func() // トランザクション内でのみ非nil
}

type memoryState struct {
	conversations map[string]*model.Conversation
	messages      map[string][]*model.Message // conversation_id -> 挿入順のメッセージ
	users         map[string]*model.UserSnapshot
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		state: &memoryState{
			conversations: make(map[string]*model.Conversation),
			messages:      make(map[string][]*model.Message),
			users:         make(map[string]*model.UserSnapshot),
		},
	}
}

// do はロックを取得してfnを実行する。トランザクション内では既にロック済みのため直接実行する。
func (s *MemoryStore) do(ctx context.Context, fn func(st *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.undo != nil {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// record はトランザクション内であれば取り消し操作を記録する。
func (s *MemoryStore) record(undo func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, undo)
	}
}

// Conversations は会話リポジトリを返す。
func (s *MemoryStore) Conversations() ConversationRepository {
	return &memoryConversationRepo{s: s}
}

// Messages はメッセージリポジトリを返す。
func (s *MemoryStore) Messages() MessageRepository {
	return &memoryMessageRepo{s: s}
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.undo != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var undo []func()
	committed := false
	// panicした場合もロック解放前に取り消す
	defer func() {
		if committed {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	tx := &MemoryStore{mu: s.mu, state: s.state, undo: &undo}
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// PutUser はユーザーディレクトリにユーザーを登録する。
func (s *MemoryStore) PutUser(user model.UserSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[user.ID] = &user
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*model.UserSnapshot, error) {
	var found *model.UserSnapshot
	err := s.do(ctx, func(st *memoryState) error {
		if u, ok := st.users[id]; ok {
			cp := *u
			found = &cp
		}
		return nil
	})
	return found, err
}

func copyConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	if c.AdminID != nil {
		id := *c.AdminID
		cp.AdminID = &id
	}
	return &cp
}

func copyMessage(m *model.Message) *model.Message {
	cp := *m
	return &cp
}

// memoryConversationRepo はMemoryStore上の会話リポジトリ。
type memoryConversationRepo struct {
	s *MemoryStore
}

func (r *memoryConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var found *model.Conversation
	err := r.s.do(ctx, func(st *memoryState) error {
		if c, ok := st.conversations[id]; ok {
			found = copyConversation(c)
		}
		return nil
	})
	return found, err
}

func (r *memoryConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	return r.s.do(ctx, func(st *memoryState) error {
		if _, exists := st.conversations[conv.ID]; exists {
			return fmt.Errorf("会話の作成に失敗しました: duplicate id %s", conv.ID)
		}
		st.conversations[conv.ID] = copyConversation(conv)
		r.s.record(func() { delete(st.conversations, conv.ID) })
		return nil
	})
}

func (r *memoryConversationRepo) Claim(ctx context.Context, id, adminID string) (*model.Conversation, error) {
	var claimed *model.Conversation
	err := r.s.do(ctx, func(st *memoryState) error {
		c, ok := st.conversations[id]
		if !ok || c.AdminID != nil {
			return nil
		}
		prevStatus := c.Status
		owner := adminID
		c.AdminID = &owner
		c.Status = model.ConversationStatusActive
		r.s.record(func() {
			c.AdminID = nil
			c.Status = prevStatus
		})
		claimed = copyConversation(c)
		return nil
	})
	return claimed, err
}

func (r *memoryConversationRepo) ReserveAdminSlot(ctx context.Context, id, adminID string, now time.Time) (*AppendSlot, error) {
	return r.reserve(ctx, id, now, func(c *model.Conversation) bool {
		return c.IsOwnedBy(adminID)
	})
}

func (r *memoryConversationRepo) ReserveUserSlot(ctx context.Context, id, userID string, now time.Time) (*AppendSlot, error) {
	return r.reserve(ctx, id, now, func(c *model.Conversation) bool {
		return c.UserID == userID
	})
}

func (r *memoryConversationRepo) reserve(ctx context.Context, id string, now time.Time, guard func(*model.Conversation) bool) (*AppendSlot, error) {
	var slot *AppendSlot
	err := r.s.do(ctx, func(st *memoryState) error {
		c, ok := st.conversations[id]
		if !ok || !guard(c) {
			return nil
		}
		prevAt, prevSeq := c.LastMessageAt, c.MessageSeq
		if now.After(c.LastMessageAt) {
			c.LastMessageAt = now
		}
		c.MessageSeq++
		r.s.record(func() {
			c.LastMessageAt = prevAt
			c.MessageSeq = prevSeq
		})
		slot = &AppendSlot{Seq: c.MessageSeq, At: c.LastMessageAt}
		return nil
	})
	return slot, err
}

func (r *memoryConversationRepo) ListSummaries(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	var rows []SummaryRow
	err := r.s.do(ctx, func(st *memoryState) error {
		for _, c := range st.conversations {
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			if filter.AdminID != "" && !c.IsOwnedBy(filter.AdminID) {
				continue
			}
			if filter.UserID != "" && c.UserID != filter.UserID {
				continue
			}

			row := SummaryRow{Conversation: *copyConversation(c)}
			var last *model.Message
			for _, m := range st.messages[c.ID] {
				if m.SenderType == model.SenderTypeUser && !m.IsRead {
					row.UnreadCount++
				}
				if last == nil || messageBefore(last, m) {
					last = m
				}
			}
			if last != nil {
				row.LastMessagePreview = truncatePreview(last.Body)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return rows, nil
}

func (r *memoryConversationRepo) PendingQueueStats(ctx context.Context) (int, *time.Time, error) {
	var count int
	var oldest *time.Time
	err := r.s.do(ctx, func(st *memoryState) error {
		for _, c := range st.conversations {
			if c.Status != model.ConversationStatusPending {
				continue
			}
			count++
			if oldest == nil || c.CreatedAt.Before(*oldest) {
				created := c.CreatedAt
				oldest = &created
			}
		}
		return nil
	})
	return count, oldest, err
}

// messageBefore はaがbより前に並ぶかどうかを返す（created_at, seq の昇順）。
func messageBefore(a, b *model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// memoryMessageRepo はMemoryStore上のメッセージリポジトリ。
type memoryMessageRepo struct {
	s *MemoryStore
}

func (r *memoryMessageRepo) Insert(ctx context.Context, msg *model.Message) error {
	return r.s.do(ctx, func(st *memoryState) error {
		if _, ok := st.conversations[msg.ConversationID]; !ok {
			return fmt.Errorf("メッセージの作成に失敗しました: conversation %s does not exist", msg.ConversationID)
		}
		for _, m := range st.messages[msg.ConversationID] {
			if m.Seq == msg.Seq {
				return fmt.Errorf("メッセージの作成に失敗しました: duplicate seq %d", msg.Seq)
			}
			if msg.IdempotencyKey != "" && m.SenderID == msg.SenderID && m.IdempotencyKey == msg.IdempotencyKey {
				return fmt.Errorf("メッセージの作成に失敗しました: duplicate idempotency key")
			}
		}
		convID := msg.ConversationID
		prev := st.messages[convID]
		st.messages[convID] = append(prev[:len(prev):len(prev)], copyMessage(msg))
		r.s.record(func() {
			if len(prev) == 0 {
				delete(st.messages, convID)
				return
			}
			st.messages[convID] = prev
		})
		return nil
	})
}

func (r *memoryMessageRepo) FindByIdempotencyKey(ctx context.Context, conversationID, senderID, key string) (*model.Message, error) {
	var found *model.Message
	err := r.s.do(ctx, func(st *memoryState) error {
		for _, m := range st.messages[conversationID] {
			if m.SenderID == senderID && m.IdempotencyKey != "" && m.IdempotencyKey == key {
				found = copyMessage(m)
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memoryMessageRepo) MarkUserMessagesRead(ctx context.Context, conversationID, adminID string) (int64, error) {
	var marked int64
	err := r.s.do(ctx, func(st *memoryState) error {
		c, ok := st.conversations[conversationID]
		if !ok || !c.IsOwnedBy(adminID) {
			return nil
		}
		for _, m := range st.messages[conversationID] {
			if m.SenderType != model.SenderTypeUser || m.IsRead {
				continue
			}
			target := m
			target.IsRead = true
			r.s.record(func() { target.IsRead = false })
			marked++
		}
		return nil
	})
	return marked, err
}

func (r *memoryMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var msgs []*model.Message
	err := r.s.do(ctx, func(st *memoryState) error {
		for _, m := range st.messages[conversationID] {
			msgs = append(msgs, copyMessage(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool { return messageBefore(msgs[i], msgs[j]) })
	return msgs, nil
}

func (r *memoryMessageRepo) CountUnreadUserMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.s.do(ctx, func(st *memoryState) error {
		for _, m := range st.messages[conversationID] {
			if m.SenderType == model.SenderTypeUser && !m.IsRead {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *memoryMessageRepo) ClearIdempotencyKeysBefore(ctx context.Context, before time.Time) (int64, error) {
	var cleared int64
	err := r.s.do(ctx, func(st *memoryState) error {
		for _, msgs := range st.messages {
			for _, m := range msgs {
				if m.IdempotencyKey == "" || !m.CreatedAt.Before(before) {
					continue
				}
				target, key := m, m.IdempotencyKey
				target.IdempotencyKey = ""
				r.s.record(func() { target.IdempotencyKey = key })
				cleared++
			}
		}
		return nil
	})
	return cleared, err
}

// compile-time interface check
var (
	_ Store                  = (*MemoryStore)(nil)
	_ UserRepository         = (*MemoryStore)(nil)
	_ ConversationRepository = (*memoryConversationRepo)(nil)
	_ MessageRepository      = (*memoryMessageRepo)(nil)
)
