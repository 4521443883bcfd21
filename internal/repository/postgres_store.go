package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// queryer は *sql.DB と *sql.Tx の共通部分を抽象化するインターフェース。
// リポジトリはトランザクションの内外を意識せずにクエリを発行できる。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore はPostgreSQLを使用したStore実装。
type PostgresStore struct {
	db *sql.DB
	q  queryer
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// Conversations は会話リポジトリを返す。
func (s *PostgresStore) Conversations() ConversationRepository {
	return &PostgresConversationRepo{q: s.q}
}

// Messages はメッセージリポジトリを返す。
func (s *PostgresStore) Messages() MessageRepository {
	return &PostgresMessageRepo{q: s.q}
}

// WithinTx はfnを1つのトランザクション内で実行する。
// 既にトランザクション内で呼ばれた場合は同じトランザクションを使い続ける。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
