package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/helpdesk/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// usersテーブルは利用者登録の仕組みが管理しており、ここからは読み取りのみ行う。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.UserSnapshot, error) {
	user := &model.UserSnapshot{}
	var matric, program sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, matric, email, program FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Name, &matric, &user.Email, &program)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.Matric = matric.String
	user.Program = program.String
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
