// Package model はドメインモデルを定義する。
package model

// UserSnapshot はユーザーディレクトリから取得した相談者の表示用スナップショット。
// このサービスでは作成・更新しない読み取り専用データ。
type UserSnapshot struct {
	ID      string
	Name    string
	Matric  string // 学籍番号
	Email   string
	Program string
}

// Role は認証済み呼び出し元の種別を表す。
type Role string

const (
	// RoleAdmin はサポート担当者（管理者）。
	RoleAdmin Role = "admin"
	// RoleUser は相談を開始する利用者。
	RoleUser Role = "user"
)

// Identity はIDプロバイダーが解決した呼び出し元の識別情報。
type Identity struct {
	ID   string
	Name string
	Role Role
}

// Admin は操作を行う管理者を表す。
// 各コア操作には明示的な引数として渡し、グローバルなセッション状態には依存しない。
type Admin struct {
	ID   string
	Name string
}

// User は相談を行う利用者の識別子を表す。
type User struct {
	ID   string
	Name string
}

// AsAdmin はIdentityをAdminに変換する。
func (i Identity) AsAdmin() Admin {
	return Admin{ID: i.ID, Name: i.Name}
}

// AsUser はIdentityをUserに変換する。
func (i Identity) AsUser() User {
	return User{ID: i.ID, Name: i.Name}
}
