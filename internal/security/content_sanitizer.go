// Package security はアプリケーションのセキュリティ機能を提供する。
//
// BodySanitizer はメッセージ本文からHTMLマークアップを除去し、
// 管理画面・利用者画面でのXSSを防ぐ。
// bluemondayのStrictPolicyを使用し、すべてのタグを通過させない。
// 本文はプレーンテキストとして保存するため、除去後にエンティティを元の文字へ戻す。
// 表示時のエスケープは描画側の責務とする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// BodySanitizer はメッセージ本文のサニタイズ機能のインターフェースを定義する。
type BodySanitizer interface {
	// Sanitize は本文からすべてのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// script, styleタグは中身ごと除去される。
	// & < > " ' などタグでない文字はそのまま残す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(body string) string
}

// bodySanitizer はBodySanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使用できる。
type bodySanitizer struct {
	policy *bluemonday.Policy
}

// NewBodySanitizer はBodySanitizerの新しいインスタンスを生成する。
func NewBodySanitizer() BodySanitizer {
	return &bodySanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は本文をサニタイズする。
func (s *bodySanitizer) Sanitize(body string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(body)))
}
