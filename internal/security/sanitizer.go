// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はプロバイダから受け取ったタイトルとスニペットを
// プレーンテキストに正規化し、HTMLタグやスクリプト断片が
// データセットに混入することを防ぐ。
// bluemondayライブラリのStrictPolicyを使用し、全タグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はテキストサニタイズ機能のインターフェースを定義する。
// プロバイダレスポンスの正規化時（境界）に使用される。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去し、
	// エンティティをデコードしたプレーンテキストを返す。
	// 連続する空白は1つに畳み込まれる。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力をプレーンテキストに正規化して返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// タグ除去 → エンティティのデコード → 空白の畳み込み
	stripped := s.policy.Sanitize(raw)
	decoded := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(decoded), " ")
}
