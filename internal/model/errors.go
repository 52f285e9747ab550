package model

import (
	"errors"
	"fmt"
	"time"
)

// PipelineError はパイプライン共通のエラーフォーマットを表す。
// エラー分類コードと原因カテゴリを含み、リトライ可否の判定に使用される。
type PipelineError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: provider, ingest, persistence
}

// Error はerrorインターフェースを実装する。
func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeQuotaExceeded      = "QUOTA_EXCEEDED"
	ErrCodeProviderTransient  = "PROVIDER_TRANSIENT"
	ErrCodeProviderPermanent  = "PROVIDER_PERMANENT"
	ErrCodeMalformedItem      = "MALFORMED_ITEM"
	ErrCodePersistenceFailed  = "PERSISTENCE_FAILED"
)

// NewQuotaExceededError はクォータ超過エラーを生成する。
// 当日の予算が尽きた場合に返され、リセット時刻までリトライ不可。
func NewQuotaExceededError(provider string, resetAt time.Time) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("プロバイダ %s の本日のクォータを使い切りました（リセット: %s）", provider, resetAt.Format(time.RFC3339)),
		Category: "provider",
	}
}

// NewTransientProviderError は一時的なプロバイダエラーを生成する。
// ネットワーク障害・5xx・タイムアウトが対象で、バックオフ付きリトライの対象となる。
func NewTransientProviderError(reason string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeProviderTransient,
		Message:  fmt.Sprintf("プロバイダで一時的なエラーが発生しました: %s", reason),
		Category: "provider",
	}
}

// NewPermanentProviderError は恒久的なプロバイダエラーを生成する。
// 不正なクエリや認証失敗が対象で、リトライせず即座に呼び出し元へ返す。
func NewPermanentProviderError(reason string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeProviderPermanent,
		Message:  fmt.Sprintf("プロバイダで恒久的なエラーが発生しました: %s", reason),
		Category: "provider",
	}
}

// NewMalformedItemError は不正形式アイテムエラーを生成する。
// 必須フィールド欠落や公開日時のパース失敗が対象。境界で破棄され件数のみ記録される。
func NewMalformedItemError(reason string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeMalformedItem,
		Message:  fmt.Sprintf("不正な形式のアイテムです: %s", reason),
		Category: "ingest",
	}
}

// NewPersistenceError は永続化エラーを生成する。
// データセットまたはバックアップの書き込み失敗が対象で、ジョブ実行全体を失敗させる。
func NewPersistenceError(reason string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodePersistenceFailed,
		Message:  fmt.Sprintf("データセットの永続化に失敗しました: %s", reason),
		Category: "persistence",
	}
}

// errorCode はエラーチェーンからPipelineErrorのコードを取り出す。
func errorCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsQuotaExceeded はクォータ超過エラーかどうかを判定する。
func IsQuotaExceeded(err error) bool {
	return errorCode(err) == ErrCodeQuotaExceeded
}

// IsTransient はリトライ可能な一時的エラーかどうかを判定する。
func IsTransient(err error) bool {
	return errorCode(err) == ErrCodeProviderTransient
}

// IsPermanent は恒久的なプロバイダエラーかどうかを判定する。
func IsPermanent(err error) bool {
	return errorCode(err) == ErrCodeProviderPermanent
}

// IsPersistence は永続化エラーかどうかを判定する。
func IsPersistence(err error) bool {
	return errorCode(err) == ErrCodePersistenceFailed
}
