// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, pool, store, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeCredentialNotFound    = "CREDENTIAL_NOT_FOUND"
	ErrCodeAlreadyLeased         = "ALREADY_LEASED"
	ErrCodeNotLeased             = "NOT_LEASED"
	ErrCodeStoreUnavailable      = "STORE_UNAVAILABLE"
	ErrCodePartialReplaceFailure = "PARTIAL_REPLACE_FAILURE"
	ErrCodeInvalidClock          = "INVALID_CLOCK"
)

// NewValidationError は必須入力の欠落・不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewCredentialNotFoundError はクレデンシャル未検出エラーを生成する。
func NewCredentialNotFoundError(credentialID string) *APIError {
	return &APIError{
		Code:     ErrCodeCredentialNotFound,
		Message:  fmt.Sprintf("指定されたクレデンシャルが見つかりません: %s", credentialID),
		Category: "pool",
		Action:   "プールを更新してから、クレデンシャルIDを確認してください。",
	}
}

// NewAlreadyLeasedError は貸出可能でないクレデンシャルへの割当エラーを生成する。
func NewAlreadyLeasedError(credentialID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLeased,
		Message:  fmt.Sprintf("クレデンシャルは既に貸出中です: %s", credentialID),
		Category: "pool",
		Action:   "プールを更新して最新の状態を確認するか、別のクレデンシャルを割り当ててください。",
	}
}

// NewNotLeasedError は貸出中でないクレデンシャルへの回収エラーを生成する。
func NewNotLeasedError(credentialID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotLeased,
		Message:  fmt.Sprintf("クレデンシャルは貸出中ではありません: %s", credentialID),
		Category: "pool",
		Action:   "回収は貸出中のクレデンシャルに対してのみ実行できます。プールを更新して状態を確認してください。",
	}
}

// NewStoreUnavailableError はストアへの接続・通信失敗エラーを生成する。
func NewStoreUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("クレデンシャルストアに接続できません: %s", reason),
		Category: "store",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPartialReplaceFailureError は置換（削除→再作成）の途中失敗エラーを生成する。
// 削除は成功したが再作成に失敗した状態で、レコードはプールから失われている。
// ジャーナルエントリIDから復旧ワーカーが再作成を試みる。
func NewPartialReplaceFailureError(credentialID, journalEntryID string) *APIError {
	return &APIError{
		Code:     ErrCodePartialReplaceFailure,
		Message:  fmt.Sprintf("クレデンシャルの置換が途中で失敗しました（削除済み・再作成未完了）: %s", credentialID),
		Category: "store",
		Action:   fmt.Sprintf("レコードは置換ジャーナル（エントリID: %s）に記録されており、復旧ワーカーが自動的に再作成を試みます。復旧状況を確認してください。", journalEntryID),
	}
}

// NewInvalidClockError は期限レポートのクロック指定が不正な場合のエラーを生成する。
func NewInvalidClockError(clock string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidClock,
		Message:  fmt.Sprintf("無効なクロック指定です: %s", clock),
		Category: "validation",
		Action:   "clockには provider または client を指定してください。",
	}
}
