// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, record, federation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeTokenInvalid       = "TOKEN_INVALID"
	ErrCodeDuplicateIdentity  = "DUPLICATE_IDENTITY"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnknownResource    = "UNKNOWN_RESOURCE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrUpstreamUnavailable は拠点またはローカルストアへの呼び出し失敗を表す。
// フェデレーション中は拠点単位で握りつぶされ、呼び出し元には返らない。
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrConflict はローカルストアで一意制約違反が発生したことを表す。
var ErrConflict = errors.New("record conflict")

// NewNotFoundError はレコード未検出エラーを生成する。
func NewNotFoundError(resource string, id any) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %v", resource, id),
		Category: "record",
		Action:   "IDを確認してください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// どの段階で失敗したかは含めない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewTokenInvalidError はトークン不正エラーを生成する。
func NewTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenInvalid,
		Message:  "トークンが無効または期限切れです。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewDuplicateIdentityError はユーザー名重複エラーを生成する。
func NewDuplicateIdentityError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnknownResourceError は未知またはリレー対象外のリソース種別エラーを生成する。
func NewUnknownResourceError(resourceType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownResource,
		Message:  fmt.Sprintf("リレー対象外のリソース種別です: %s", resourceType),
		Category: "federation",
		Action:   "フェデレーション対象のリソース種別を指定してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
