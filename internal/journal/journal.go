// Package journal は置換ジャーナル（補償アクションログ）を提供する。
// ストアに更新APIが存在しないため、割当・回収は「削除→再作成」で表現されるが、
// このペアはアトミックではない。削除成功後に再作成が失敗するとレコードが
// プールから失われるため、削除の前に再作成用のペイロードをジャーナルに記録し、
// 孤児化したレコードを検出・復旧できるようにする。
package journal

import (
	"context"
	"time"

	"github.com/hitoshi/credman/internal/model"
)

// Operation はジャーナルエントリが属する置換操作の種別を表す。
type Operation string

const (
	// OperationAssign は割当（AVAILABLE→LEASED）の置換。
	OperationAssign Operation = "assign"
	// OperationRecycle は回収（LEASED→AVAILABLE）の置換。
	OperationRecycle Operation = "recycle"
)

// Status はジャーナルエントリの状態を表す。
type Status string

const (
	// StatusOpen は削除済み・再作成未完了の状態。復旧ワーカーの処理対象。
	StatusOpen Status = "open"
	// StatusResolved は再作成が完了した状態。
	StatusResolved Status = "resolved"
	// StatusAbandoned はリトライ上限に達し、手動対応待ちの状態。
	StatusAbandoned Status = "abandoned"
)

// Entry は置換ジャーナルの1エントリを表す。
// Payloadには削除したレコードから引き継ぐべき全フィールド
// （新しいリース状態を反映済みの再作成用レコード）を保持する。
type Entry struct {
	ID           string
	Operation    Operation
	CredentialID string // 削除した（旧IDの）レコード
	Payload      model.Credential
	Status       Status
	FailCount    int
	LastError    string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Repository は置換ジャーナルの永続化インターフェース。
type Repository interface {
	// Create はopen状態のエントリを作成する。削除実行前に呼ぶこと。
	Create(ctx context.Context, entry *Entry) error

	// Resolve は再作成完了としてエントリをresolvedにする。
	Resolve(ctx context.Context, id string) error

	// MarkFailed は再作成失敗を記録する。fail_countをインクリメントし、
	// 最終エラーを保存する。エントリはopenのまま残る。
	MarkFailed(ctx context.Context, id string, lastError string) error

	// Abandon はリトライ上限に達したエントリをabandonedにする。
	Abandon(ctx context.Context, id string, lastError string) error

	// ListOpen はopen状態のエントリを作成順に最大limit件返す。
	ListOpen(ctx context.Context, limit int) ([]*Entry, error)

	// CountByStatus は状態別のエントリ数を返す。
	CountByStatus(ctx context.Context, status Status) (int, error)
}
