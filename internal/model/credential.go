// Package model はドメインモデルを定義する。
package model

import "time"

// Credential はリース可能なクレデンシャル1件を表す。
// 共有アカウント（1つのログイン）から派生した複数レコードは
// SourceUser / SourceKey / ProviderDueDate を共有する。
type Credential struct {
	ID              string
	Category        string // 分類タグ（video / music / iptv 等）。表示用のみ。
	Provider        string // 上流サービス名（例: Netflix）
	Kind            Kind
	Label           string // プロフィール型の場合は「Profile #2」のような序数付きラベル
	SourceUser      string // 上流アカウントのログインID
	SourceKey       string // 上流アカウントのログインキー
	ProviderDueDate time.Time // 上流サブスクリプションの更新期限（提供元クロック）
	Cost            float64
	Price           float64
	Active          bool
	LeaseState      LeaseState
	ClientID        string     // LeaseState = leased の場合のみ設定される（顧客識別子）
	ClientDueDate   *time.Time // LeaseState = leased の場合のみ設定される（顧客クロック）
	CreatedAt       time.Time
}

// Kind はクレデンシャルの種別を表す。
// 一括登録時に1レコードになるかNレコードになるかを決定する。
type Kind string

const (
	// KindWholeAccount はアカウント丸ごと1件で貸し出す種別。
	KindWholeAccount Kind = "whole_account"
	// KindProfile は共有アカウントのプロフィール枠単位で貸し出す種別。
	KindProfile Kind = "profile"
	// KindCode は引き換えコード単位で貸し出す種別。
	KindCode Kind = "code"
)

// LeaseState はクレデンシャルのリース状態を表す。
type LeaseState string

const (
	// LeaseStateAvailable は貸出可能な状態。
	LeaseStateAvailable LeaseState = "available"
	// LeaseStateLeased は顧客に貸出中の状態。
	LeaseStateLeased LeaseState = "leased"
)

// IsLeased はクレデンシャルが貸出中かどうかを返す。
func (c *Credential) IsLeased() bool {
	return c.LeaseState == LeaseStateLeased
}
