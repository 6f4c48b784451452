// Package expiry は期限日の判定ロジックを提供する。
// 提供元クロック（上流サブスクリプションの更新期限）と
// 顧客クロック（リース先顧客の更新期限）の2つの独立した期限を、
// 同じ判定関数と呼び出し側ごとの閾値で評価する。I/Oは行わない。
package expiry

import "time"

// Monitor は期限日の判定を行う。
// nowFuncを差し替えることでテスト時に現在時刻を固定できる。
type Monitor struct {
	nowFunc func() time.Time
}

// NewMonitor はMonitorの新しいインスタンスを生成する。
func NewMonitor() *Monitor {
	return &Monitor{nowFunc: time.Now}
}

// NewMonitorAt は現在時刻を固定したMonitorを生成する。テスト用。
func NewMonitorAt(now func() time.Time) *Monitor {
	return &Monitor{nowFunc: now}
}

// IsNearExpiry は期限日が「期限間近」かどうかを日単位で判定する。
// 今日から期限日までの残日数dが 0 <= d <= thresholdDays のとき真を返す。
// 過去の期限日は「期限切れ」であって「期限間近」ではないため偽を返す
// （期限切れの検出にはIsOverdueを使う）。
func (m *Monitor) IsNearExpiry(date time.Time, thresholdDays int) bool {
	d := m.DaysUntil(date)
	return d >= 0 && d <= thresholdDays
}

// IsOverdue は期限日が既に過ぎているかどうかを日単位で判定する。
func (m *Monitor) IsOverdue(date time.Time) bool {
	return m.DaysUntil(date) < 0
}

// DaysUntil は今日から期限日までの残日数を返す。期限日が過去の場合は負値。
// 時刻部分は無視し、カレンダー上の日付のみで比較する。
func (m *Monitor) DaysUntil(date time.Time) int {
	today := truncateToDay(m.nowFunc())
	target := truncateToDay(date)
	return int(target.Sub(today).Hours() / 24)
}

// truncateToDay は時刻部分を落とし、UTCの0時に正規化した日付を返す。
// タイムゾーンの異なる日付同士でも日単位の差が正確に求まる。
func truncateToDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
