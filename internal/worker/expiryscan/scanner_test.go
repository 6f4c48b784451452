package expiryscan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/credman/internal/expiry"
	"github.com/hitoshi/credman/internal/model"
)

// --- モック定義 ---

// mockPool はPoolRefresherのモック実装。
type mockPool struct {
	refreshFn   func(ctx context.Context) error
	credentials []model.Credential
}

func (m *mockPool) Refresh(ctx context.Context) error {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil
}

func (m *mockPool) List(state model.LeaseState) []model.Credential {
	if state == "" {
		return m.credentials
	}
	var result []model.Credential
	for _, cred := range m.credentials {
		if cred.LeaseState == state {
			result = append(result, cred)
		}
	}
	return result
}

func (m *mockPool) CountAvailable() int { return len(m.List(model.LeaseStateAvailable)) }
func (m *mockPool) CountLeased() int    { return len(m.List(model.LeaseStateLeased)) }

// mockMetrics はMetricsRecorderのモック実装。記録された値を保持する。
type mockMetrics struct {
	available int
	leased    int
	expiry    map[string][2]int // clock -> [near, overdue]
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{expiry: make(map[string][2]int)}
}

func (m *mockMetrics) RecordPoolCounts(available, leased int) {
	m.available = available
	m.leased = leased
}

func (m *mockMetrics) RecordExpiryCounts(clock string, nearExpiry, overdue int) {
	m.expiry[clock] = [2]int{nearExpiry, overdue}
}

// --- テストヘルパー ---

var fixedNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestScanner(pool *mockPool, metrics *mockMetrics) *Scanner {
	monitor := expiry.NewMonitorAt(func() time.Time { return fixedNow })
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewScanner(pool, monitor, metrics, logger, 5, 5)
}

func available(id string, providerDue time.Time) model.Credential {
	return model.Credential{
		ID:              id,
		Provider:        "Netflix",
		Kind:            model.KindProfile,
		ProviderDueDate: providerDue,
		Active:          true,
		LeaseState:      model.LeaseStateAvailable,
	}
}

func leased(id string, providerDue, clientDue time.Time) model.Credential {
	cred := available(id, providerDue)
	cred.LeaseState = model.LeaseStateLeased
	cred.ClientID = "client-1"
	cred.ClientDueDate = &clientDue
	return cred
}

// --- テスト ---

// TestScanner_RunOnce_RecordsPoolCounts はプールの状態別件数が記録されることを検証する。
func TestScanner_RunOnce_RecordsPoolCounts(t *testing.T) {
	farDue := fixedNow.AddDate(0, 1, 0)
	pool := &mockPool{credentials: []model.Credential{
		available("cred-1", farDue),
		available("cred-2", farDue),
		leased("cred-3", farDue, farDue),
	}}
	metrics := newMockMetrics()
	scanner := newTestScanner(pool, metrics)

	if err := scanner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if metrics.available != 2 {
		t.Errorf("available = %d, want 2", metrics.available)
	}
	if metrics.leased != 1 {
		t.Errorf("leased = %d, want 1", metrics.leased)
	}
}

// TestScanner_RunOnce_ProviderClock は提供元クロックの接近・超過が
// 全レコードを対象に集計されることを検証する。
func TestScanner_RunOnce_ProviderClock(t *testing.T) {
	pool := &mockPool{credentials: []model.Credential{
		available("cred-near", fixedNow.AddDate(0, 0, 3)),
		available("cred-today", fixedNow), // 当日も接近に含まれる
		available("cred-far", fixedNow.AddDate(0, 0, 30)),
		available("cred-overdue", fixedNow.AddDate(0, 0, -1)),
		leased("cred-leased-near", fixedNow.AddDate(0, 0, 2), fixedNow.AddDate(0, 0, 30)),
	}}
	metrics := newMockMetrics()
	scanner := newTestScanner(pool, metrics)

	if err := scanner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := metrics.expiry["provider"]
	if got[0] != 3 {
		t.Errorf("provider near = %d, want 3", got[0])
	}
	// 超過は接近とは別に数える
	if got[1] != 1 {
		t.Errorf("provider overdue = %d, want 1", got[1])
	}
}

// TestScanner_RunOnce_ClientClock は顧客クロックが貸出中レコードの
// 顧客期限のみを対象にすることを検証する。
func TestScanner_RunOnce_ClientClock(t *testing.T) {
	farDue := fixedNow.AddDate(0, 1, 0)
	pool := &mockPool{credentials: []model.Credential{
		// 提供元期限が接近していても顧客クロックには影響しない
		available("cred-avail", fixedNow.AddDate(0, 0, 1)),
		leased("cred-near", farDue, fixedNow.AddDate(0, 0, 4)),
		leased("cred-overdue", farDue, fixedNow.AddDate(0, 0, -3)),
		leased("cred-far", farDue, fixedNow.AddDate(0, 0, 20)),
	}}
	metrics := newMockMetrics()
	scanner := newTestScanner(pool, metrics)

	if err := scanner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := metrics.expiry["client"]
	if got[0] != 1 {
		t.Errorf("client near = %d, want 1", got[0])
	}
	if got[1] != 1 {
		t.Errorf("client overdue = %d, want 1", got[1])
	}
}

// TestScanner_RunOnce_RefreshFailure はスナップショット更新の失敗が
// エラーとして返ることを検証する。
func TestScanner_RunOnce_RefreshFailure(t *testing.T) {
	pool := &mockPool{
		refreshFn: func(ctx context.Context) error {
			return errors.New("store unavailable")
		},
	}
	scanner := newTestScanner(pool, newMockMetrics())

	if err := scanner.RunOnce(context.Background()); err == nil {
		t.Error("expected error when refresh fails")
	}
}

// TestScanner_Start_StopsOnContextCancel はコンテキストキャンセルで
// スキャナが停止することを検証する。
func TestScanner_Start_StopsOnContextCancel(t *testing.T) {
	pool := &mockPool{}
	scanner := newTestScanner(pool, newMockMetrics())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		scanner.Start(ctx, 1*time.Hour)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop after context cancellation")
	}
}
