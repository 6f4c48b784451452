package recover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/credman/internal/journal"
	"github.com/hitoshi/credman/internal/model"
)

// --- モック定義 ---

// fakeJournal はjournal.Repositoryのメモリ内フェイク実装。
type fakeJournal struct {
	entries   map[string]*journal.Entry
	order     []string
	failList  bool
	resolved  []string
	abandoned []string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: make(map[string]*journal.Entry)}
}

func (f *fakeJournal) seed(entry *journal.Entry) {
	f.entries[entry.ID] = entry
	f.order = append(f.order, entry.ID)
}

func (f *fakeJournal) Create(ctx context.Context, entry *journal.Entry) error {
	f.seed(entry)
	return nil
}

func (f *fakeJournal) Resolve(ctx context.Context, id string) error {
	entry, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("entry not found: %s", id)
	}
	entry.Status = journal.StatusResolved
	f.resolved = append(f.resolved, id)
	return nil
}

func (f *fakeJournal) MarkFailed(ctx context.Context, id string, lastError string) error {
	entry, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("entry not found: %s", id)
	}
	entry.FailCount++
	entry.LastError = lastError
	return nil
}

func (f *fakeJournal) Abandon(ctx context.Context, id string, lastError string) error {
	entry, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("entry not found: %s", id)
	}
	entry.Status = journal.StatusAbandoned
	entry.LastError = lastError
	f.abandoned = append(f.abandoned, id)
	return nil
}

func (f *fakeJournal) ListOpen(ctx context.Context, limit int) ([]*journal.Entry, error) {
	if f.failList {
		return nil, errors.New("database unavailable")
	}
	var result []*journal.Entry
	for _, id := range f.order {
		if len(result) >= limit {
			break
		}
		if f.entries[id].Status == journal.StatusOpen || f.entries[id].Status == "" {
			result = append(result, f.entries[id])
		}
	}
	return result, nil
}

func (f *fakeJournal) CountByStatus(ctx context.Context, status journal.Status) (int, error) {
	count := 0
	for _, entry := range f.entries {
		if entry.Status == status {
			count++
		}
	}
	return count, nil
}

var _ journal.Repository = (*fakeJournal)(nil)

// mockStore はCredentialCreatorのモック実装。
type mockStore struct {
	createFn func(ctx context.Context, cred model.Credential) (*model.Credential, error)
	created  []model.Credential
}

func (m *mockStore) Create(ctx context.Context, cred model.Credential) (*model.Credential, error) {
	if m.createFn != nil {
		return m.createFn(ctx, cred)
	}
	created := cred
	created.ID = fmt.Sprintf("recreated-%d", len(m.created)+1)
	m.created = append(m.created, created)
	return &created, nil
}

// mockMetrics はMetricsRecorderのモック実装。
type mockMetrics struct {
	openCount int
	recovered int
	abandoned int
}

func (m *mockMetrics) RecordJournalOpenCount(count int) { m.openCount = count }
func (m *mockMetrics) RecordJournalRecovered()          { m.recovered++ }
func (m *mockMetrics) RecordJournalAbandoned()          { m.abandoned++ }

// --- テストヘルパー ---

func newTestRecoverer(journalRepo journal.Repository, store CredentialCreator, metrics MetricsRecorder) *Recoverer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewRecoverer(journalRepo, store, metrics, logger, 3)
}

func openEntry(id string, failCount int) *journal.Entry {
	return &journal.Entry{
		ID:           id,
		Operation:    journal.OperationAssign,
		CredentialID: "cred-old-" + id,
		Payload: model.Credential{
			Provider:        "Netflix",
			Kind:            model.KindProfile,
			SourceUser:      "shared@example.com",
			SourceKey:       "secret",
			ProviderDueDate: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
			LeaseState:      model.LeaseStateLeased,
			ClientID:        "client-1",
		},
		Status:    journal.StatusOpen,
		FailCount: failCount,
		CreatedAt: time.Now(),
	}
}

// --- テスト ---

// TestRecoverer_RunOnce_RecreatesOrphan は孤児レコードがペイロードから
// 再作成され、エントリがresolvedになることを検証する。
func TestRecoverer_RunOnce_RecreatesOrphan(t *testing.T) {
	jr := newFakeJournal()
	jr.seed(openEntry("entry-1", 0))

	store := &mockStore{}
	metrics := &mockMetrics{}
	r := newTestRecoverer(jr, store, metrics)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("created count = %d, want 1", len(store.created))
	}
	// ペイロードのリース状態がそのまま再現される
	if store.created[0].LeaseState != model.LeaseStateLeased {
		t.Errorf("lease state = %q, want %q", store.created[0].LeaseState, model.LeaseStateLeased)
	}
	if store.created[0].ClientID != "client-1" {
		t.Errorf("client ID = %q, want %q", store.created[0].ClientID, "client-1")
	}
	if jr.entries["entry-1"].Status != journal.StatusResolved {
		t.Errorf("entry status = %q, want %q", jr.entries["entry-1"].Status, journal.StatusResolved)
	}
	if metrics.recovered != 1 {
		t.Errorf("recovered metric = %d, want 1", metrics.recovered)
	}
	if metrics.openCount != 1 {
		t.Errorf("open count metric = %d, want 1", metrics.openCount)
	}
}

// TestRecoverer_RunOnce_MarksFailedOnCreateError は再作成失敗時に
// fail_countがインクリメントされ、エントリがopenのまま残ることを検証する。
func TestRecoverer_RunOnce_MarksFailedOnCreateError(t *testing.T) {
	jr := newFakeJournal()
	jr.seed(openEntry("entry-1", 0))

	store := &mockStore{
		createFn: func(ctx context.Context, cred model.Credential) (*model.Credential, error) {
			return nil, model.NewStoreUnavailableError("connection refused")
		},
	}
	r := newTestRecoverer(jr, store, &mockMetrics{})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	entry := jr.entries["entry-1"]
	if entry.Status != journal.StatusOpen {
		t.Errorf("entry status = %q, want %q", entry.Status, journal.StatusOpen)
	}
	if entry.FailCount != 1 {
		t.Errorf("fail count = %d, want 1", entry.FailCount)
	}
	if entry.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

// TestRecoverer_RunOnce_AbandonsAfterMaxAttempts はリトライ上限に達した
// エントリがabandonedに遷移することを検証する。
func TestRecoverer_RunOnce_AbandonsAfterMaxAttempts(t *testing.T) {
	jr := newFakeJournal()
	jr.seed(openEntry("entry-exhausted", 3)) // maxAttempts = 3

	store := &mockStore{}
	metrics := &mockMetrics{}
	r := newTestRecoverer(jr, store, metrics)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	// 再作成は試みない
	if len(store.created) != 0 {
		t.Errorf("created count = %d, want 0", len(store.created))
	}
	if jr.entries["entry-exhausted"].Status != journal.StatusAbandoned {
		t.Errorf("entry status = %q, want %q",
			jr.entries["entry-exhausted"].Status, journal.StatusAbandoned)
	}
	if metrics.abandoned != 1 {
		t.Errorf("abandoned metric = %d, want 1", metrics.abandoned)
	}
}

// TestRecoverer_RunOnce_ContinuesAfterEntryFailure は1エントリの失敗が
// 後続エントリの処理を止めないことを検証する。
func TestRecoverer_RunOnce_ContinuesAfterEntryFailure(t *testing.T) {
	jr := newFakeJournal()
	jr.seed(openEntry("entry-1", 0))
	jr.seed(openEntry("entry-2", 0))

	callCount := 0
	store := &mockStore{
		createFn: func(ctx context.Context, cred model.Credential) (*model.Credential, error) {
			callCount++
			if callCount == 1 {
				return nil, errors.New("transient failure")
			}
			created := cred
			created.ID = "recreated-2"
			return &created, nil
		},
	}
	r := newTestRecoverer(jr, store, &mockMetrics{})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if jr.entries["entry-1"].Status != journal.StatusOpen {
		t.Errorf("entry-1 status = %q, want open", jr.entries["entry-1"].Status)
	}
	if jr.entries["entry-2"].Status != journal.StatusResolved {
		t.Errorf("entry-2 status = %q, want resolved", jr.entries["entry-2"].Status)
	}
}

// TestRecoverer_RunOnce_ListFailureReturnsError はopenエントリの取得失敗が
// エラーとして返ることを検証する。
func TestRecoverer_RunOnce_ListFailureReturnsError(t *testing.T) {
	jr := newFakeJournal()
	jr.failList = true

	r := newTestRecoverer(jr, &mockStore{}, &mockMetrics{})

	if err := r.RunOnce(context.Background()); err == nil {
		t.Error("expected error when listing open entries fails")
	}
}

// TestRecoverer_Start_StopsOnContextCancel はコンテキストキャンセルで
// ワーカーが停止することを検証する。
func TestRecoverer_Start_StopsOnContextCancel(t *testing.T) {
	r := newTestRecoverer(newFakeJournal(), &mockStore{}, &mockMetrics{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx, 1*time.Hour)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recoverer did not stop after context cancellation")
	}
}
