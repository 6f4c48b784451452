package journal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/credman/internal/model"
)

// PostgresRepoはRepositoryインターフェースを満たすことを検証
func TestPostgresRepo_ImplementsInterface(t *testing.T) {
	var _ Repository = (*PostgresRepo)(nil)
}

// NewPostgresRepoが正しく初期化されることを検証
func TestNewPostgresRepo_Initializes(t *testing.T) {
	repo := NewPostgresRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// 未設定フィールドに既定値が補完されることを検証
func TestApplyCreateDefaults_FillsEmptyFields(t *testing.T) {
	entry := &Entry{
		Operation:    OperationAssign,
		CredentialID: "cred-1",
	}

	applyCreateDefaults(entry)

	if entry.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if _, err := uuid.Parse(entry.ID); err != nil {
		t.Errorf("ID = %q is not a valid UUID: %v", entry.ID, err)
	}
	if entry.Status != StatusOpen {
		t.Errorf("status = %q, want %q", entry.Status, StatusOpen)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

// 設定済みフィールドは上書きされないことを検証
func TestApplyCreateDefaults_PreservesSetFields(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	entry := &Entry{
		ID:           "entry-fixed",
		Operation:    OperationRecycle,
		CredentialID: "cred-2",
		Status:       StatusAbandoned,
		CreatedAt:    createdAt,
	}

	applyCreateDefaults(entry)

	if entry.ID != "entry-fixed" {
		t.Errorf("ID = %q, want %q", entry.ID, "entry-fixed")
	}
	if entry.Status != StatusAbandoned {
		t.Errorf("status = %q, want %q", entry.Status, StatusAbandoned)
	}
	if !entry.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, createdAt)
	}
}

// Entryモデルのフィールドが正しく構築されることを検証
func TestEntry_Fields(t *testing.T) {
	now := time.Now()
	entry := &Entry{
		ID:           "entry-1",
		Operation:    OperationAssign,
		CredentialID: "cred-old",
		Payload: model.Credential{
			ID:         "cred-old",
			Provider:   "Netflix",
			Kind:       model.KindProfile,
			LeaseState: model.LeaseStateLeased,
			ClientID:   "client-1",
		},
		Status:    StatusOpen,
		FailCount: 0,
		CreatedAt: now,
	}

	if entry.Operation != OperationAssign {
		t.Errorf("operation = %q, want %q", entry.Operation, OperationAssign)
	}
	if entry.Payload.LeaseState != model.LeaseStateLeased {
		t.Errorf("payload lease state = %q, want %q", entry.Payload.LeaseState, model.LeaseStateLeased)
	}
	if entry.ResolvedAt != nil {
		t.Error("resolved_at should be nil for an open entry")
	}
}
