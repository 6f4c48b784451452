package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/credman/internal/model"
)

// PostgresRepo はPostgreSQLを使用した置換ジャーナルリポジトリ。
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo はPostgresRepoを生成する。
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// applyCreateDefaults は未設定のフィールドに既定値を補完する。
// IDはUUIDを採番し、状態はopen、作成時刻は現在時刻とする。
func applyCreateDefaults(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = StatusOpen
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
}

// Create はopen状態のエントリを作成する。
// IDが未設定の場合はUUIDを採番する。
func (r *PostgresRepo) Create(ctx context.Context, entry *Entry) error {
	applyCreateDefaults(entry)

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("ジャーナルペイロードのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO replace_journal (id, operation, credential_id, payload, status, fail_count, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Operation, entry.CredentialID, payload, entry.Status, entry.FailCount, entry.LastError, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ジャーナルエントリの作成に失敗しました: %w", err)
	}
	return nil
}

// Resolve は再作成完了としてエントリをresolvedにする。
func (r *PostgresRepo) Resolve(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE replace_journal
		 SET status = $1, resolved_at = now()
		 WHERE id = $2`,
		StatusResolved, id,
	)
	if err != nil {
		return fmt.Errorf("ジャーナルエントリの解決に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は再作成失敗を記録する。
func (r *PostgresRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE replace_journal
		 SET fail_count = fail_count + 1, last_error = $1
		 WHERE id = $2`,
		lastError, id,
	)
	if err != nil {
		return fmt.Errorf("ジャーナルエントリの失敗記録に失敗しました: %w", err)
	}
	return nil
}

// Abandon はリトライ上限に達したエントリをabandonedにする。
func (r *PostgresRepo) Abandon(ctx context.Context, id string, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE replace_journal
		 SET status = $1, last_error = $2
		 WHERE id = $3`,
		StatusAbandoned, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("ジャーナルエントリの放棄に失敗しました: %w", err)
	}
	return nil
}

// ListOpen はopen状態のエントリを作成順に最大limit件返す。
func (r *PostgresRepo) ListOpen(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, operation, credential_id, payload, status, fail_count, last_error, created_at, resolved_at
		 FROM replace_journal
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		StatusOpen, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未解決ジャーナルエントリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		var payload []byte
		var resolvedAt sql.NullTime
		if err := rows.Scan(
			&entry.ID, &entry.Operation, &entry.CredentialID, &payload,
			&entry.Status, &entry.FailCount, &entry.LastError, &entry.CreatedAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("ジャーナルエントリの読み取りに失敗しました: %w", err)
		}
		var cred model.Credential
		if err := json.Unmarshal(payload, &cred); err != nil {
			return nil, fmt.Errorf("ジャーナルペイロードのデシリアライズに失敗しました: %w", err)
		}
		entry.Payload = cred
		if resolvedAt.Valid {
			t := resolvedAt.Time
			entry.ResolvedAt = &t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ジャーナルエントリの走査に失敗しました: %w", err)
	}

	return entries, nil
}

// CountByStatus は状態別のエントリ数を返す。
func (r *PostgresRepo) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM replace_journal WHERE status = $1`,
		status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ジャーナルエントリの集計に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ Repository = (*PostgresRepo)(nil)
