// Package recover は置換ジャーナルの復旧ジョブを提供する。
// 削除済み・再作成未完了（open）のエントリを定期的に取得し、
// 保存されたペイロードからレコードの再作成を試みる。
// リトライ上限に達したエントリはabandonedに遷移させ、手動対応に委ねる。
package recover

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/credman/internal/journal"
	"github.com/hitoshi/credman/internal/model"
)

// listLimit は1サイクルで処理するopenエントリの最大件数。
const listLimit = 100

// CredentialCreator は再作成に必要なストア操作インターフェース。
type CredentialCreator interface {
	// Create はレコードをストアに作成する。IDはストアが採番する。
	Create(ctx context.Context, cred model.Credential) (*model.Credential, error)
}

// MetricsRecorder は復旧結果の記録インターフェース。
type MetricsRecorder interface {
	RecordJournalOpenCount(count int)
	RecordJournalRecovered()
	RecordJournalAbandoned()
}

// Recoverer は置換ジャーナルの復旧ジョブ。
type Recoverer struct {
	journalRepo journal.Repository
	store       CredentialCreator
	metrics     MetricsRecorder
	logger      *slog.Logger
	maxAttempts int
}

// NewRecoverer はRecovererの新しいインスタンスを生成する。
// maxAttemptsが0以下の場合はデフォルト値10を使用する。
func NewRecoverer(
	journalRepo journal.Repository,
	store CredentialCreator,
	metrics MetricsRecorder,
	logger *slog.Logger,
	maxAttempts int,
) *Recoverer {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Recoverer{
		journalRepo: journalRepo,
		store:       store,
		metrics:     metrics,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Start は指定間隔のティッカーで復旧ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Recoverer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("ジャーナル復旧ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_attempts", r.maxAttempts),
	)

	// 起動直後に1回実行
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("復旧サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ジャーナル復旧ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("復旧サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はopenエントリを1回取得し、順に再作成を試みる。
// 個々のエントリの失敗はサイクル全体を止めない。
func (r *Recoverer) RunOnce(ctx context.Context) error {
	start := time.Now()

	entries, err := r.journalRepo.ListOpen(ctx, listLimit)
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordJournalOpenCount(len(entries))
	}

	if len(entries) == 0 {
		return nil
	}

	r.logger.Info("復旧サイクルを開始します",
		slog.Int("open_count", len(entries)),
	)

	recovered := 0
	abandoned := 0
	for _, entry := range entries {
		switch r.recoverEntry(ctx, entry) {
		case recoverResultRecovered:
			recovered++
		case recoverResultAbandoned:
			abandoned++
		}
	}

	duration := time.Since(start)
	r.logger.Info("復旧サイクルが完了しました",
		slog.Int("open_count", len(entries)),
		slog.Int("recovered", recovered),
		slog.Int("abandoned", abandoned),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// recoverResult は1エントリの復旧試行の結果。
type recoverResult int

const (
	recoverResultRecovered recoverResult = iota
	recoverResultAbandoned
	recoverResultRetryLater
)

// recoverEntry は1エントリの再作成を試みる。
// リトライ上限に達したエントリはabandonedに遷移させる。
func (r *Recoverer) recoverEntry(ctx context.Context, entry *journal.Entry) recoverResult {
	if entry.FailCount >= r.maxAttempts {
		if err := r.journalRepo.Abandon(ctx, entry.ID, entry.LastError); err != nil {
			r.logger.Error("エントリのabandoned遷移に失敗しました",
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
			return recoverResultRetryLater
		}
		if r.metrics != nil {
			r.metrics.RecordJournalAbandoned()
		}
		r.logger.Error("リトライ上限に達したため復旧を打ち切ります（手動対応が必要）",
			slog.String("entry_id", entry.ID),
			slog.String("operation", string(entry.Operation)),
			slog.String("credential_id", entry.CredentialID),
			slog.String("provider", entry.Payload.Provider),
			slog.String("source_user", entry.Payload.SourceUser),
			slog.Int("fail_count", entry.FailCount),
			slog.String("last_error", entry.LastError),
		)
		return recoverResultAbandoned
	}

	created, err := r.store.Create(ctx, entry.Payload)
	if err != nil {
		if markErr := r.journalRepo.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			r.logger.Error("ジャーナルへの失敗記録に失敗しました",
				slog.String("entry_id", entry.ID),
				slog.String("error", markErr.Error()),
			)
		}
		r.logger.Warn("エントリの再作成に失敗しました",
			slog.String("entry_id", entry.ID),
			slog.Int("fail_count", entry.FailCount+1),
			slog.String("error", err.Error()),
		)
		return recoverResultRetryLater
	}

	if err := r.journalRepo.Resolve(ctx, entry.ID); err != nil {
		// 再作成は完了している。次サイクルで同じペイロードを再作成すると
		// 重複レコードになるため、クローズ失敗は大きくログに残す。
		r.logger.Error("再作成完了後のジャーナルクローズに失敗しました（重複再作成のおそれ）",
			slog.String("entry_id", entry.ID),
			slog.String("new_id", created.ID),
			slog.String("error", err.Error()),
		)
		return recoverResultRetryLater
	}

	if r.metrics != nil {
		r.metrics.RecordJournalRecovered()
	}
	r.logger.Info("孤児レコードを再作成しました",
		slog.String("entry_id", entry.ID),
		slog.String("operation", string(entry.Operation)),
		slog.String("old_id", entry.CredentialID),
		slog.String("new_id", created.ID),
	)
	return recoverResultRecovered
}
