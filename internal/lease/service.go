// Package lease はクレデンシャルの割当・回収・削除を提供する。
//
// ストアには更新APIが存在しないため、割当と回収は
// 「現在のレコードを読む → 旧IDを削除 → 新しい状態のレコードを再作成」
// という置換シーケンスで実現される。再作成後のレコードは新しいIDを持ち、
// 呼び出し側は旧IDを破棄しなければならない。
//
// このペアはアトミックではない。削除成功後に再作成が失敗すると
// レコードはプールから失われるため、削除の前に置換ジャーナルへ
// 再作成用ペイロードを記録し、失敗時はPartialReplaceFailureとして
// 大きく可視化する（復旧は worker/recover が行う）。
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/credman/internal/journal"
	"github.com/hitoshi/credman/internal/lock"
	"github.com/hitoshi/credman/internal/model"
	"github.com/hitoshi/credman/internal/store"
)

// MetricsRecorder はリース操作の記録インターフェース。
type MetricsRecorder interface {
	RecordAssign()
	RecordRecycle()
	RecordReplaceFailure(operation string)
}

// Service は割当・回収・削除のサービス層。
type Service struct {
	store   store.Client
	journal journal.Repository
	locker  lock.Locker
	logger  *slog.Logger
	metrics MetricsRecorder // nilの場合は記録しない
	nowFunc func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	storeClient store.Client,
	journalRepo journal.Repository,
	locker lock.Locker,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		store:   storeClient,
		journal: journalRepo,
		locker:  locker,
		logger:  logger,
		metrics: metrics,
		nowFunc: time.Now,
	}
}

// Assign は貸出可能なクレデンシャルを顧客に割り当てる。
// 顧客期限は今日からleaseDays日後に設定される。
// 成功時は再作成後のレコード（新しいID）を返す。旧IDは無効になる。
func (s *Service) Assign(ctx context.Context, credentialID, clientID string, leaseDays int) (*model.Credential, error) {
	if clientID == "" {
		return nil, model.NewValidationError("顧客識別子（client id）は必須です")
	}
	if leaseDays < 1 {
		return nil, model.NewValidationError(fmt.Sprintf("リース日数は1以上を指定してください: %d", leaseDays))
	}

	release, err := s.locker.Acquire(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("クレデンシャルのロック取得に失敗しました: %w", err)
	}
	defer release()

	current, err := s.findFresh(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if current.IsLeased() {
		return nil, model.NewAlreadyLeasedError(credentialID)
	}

	clientDue := s.nowFunc().AddDate(0, 0, leaseDays)
	replacement := *current
	replacement.ID = ""
	replacement.LeaseState = model.LeaseStateLeased
	replacement.ClientID = clientID
	replacement.ClientDueDate = &clientDue

	created, err := s.replace(ctx, journal.OperationAssign, current.ID, replacement)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordAssign()
	}
	s.logger.Info("クレデンシャルを割り当てました",
		slog.String("old_id", current.ID),
		slog.String("new_id", created.ID),
		slog.String("client_id", clientID),
		slog.Int("lease_days", leaseDays),
	)

	return created, nil
}

// Recycle は貸出中のクレデンシャルをプールに回収する。
// 顧客フィールドをクリアし、ログイン情報と提供元期限はそのまま引き継ぐ。
// 成功時は再作成後のレコード（新しいID）を返す。
func (s *Service) Recycle(ctx context.Context, credentialID string) (*model.Credential, error) {
	release, err := s.locker.Acquire(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("クレデンシャルのロック取得に失敗しました: %w", err)
	}
	defer release()

	current, err := s.findFresh(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if !current.IsLeased() {
		return nil, model.NewNotLeasedError(credentialID)
	}

	replacement := *current
	replacement.ID = ""
	replacement.LeaseState = model.LeaseStateAvailable
	replacement.ClientID = ""
	replacement.ClientDueDate = nil

	created, err := s.replace(ctx, journal.OperationRecycle, current.ID, replacement)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordRecycle()
	}
	s.logger.Info("クレデンシャルを回収しました",
		slog.String("old_id", current.ID),
		slog.String("new_id", created.ID),
	)

	return created, nil
}

// Remove はクレデンシャルをリース状態に関係なく完全に削除する。
// 終端操作であり、以後の状態遷移はない。
// 既に存在しないIDの削除は成功として扱う（冪等）。
func (s *Service) Remove(ctx context.Context, credentialID string) error {
	if credentialID == "" {
		return model.NewValidationError("削除対象のIDが空です")
	}

	// 進行中の置換と競合しないようロックを取ってから削除する
	release, err := s.locker.Acquire(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("クレデンシャルのロック取得に失敗しました: %w", err)
	}
	defer release()

	if err := s.store.Delete(ctx, credentialID); err != nil {
		return fmt.Errorf("クレデンシャルの削除に失敗しました: %w", err)
	}

	s.logger.Info("クレデンシャルを削除しました",
		slog.String("credential_id", credentialID),
	)
	return nil
}

// findFresh はストアから最新の全件を取得し、指定IDのレコードを返す。
// ストアの読み取りはlistのみなので、単件取得も全件取得で代用する。
func (s *Service) findFresh(ctx context.Context, credentialID string) (*model.Credential, error) {
	creds, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ストアからの取得に失敗しました: %w", err)
	}
	for i := range creds {
		if creds[i].ID == credentialID {
			return &creds[i], nil
		}
	}
	return nil, model.NewCredentialNotFoundError(credentialID)
}

// replace は削除→再作成の置換シーケンスを実行する。
//
// 順序: (1) ジャーナルにopenエントリを先行書き込み → (2) 旧レコード削除 →
// (3) 置換レコード作成 → (4) エントリをresolvedにする。
// (2)で失敗した場合は何も失われていないのでエントリを閉じてエラーを返す。
// (3)で失敗した場合がデータ喪失（孤児）であり、エントリをopenのまま残して
// PartialReplaceFailureを返す。復旧ワーカーがペイロードから再作成を試みる。
func (s *Service) replace(ctx context.Context, op journal.Operation, oldID string, replacement model.Credential) (*model.Credential, error) {
	entry := &journal.Entry{
		Operation:    op,
		CredentialID: oldID,
		Payload:      replacement,
	}
	if err := s.journal.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("置換ジャーナルの書き込みに失敗しました: %w", err)
	}

	if err := s.store.Delete(ctx, oldID); err != nil {
		// 削除に失敗しただけならレコードは失われていない。孤児ではないのでエントリを閉じる。
		if resolveErr := s.journal.Resolve(ctx, entry.ID); resolveErr != nil {
			s.logger.Warn("ジャーナルエントリのクローズに失敗しました",
				slog.String("entry_id", entry.ID),
				slog.String("error", resolveErr.Error()),
			)
		}
		return nil, fmt.Errorf("旧レコードの削除に失敗しました: %w", err)
	}

	created, err := s.store.Create(ctx, replacement)
	if err != nil {
		// 削除済み・再作成失敗: レコードはプールから失われている。
		// 黙って握りつぶしてはならない。ジャーナルをopenのまま残し、復旧ワーカーに委ねる。
		if markErr := s.journal.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			s.logger.Error("ジャーナルへの失敗記録に失敗しました",
				slog.String("entry_id", entry.ID),
				slog.String("error", markErr.Error()),
			)
		}
		if s.metrics != nil {
			s.metrics.RecordReplaceFailure(string(op))
		}
		s.logger.Error("置換が途中で失敗しました（削除済み・再作成未完了）",
			slog.String("operation", string(op)),
			slog.String("old_id", oldID),
			slog.String("entry_id", entry.ID),
			slog.String("provider", replacement.Provider),
			slog.String("source_user", replacement.SourceUser),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPartialReplaceFailureError(oldID, entry.ID)
	}

	if err := s.journal.Resolve(ctx, entry.ID); err != nil {
		// 置換自体は完了している。復旧ワーカーが同じペイロードを再作成すると
		// 重複レコードになるため、クローズ失敗は大きくログに残す。
		s.logger.Error("置換完了後のジャーナルクローズに失敗しました（重複再作成のおそれ）",
			slog.String("entry_id", entry.ID),
			slog.String("new_id", created.ID),
			slog.String("error", err.Error()),
		)
	}

	return created, nil
}
