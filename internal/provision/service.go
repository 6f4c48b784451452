// Package provision はクレデンシャルの一括登録を提供する。
// 1つの共有ログイン（source user / source key）から、貸出単位となる
// 独立したクレデンシャルレコードを1件またはN件作成する。
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/credman/internal/model"
	"github.com/hitoshi/credman/internal/store"
)

// MetricsRecorder は登録件数の記録インターフェース。
type MetricsRecorder interface {
	RecordProvisioned(count int)
}

// Input は一括登録の入力パラメータ。
type Input struct {
	Category        string
	Provider        string
	Kind            model.Kind
	Count           int // WholeAccountの場合は1に強制される
	SourceUser      string
	SourceKey       string
	ProviderDueDate time.Time
	Cost            float64
	Price           float64
}

// Service は一括登録のサービス層。
type Service struct {
	store   store.Client
	logger  *slog.Logger
	metrics MetricsRecorder // nilの場合は記録しない
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(storeClient store.Client, logger *slog.Logger, metrics MetricsRecorder) *Service {
	return &Service{
		store:   storeClient,
		logger:  logger,
		metrics: metrics,
	}
}

// Provision は共有ログインから貸出単位のレコードを作成する。
//
// バリデーションは全レコード作成前に行い、不正入力では1件も作成しない。
// ただしN件の作成自体はトランザクショナルではない: 途中で失敗した場合、
// それまでに作成されたレコードはストアに残り、作成済みレコードと
// エラーの両方を返す。呼び出し側は部分的な成功を成功として扱ってはならない。
func (s *Service) Provision(ctx context.Context, input Input) ([]model.Credential, error) {
	count, err := validate(input)
	if err != nil {
		return nil, err
	}

	created := make([]model.Credential, 0, count)
	for i := 1; i <= count; i++ {
		cred := model.Credential{
			Category:        input.Category,
			Provider:        input.Provider,
			Kind:            input.Kind,
			Label:           buildLabel(input.Kind, i),
			SourceUser:      input.SourceUser,
			SourceKey:       input.SourceKey,
			ProviderDueDate: input.ProviderDueDate,
			Cost:            input.Cost,
			Price:           input.Price,
			Active:          true,
			LeaseState:      model.LeaseStateAvailable,
		}

		result, err := s.store.Create(ctx, cred)
		if err != nil {
			// 部分的なバッチが残る。作成済み分を呼び出し側に返して判断を委ねる。
			s.logger.Error("一括登録が途中で失敗しました",
				slog.String("provider", input.Provider),
				slog.String("source_user", input.SourceUser),
				slog.Int("created", len(created)),
				slog.Int("requested", count),
				slog.String("error", err.Error()),
			)
			return created, fmt.Errorf("一括登録が %d/%d 件で失敗しました: %w", len(created), count, err)
		}
		created = append(created, *result)
	}

	if s.metrics != nil {
		s.metrics.RecordProvisioned(len(created))
	}

	s.logger.Info("クレデンシャルを一括登録しました",
		slog.String("provider", input.Provider),
		slog.String("kind", string(input.Kind)),
		slog.Int("count", len(created)),
	)

	return created, nil
}

// validate は入力を検証し、実際に作成する件数を返す。
func validate(input Input) (int, error) {
	if input.SourceUser == "" {
		return 0, model.NewValidationError("ログインID（source user）は必須です")
	}
	if input.SourceKey == "" {
		return 0, model.NewValidationError("ログインキー（source key）は必須です")
	}
	if input.ProviderDueDate.IsZero() {
		return 0, model.NewValidationError("提供元の更新期限（provider due date）は必須です")
	}

	switch input.Kind {
	case model.KindWholeAccount:
		// アカウント丸ごとは常に1件
		return 1, nil
	case model.KindProfile, model.KindCode:
		if input.Count < 1 {
			return 0, model.NewValidationError(fmt.Sprintf("作成件数は1以上を指定してください: %d", input.Count))
		}
		return input.Count, nil
	default:
		return 0, model.NewValidationError(fmt.Sprintf("無効な種別です: %s", input.Kind))
	}
}

// buildLabel は種別と序数から表示ラベルを生成する。
func buildLabel(kind model.Kind, ordinal int) string {
	switch kind {
	case model.KindProfile:
		return fmt.Sprintf("Profile #%d", ordinal)
	case model.KindCode:
		return fmt.Sprintf("Code #%d", ordinal)
	default:
		return "Whole Account"
	}
}
