// Package expiryscan はプールの期限監視ジョブを提供する。
// 定期的にプールのスナップショットを更新し、提供元クロックと顧客クロックの
// 2つの独立した期限を評価して、件数をメトリクスとログに記録する。
package expiryscan

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/credman/internal/expiry"
	"github.com/hitoshi/credman/internal/model"
)

// クロックのラベル値。メトリクスとログで使用する。
const (
	clockProvider = "provider"
	clockClient   = "client"
)

// PoolRefresher はスキャン対象のプール操作インターフェース。
type PoolRefresher interface {
	// Refresh はストアから全件を取得し、スナップショットを置き換える。
	Refresh(ctx context.Context) error
	// List はスナップショット上のクレデンシャルを返す。
	List(state model.LeaseState) []model.Credential
	// CountAvailable は貸出可能なクレデンシャル数を返す。
	CountAvailable() int
	// CountLeased は貸出中のクレデンシャル数を返す。
	CountLeased() int
}

// MetricsRecorder はスキャン結果の記録インターフェース。
type MetricsRecorder interface {
	RecordPoolCounts(available, leased int)
	RecordExpiryCounts(clock string, nearExpiry, overdue int)
}

// Scanner はプールの期限監視ジョブ。
// ティッカー駆動でプールを更新し、期限接近・超過の件数を集計する。
type Scanner struct {
	pool    PoolRefresher
	monitor *expiry.Monitor
	metrics MetricsRecorder
	logger  *slog.Logger

	providerThresholdDays int
	clientThresholdDays   int
}

// NewScanner はScannerの新しいインスタンスを生成する。
func NewScanner(
	pool PoolRefresher,
	monitor *expiry.Monitor,
	metrics MetricsRecorder,
	logger *slog.Logger,
	providerThresholdDays int,
	clientThresholdDays int,
) *Scanner {
	return &Scanner{
		pool:                  pool,
		monitor:               monitor,
		metrics:               metrics,
		logger:                logger,
		providerThresholdDays: providerThresholdDays,
		clientThresholdDays:   clientThresholdDays,
	}
}

// Start は指定間隔のティッカーでスキャナを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scanner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("期限監視スキャナを開始しました",
		slog.Duration("interval", interval),
		slog.Int("provider_threshold_days", s.providerThresholdDays),
		slog.Int("client_threshold_days", s.clientThresholdDays),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("期限スキャンの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("期限監視スキャナを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("期限スキャンの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はスナップショットを更新し、期限スキャンを1回実行する。
func (s *Scanner) RunOnce(ctx context.Context) error {
	start := time.Now()

	if err := s.pool.Refresh(ctx); err != nil {
		return err
	}

	available := s.pool.CountAvailable()
	leased := s.pool.CountLeased()
	s.metrics.RecordPoolCounts(available, leased)

	// 提供元クロック: 全レコードの提供元期限を評価
	providerNear, providerOverdue := s.scanProviderClock()
	s.metrics.RecordExpiryCounts(clockProvider, providerNear, providerOverdue)

	// 顧客クロック: 貸出中レコードの顧客期限のみ評価
	clientNear, clientOverdue := s.scanClientClock()
	s.metrics.RecordExpiryCounts(clockClient, clientNear, clientOverdue)

	s.logWarnings(clockProvider, providerNear, providerOverdue)
	s.logWarnings(clockClient, clientNear, clientOverdue)

	duration := time.Since(start)
	s.logger.Info("期限スキャンが完了しました",
		slog.Int("available", available),
		slog.Int("leased", leased),
		slog.Int("provider_near", providerNear),
		slog.Int("provider_overdue", providerOverdue),
		slog.Int("client_near", clientNear),
		slog.Int("client_overdue", clientOverdue),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// scanProviderClock は全レコードの提供元期限を評価し、接近・超過の件数を返す。
func (s *Scanner) scanProviderClock() (near, overdue int) {
	for _, cred := range s.pool.List("") {
		switch {
		case s.monitor.IsOverdue(cred.ProviderDueDate):
			overdue++
		case s.monitor.IsNearExpiry(cred.ProviderDueDate, s.providerThresholdDays):
			near++
		}
	}
	return near, overdue
}

// scanClientClock は貸出中レコードの顧客期限を評価し、接近・超過の件数を返す。
func (s *Scanner) scanClientClock() (near, overdue int) {
	for _, cred := range s.pool.List(model.LeaseStateLeased) {
		if cred.ClientDueDate == nil {
			continue
		}
		switch {
		case s.monitor.IsOverdue(*cred.ClientDueDate):
			overdue++
		case s.monitor.IsNearExpiry(*cred.ClientDueDate, s.clientThresholdDays):
			near++
		}
	}
	return near, overdue
}

// logWarnings は接近・超過が存在する場合に警告ログを出力する。
func (s *Scanner) logWarnings(clock string, near, overdue int) {
	if near > 0 {
		s.logger.Warn("期限が接近しているクレデンシャルがあります",
			slog.String("clock", clock),
			slog.Int("count", near),
		)
	}
	if overdue > 0 {
		s.logger.Warn("期限を超過しているクレデンシャルがあります",
			slog.String("clock", clock),
			slog.Int("count", overdue),
		)
	}
}
