// Package pool はクレデンシャルプールのメモリ内スナップショットを提供する。
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/credman/internal/model"
	"github.com/hitoshi/credman/internal/store"
)

// Pool はストアから取得した全クレデンシャルの最新スナップショットを保持し、
// 再取得なしで照会に応答する。
// スナップショットはRefreshのたびに全件置き換えられる（差分同期は行わない）。
// 参照系はすべて古い可能性のあるスナップショット上で動作するため、
// 最新状態が必要な呼び出し側は先にRefreshを呼ぶこと。TTLによる自動更新は行わない。
type Pool struct {
	client store.Client
	logger *slog.Logger

	mu          sync.RWMutex
	byID        map[string]model.Credential
	order       []string // ストアが返した順序を保持する
	refreshedAt time.Time
}

// New はPoolの新しいインスタンスを生成する。初期状態は空のスナップショット。
func New(client store.Client, logger *slog.Logger) *Pool {
	return &Pool{
		client: client,
		logger: logger,
		byID:   make(map[string]model.Credential),
	}
}

// Refresh はストアから全件を取得し、スナップショットを置き換える。
// ローカルで把握していた未反映の変更は破棄される。
func (p *Pool) Refresh(ctx context.Context) error {
	creds, err := p.client.List(ctx)
	if err != nil {
		return fmt.Errorf("プールの更新に失敗しました: %w", err)
	}

	byID := make(map[string]model.Credential, len(creds))
	order := make([]string, 0, len(creds))
	for _, c := range creds {
		byID[c.ID] = c
		order = append(order, c.ID)
	}

	p.mu.Lock()
	p.byID = byID
	p.order = order
	p.refreshedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("プールスナップショットを更新しました",
		slog.Int("total", len(creds)),
	)

	return nil
}

// Get は指定IDのクレデンシャルをスナップショットから取得する。
// スナップショットに存在しない場合はNotFoundエラーを返す（古い可能性がある）。
func (p *Pool) Get(id string) (*model.Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.byID[id]
	if !ok {
		return nil, model.NewCredentialNotFoundError(id)
	}
	cred := c
	return &cred, nil
}

// List はスナップショット上の全クレデンシャルをストア順で返す。
// stateが空でない場合はリース状態で絞り込む。
func (p *Pool) List(state model.LeaseState) []model.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]model.Credential, 0, len(p.order))
	for _, id := range p.order {
		c := p.byID[id]
		if state != "" && c.LeaseState != state {
			continue
		}
		result = append(result, c)
	}
	return result
}

// CountAvailable は貸出可能なクレデンシャル数を返す。
func (p *Pool) CountAvailable() int {
	return p.countByState(model.LeaseStateAvailable)
}

// CountLeased は貸出中のクレデンシャル数を返す。
func (p *Pool) CountLeased() int {
	return p.countByState(model.LeaseStateLeased)
}

func (p *Pool) countByState(state model.LeaseState) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, c := range p.byID {
		if c.LeaseState == state {
			count++
		}
	}
	return count
}

// RefreshedAt は最後にRefreshが成功した時刻を返す。未更新の場合はゼロ値。
func (p *Pool) RefreshedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshedAt
}
