package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/credman/internal/expiry"
	"github.com/hitoshi/credman/internal/model"
)

// クロック指定の値。期限レポートのquery parameterで使用する。
const (
	clockProvider = "provider"
	clockClient   = "client"
)

// PoolInterface はプールハンドラーが必要とするプール操作。
type PoolInterface interface {
	// Refresh はストアから全件を取得し、スナップショットを置き換える。
	Refresh(ctx context.Context) error
	// Get は指定IDのクレデンシャルをスナップショットから取得する。
	Get(id string) (*model.Credential, error)
	// List はスナップショット上のクレデンシャルをストア順で返す。
	List(state model.LeaseState) []model.Credential
	// CountAvailable は貸出可能なクレデンシャル数を返す。
	CountAvailable() int
	// CountLeased は貸出中のクレデンシャル数を返す。
	CountLeased() int
	// RefreshedAt は最後にRefreshが成功した時刻を返す。
	RefreshedAt() time.Time
}

// ExpiryConfig は期限レポートのクロックごとのデフォルト閾値。
type ExpiryConfig struct {
	ProviderNearExpiryDays int
	ClientNearExpiryDays   int
}

// PoolHandler はプール照会・更新のHTTPハンドラー。
type PoolHandler struct {
	pool         PoolInterface
	monitor      *expiry.Monitor
	expiryConfig ExpiryConfig
}

// NewPoolHandler はPoolHandlerを生成する。
func NewPoolHandler(pool PoolInterface, monitor *expiry.Monitor, expiryConfig ExpiryConfig) *PoolHandler {
	return &PoolHandler{
		pool:         pool,
		monitor:      monitor,
		expiryConfig: expiryConfig,
	}
}

// poolStatsResponse はプール更新・統計のAPIレスポンス。
type poolStatsResponse struct {
	Available   int    `json:"available"`
	Leased      int    `json:"leased"`
	RefreshedAt string `json:"refreshed_at"`
}

// listResponse はクレデンシャル一覧のAPIレスポンス。
type listResponse struct {
	Credentials []credentialResponse `json:"credentials"`
	Count       int                  `json:"count"`
}

// expiringResponse は期限レポートのAPIレスポンス。
// 期限切れ（overdue）は期限接近（near）とは別のリストで返す。
type expiringResponse struct {
	Clock         string               `json:"clock"`
	ThresholdDays int                  `json:"threshold_days"`
	Near          []credentialResponse `json:"near"`
	Overdue       []credentialResponse `json:"overdue"`
}

// List はクレデンシャル一覧を取得する。
// GET /api/credentials?state=available|leased
//
// 一覧はメモリ内スナップショットから返す。最新状態が必要な場合は
// 先にPOST /api/pool/refreshを呼ぶこと。
func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	stateParam := r.URL.Query().Get("state")

	var state model.LeaseState
	switch stateParam {
	case "":
		state = ""
	case string(model.LeaseStateAvailable):
		state = model.LeaseStateAvailable
	case string(model.LeaseStateLeased):
		state = model.LeaseStateLeased
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("stateには available または leased を指定してください"))
		return
	}

	creds := h.pool.List(state)
	writeJSON(w, http.StatusOK, listResponse{
		Credentials: toCredentialResponses(creds),
		Count:       len(creds),
	})
}

// Get はクレデンシャル1件をスナップショットから取得する。
// GET /api/credentials/:id
func (h *PoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "id")

	cred, err := h.pool.Get(credentialID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(cred))
}

// Refresh はストアからスナップショットを再取得する。
// POST /api/pool/refresh
func (h *PoolHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Refresh(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.statsResponse())
}

// Stats はプールの件数統計を返す。
// GET /api/pool/stats
func (h *PoolHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.statsResponse())
}

// ListExpiring は期限が接近・超過しているクレデンシャルの一覧を返す。
// GET /api/credentials/expiring?clock=provider|client&days=N
//
// clockは必須。daysを省略した場合はクロックごとのデフォルト閾値を使う。
// 提供元クロックは全レコードの提供元期限を、顧客クロックは貸出中レコードの
// 顧客期限のみを評価する。2つのクロックを混ぜた判定は行わない。
func (h *PoolHandler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	clock := r.URL.Query().Get("clock")

	var thresholdDays int
	switch clock {
	case clockProvider:
		thresholdDays = h.expiryConfig.ProviderNearExpiryDays
	case clockClient:
		thresholdDays = h.expiryConfig.ClientNearExpiryDays
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidClockError(clock))
		return
	}

	if daysParam := r.URL.Query().Get("days"); daysParam != "" {
		days, err := parsePositiveInt(daysParam)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("daysには0以上の整数を指定してください"))
			return
		}
		thresholdDays = days
	}

	var near, overdue []model.Credential
	for _, cred := range h.pool.List("") {
		dueDate, ok := dueDateForClock(&cred, clock)
		if !ok {
			continue
		}
		switch {
		case h.monitor.IsOverdue(dueDate):
			overdue = append(overdue, cred)
		case h.monitor.IsNearExpiry(dueDate, thresholdDays):
			near = append(near, cred)
		}
	}

	writeJSON(w, http.StatusOK, expiringResponse{
		Clock:         clock,
		ThresholdDays: thresholdDays,
		Near:          toCredentialResponses(near),
		Overdue:       toCredentialResponses(overdue),
	})
}

// statsResponse は現在のプール統計を組み立てる。
func (h *PoolHandler) statsResponse() poolStatsResponse {
	resp := poolStatsResponse{
		Available: h.pool.CountAvailable(),
		Leased:    h.pool.CountLeased(),
	}
	if refreshedAt := h.pool.RefreshedAt(); !refreshedAt.IsZero() {
		resp.RefreshedAt = refreshedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// dueDateForClock はクロックに応じた期限日を返す。
// 顧客クロックで期限が未設定（貸出可能状態）のレコードは評価対象外。
func dueDateForClock(cred *model.Credential, clock string) (time.Time, bool) {
	switch clock {
	case clockProvider:
		return cred.ProviderDueDate, true
	case clockClient:
		if cred.ClientDueDate == nil {
			return time.Time{}, false
		}
		return *cred.ClientDueDate, true
	default:
		return time.Time{}, false
	}
}

// parsePositiveInt は0以上の整数をパースする。
func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value: %d", n)
	}
	return n, nil
}
