// Package handler はHTTP APIのハンドラー層を提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/credman/internal/middleware"
	"github.com/hitoshi/credman/internal/model"
	"github.com/hitoshi/credman/internal/provision"
)

// dueDateLayout は期限日のAPI入出力フォーマット。期限は日付粒度で扱う。
const dueDateLayout = "2006-01-02"

// ProvisionServiceInterface はクレデンシャルハンドラーが必要とする一括登録サービス。
type ProvisionServiceInterface interface {
	// Provision は共有ログインから貸出単位のレコードを作成する。
	Provision(ctx context.Context, input provision.Input) ([]model.Credential, error)
}

// LeaseServiceInterface はクレデンシャルハンドラーが必要とするリースサービス。
type LeaseServiceInterface interface {
	// Assign は貸出可能なクレデンシャルを顧客に割り当てる。
	Assign(ctx context.Context, credentialID, clientID string, leaseDays int) (*model.Credential, error)
	// Recycle は貸出中のクレデンシャルをプールに回収する。
	Recycle(ctx context.Context, credentialID string) (*model.Credential, error)
	// Remove はクレデンシャルを完全に削除する。
	Remove(ctx context.Context, credentialID string) error
}

// CredentialHandler はクレデンシャル操作のHTTPハンドラー。
type CredentialHandler struct {
	provisionService ProvisionServiceInterface
	leaseService     LeaseServiceInterface
	defaultLeaseDays int
}

// NewCredentialHandler はCredentialHandlerを生成する。
func NewCredentialHandler(provisionService ProvisionServiceInterface, leaseService LeaseServiceInterface, defaultLeaseDays int) *CredentialHandler {
	return &CredentialHandler{
		provisionService: provisionService,
		leaseService:     leaseService,
		defaultLeaseDays: defaultLeaseDays,
	}
}

// provisionRequest は一括登録リクエストのボディ。
type provisionRequest struct {
	Category        string  `json:"category"`
	Provider        string  `json:"provider"`
	Kind            string  `json:"kind"`
	Count           int     `json:"count"`
	SourceUser      string  `json:"source_user"`
	SourceKey       string  `json:"source_key"`
	ProviderDueDate string  `json:"provider_due_date"`
	Cost            float64 `json:"cost"`
	Price           float64 `json:"price"`
}

// assignRequest は割当リクエストのボディ。
type assignRequest struct {
	ClientID  string `json:"client_id"`
	LeaseDays int    `json:"lease_days"` // 省略時はデフォルト日数
}

// credentialResponse はクレデンシャル1件のAPIレスポンス。
type credentialResponse struct {
	ID              string  `json:"id"`
	Category        string  `json:"category"`
	Provider        string  `json:"provider"`
	Kind            string  `json:"kind"`
	Label           string  `json:"label"`
	SourceUser      string  `json:"source_user"`
	SourceKey       string  `json:"source_key"`
	ProviderDueDate string  `json:"provider_due_date"`
	Cost            float64 `json:"cost"`
	Price           float64 `json:"price"`
	Active          bool    `json:"active"`
	LeaseState      string  `json:"lease_state"`
	ClientID        string  `json:"client_id,omitempty"`
	ClientDueDate   string  `json:"client_due_date,omitempty"`
}

// provisionResponse は一括登録のAPIレスポンス。
type provisionResponse struct {
	Created     []credentialResponse `json:"created"`
	Count       int                  `json:"count"`
	Partial     bool                 `json:"partial"`
	FailureNote string               `json:"failure_note,omitempty"`
}

// Provision は一括登録を処理する。
// POST /api/credentials/provision
//
// N件作成の途中で失敗した場合、作成済みレコードと失敗情報の両方を
// 207 Multi-Statusで返す。部分的な成功を200として扱ってはならない。
func (h *CredentialHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	var dueDate time.Time
	if req.ProviderDueDate != "" {
		parsed, err := time.Parse(dueDateLayout, req.ProviderDueDate)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("provider_due_dateはYYYY-MM-DD形式で指定してください"))
			return
		}
		dueDate = parsed
	}

	created, err := h.provisionService.Provision(r.Context(), provision.Input{
		Category:        req.Category,
		Provider:        req.Provider,
		Kind:            model.Kind(req.Kind),
		Count:           req.Count,
		SourceUser:      req.SourceUser,
		SourceKey:       req.SourceKey,
		ProviderDueDate: dueDate,
		Cost:            req.Cost,
		Price:           req.Price,
	})
	if err != nil {
		// 一部作成済みの場合は失敗扱いにしつつ作成済みレコードも返す
		if len(created) > 0 {
			writeJSON(w, http.StatusMultiStatus, provisionResponse{
				Created:     toCredentialResponses(created),
				Count:       len(created),
				Partial:     true,
				FailureNote: err.Error(),
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, provisionResponse{
		Created: toCredentialResponses(created),
		Count:   len(created),
	})
}

// Assign はクレデンシャルの顧客への割当を処理する。
// POST /api/credentials/:id/assign
func (h *CredentialHandler) Assign(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "id")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	leaseDays := req.LeaseDays
	if leaseDays == 0 {
		leaseDays = h.defaultLeaseDays
	}

	cred, err := h.leaseService.Assign(r.Context(), credentialID, req.ClientID, leaseDays)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(cred))
}

// Recycle は貸出中クレデンシャルのプールへの回収を処理する。
// POST /api/credentials/:id/recycle
func (h *CredentialHandler) Recycle(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "id")

	cred, err := h.leaseService.Recycle(r.Context(), credentialID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(cred))
}

// Remove はクレデンシャルの完全削除を処理する。
// DELETE /api/credentials/:id
func (h *CredentialHandler) Remove(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "id")

	if err := h.leaseService.Remove(r.Context(), credentialID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toCredentialResponse はmodel.CredentialからAPIレスポンスに変換する。
func toCredentialResponse(cred *model.Credential) credentialResponse {
	resp := credentialResponse{
		ID:              cred.ID,
		Category:        cred.Category,
		Provider:        cred.Provider,
		Kind:            string(cred.Kind),
		Label:           cred.Label,
		SourceUser:      cred.SourceUser,
		SourceKey:       cred.SourceKey,
		ProviderDueDate: cred.ProviderDueDate.Format(dueDateLayout),
		Cost:            cred.Cost,
		Price:           cred.Price,
		Active:          cred.Active,
		LeaseState:      string(cred.LeaseState),
		ClientID:        cred.ClientID,
	}
	if cred.ClientDueDate != nil {
		resp.ClientDueDate = cred.ClientDueDate.Format(dueDateLayout)
	}
	return resp
}

// toCredentialResponses は複数件をAPIレスポンスに変換する。
func toCredentialResponses(creds []model.Credential) []credentialResponse {
	responses := make([]credentialResponse, 0, len(creds))
	for i := range creds {
		responses = append(responses, toCredentialResponse(&creds[i]))
	}
	return responses
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
// 全エンドポイントでミドルウェア層と同じエラーライターを共有する。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidClock:
		return http.StatusBadRequest
	case model.ErrCodeCredentialNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyLeased, model.ErrCodeNotLeased:
		return http.StatusConflict
	case model.ErrCodePartialReplaceFailure:
		return http.StatusBadGateway
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
