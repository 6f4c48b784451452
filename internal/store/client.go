// Package store は外部クレデンシャルストアのHTTPクライアントを提供する。
// ストアが公開するのは list / create / delete の3操作のみで、更新APIは存在しない。
// すべての変更は上位層で「削除→再作成」として表現される。
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/credman/internal/model"
)

// Client はクレデンシャルストアの操作インターフェース。
// テスト時にモックに差し替え可能。
type Client interface {
	// List はストア上の全クレデンシャルレコードを取得する。
	List(ctx context.Context) ([]model.Credential, error)
	// Create はレコードを新規作成する。IDはストア側で採番され、作成後のレコードを返す。
	Create(ctx context.Context, cred model.Credential) (*model.Credential, error)
	// Delete は指定IDのレコードを削除する。存在しないIDの削除は成功として扱う（冪等）。
	Delete(ctx context.Context, id string) error
}

// LatencyRecorder はストア呼び出しのレイテンシ記録インターフェース。
type LatencyRecorder interface {
	RecordStoreLatency(operation string, duration time.Duration)
}

// HTTPClient はClientのHTTP実装。
// ベースURLとBearerトークンで認証済みのストアAPIを呼び出す。
// 一括登録時の連続呼び出しでストアを圧迫しないよう、
// 全リクエストをレートリミッタ経由で実行する。
type HTTPClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	metrics    LatencyRecorder // nilの場合は記録しない
	baseURL    string
	apiToken   string
}

// HTTPClientConfig はHTTPClientの設定パラメータ。
type HTTPClientConfig struct {
	// BaseURL はストアAPIのベースURL（例: "https://store.example.com/api"）。
	BaseURL string
	// APIToken はBearer認証トークン。
	APIToken string
	// RequestsPerSecond はストアへのリクエストレート上限（req/sec）。
	RequestsPerSecond float64
}

// NewHTTPClient はHTTPClientの新しいインスタンスを生成する。
func NewHTTPClient(httpClient *http.Client, logger *slog.Logger, metrics LatencyRecorder, config HTTPClientConfig) *HTTPClient {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 5.0
	}
	return &HTTPClient{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		metrics:    metrics,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiToken:   config.APIToken,
	}
}

// record はストアとの送受信に使うワイヤフォーマット。
type record struct {
	ID              string     `json:"id,omitempty"`
	Category        string     `json:"category"`
	Provider        string     `json:"provider"`
	Kind            string     `json:"kind"`
	Label           string     `json:"label"`
	SourceUser      string     `json:"source_user"`
	SourceKey       string     `json:"source_key"`
	ProviderDueDate time.Time  `json:"provider_due_date"`
	Cost            float64    `json:"cost"`
	Price           float64    `json:"price"`
	Active          bool       `json:"active"`
	LeaseState      string     `json:"lease_state"`
	ClientID        string     `json:"client_id,omitempty"`
	ClientDueDate   *time.Time `json:"client_due_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
}

func toRecord(c model.Credential) record {
	return record{
		ID:              c.ID,
		Category:        c.Category,
		Provider:        c.Provider,
		Kind:            string(c.Kind),
		Label:           c.Label,
		SourceUser:      c.SourceUser,
		SourceKey:       c.SourceKey,
		ProviderDueDate: c.ProviderDueDate,
		Cost:            c.Cost,
		Price:           c.Price,
		Active:          c.Active,
		LeaseState:      string(c.LeaseState),
		ClientID:        c.ClientID,
		ClientDueDate:   c.ClientDueDate,
		CreatedAt:       c.CreatedAt,
	}
}

func fromRecord(r record) model.Credential {
	return model.Credential{
		ID:              r.ID,
		Category:        r.Category,
		Provider:        r.Provider,
		Kind:            model.Kind(r.Kind),
		Label:           r.Label,
		SourceUser:      r.SourceUser,
		SourceKey:       r.SourceKey,
		ProviderDueDate: r.ProviderDueDate,
		Cost:            r.Cost,
		Price:           r.Price,
		Active:          r.Active,
		LeaseState:      model.LeaseState(r.LeaseState),
		ClientID:        r.ClientID,
		ClientDueDate:   r.ClientDueDate,
		CreatedAt:       r.CreatedAt,
	}
}

// List はストア上の全クレデンシャルレコードを取得する。
func (c *HTTPClient) List(ctx context.Context) ([]model.Credential, error) {
	body, err := c.do(ctx, http.MethodGet, "/credentials", nil)
	if err != nil {
		return nil, err
	}

	var records []record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("レコード一覧のパースに失敗しました: %w", err)
	}

	creds := make([]model.Credential, len(records))
	for i, r := range records {
		creds[i] = fromRecord(r)
	}
	return creds, nil
}

// Create はレコードを新規作成し、ストアが採番したIDを含む作成後のレコードを返す。
func (c *HTTPClient) Create(ctx context.Context, cred model.Credential) (*model.Credential, error) {
	rec := toRecord(cred)
	rec.ID = "" // IDはストア側で採番される

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("レコードのシリアライズに失敗しました: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/credentials", payload)
	if err != nil {
		return nil, err
	}

	var created record
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("作成レスポンスのパースに失敗しました: %w", err)
	}

	result := fromRecord(created)
	return &result, nil
}

// Delete は指定IDのレコードを削除する。
// ストアが404を返した場合は既に削除済みとみなし成功として扱う。
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return model.NewValidationError("削除対象のIDが空です")
	}
	_, err := c.do(ctx, http.MethodDelete, "/credentials/"+url.PathEscape(id), nil)
	return err
}

// do はレート制限・認証ヘッダ・エラー分類を共通化したリクエスト実行処理。
func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordStoreLatency(method+" "+path, duration)
	}
	if err != nil {
		c.logger.Error("ストアAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewStoreUnavailableError(fmt.Sprintf("レスポンスボディの読み取りに失敗しました: %v", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		if method == http.MethodDelete {
			// 削除の404は冪等性のため成功として扱う
			return body, nil
		}
		return nil, model.NewCredentialNotFoundError(path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Error("ストアAPIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewStoreUnavailableError(fmt.Sprintf("ストアAPIがステータス %d を返しました", resp.StatusCode))
	default:
		return nil, fmt.Errorf("ストアAPIがステータス %d を返しました: %s", resp.StatusCode, string(body))
	}
}
