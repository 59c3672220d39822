// Package relay は連携拠点の内部リレーエンドポイントを呼び出すクライアントを提供する。
// リレー呼び出しは相手拠点のローカルストアのみを対象とし、再帰的なファンアウトを起こさない。
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/hcegateway/internal/model"
	"github.com/hitoshi/hcegateway/internal/site"
)

// PathPrefix は内部リレーエンドポイントのパス接頭辞。
const PathPrefix = "/internal/relay/"

// defaultMaxBodySize はリレー応答の最大サイズ（10MB）。
const defaultMaxBodySize int64 = 10 << 20

// errorBody はリレーエンドポイントが失敗時に返すJSON本文。
type errorBody struct {
	Error string `json:"error"`
}

// Client は内部リレーのHTTPクライアント。
// タイムアウトは呼び出し側のcontextで拠点ごとに設定する。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	maxBodySize int64
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientはプロセス全体で共有するプール済みクライアントを渡す。
func NewClient(httpClient *http.Client, logger *slog.Logger, maxBodySize int64) *Client {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Fetch は GET {site}/internal/relay/{resourceType}?{filter} を1回だけ呼び出す。
// 200以外のステータス、エラー本文、デコード失敗はすべて model.ErrUpstreamUnavailable を
// ラップしたエラーとして返す。リトライは行わない。
func (c *Client) Fetch(ctx context.Context, s site.Site, rt model.ResourceType, filter model.Filter) ([]model.Record, error) {
	reqURL := s.BaseURL + PathPrefix + url.PathEscape(string(rt))
	if len(filter) > 0 {
		reqURL += "?" + filter.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: relay %s: %w", model.ErrUpstreamUnavailable, s.BaseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: relay %s: read body: %w", model.ErrUpstreamUnavailable, s.BaseURL, err)
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, fmt.Errorf("%w: relay %s: response exceeds %d bytes", model.ErrUpstreamUnavailable, s.BaseURL, c.maxBodySize)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: relay %s returned status %d%s",
			model.ErrUpstreamUnavailable, s.BaseURL, resp.StatusCode, describeErrorBody(body))
	}

	// 200でもエラーオブジェクトが返る実装に備える
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return nil, fmt.Errorf("%w: relay %s returned an object%s",
			model.ErrUpstreamUnavailable, s.BaseURL, describeErrorBody(body))
	}

	records, err := model.DecodeRecords(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: relay %s: decode: %w", model.ErrUpstreamUnavailable, s.BaseURL, err)
	}

	c.logger.Debug("relay fetch completed",
		slog.String("site", s.BaseURL),
		slog.String("resource", string(rt)),
		slog.Int("records", len(records)),
	)
	return records, nil
}

// describeErrorBody はエラー本文の error フィールドをメッセージ用に整形する。
func describeErrorBody(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		return ""
	}
	return ": " + eb.Error
}

// IsUpstreamUnavailable はエラーが拠点到達不能を表すかを返す。
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, model.ErrUpstreamUnavailable)
}
