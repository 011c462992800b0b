package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPConfig 描述平台 REST API 的接入信息。
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPAdapter 通过平台的 REST API 完成职位抓取、投标、签约、交付与
// 互评。请求与响应都是 JSON。
type HTTPAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter 根据配置创建平台客户端。
func NewHTTPAdapter(cfg HTTPConfig) (*HTTPAdapter, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未配置平台 API 地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPAdapter{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// FetchListing 拉取职位详情。
func (a *HTTPAdapter) FetchListing(ctx context.Context, jobID string) (*Listing, error) {
	var listing Listing
	if err := a.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &listing); err != nil {
		return nil, err
	}
	if listing.JobID == "" {
		listing.JobID = jobID
	}
	return &listing, nil
}

// SubmitBid 提交投标。
func (a *HTTPAdapter) SubmitBid(ctx context.Context, jobID string, amount float64, proposal string) (*Bid, error) {
	payload := map[string]any{
		"amount":   amount,
		"proposal": proposal,
	}
	var bid Bid
	if err := a.do(ctx, http.MethodPost, "/jobs/"+jobID+"/bids", payload, &bid); err != nil {
		return nil, err
	}
	if bid.BidID == "" {
		return nil, errors.New("平台未返回投标编号")
	}
	return &bid, nil
}

// WithdrawBid 撤回投标。平台对已撤回的投标返回 404/409，这里都按
// 幂等成功处理。
func (a *HTTPAdapter) WithdrawBid(ctx context.Context, bidID string) error {
	err := a.do(ctx, http.MethodDelete, "/bids/"+bidID, nil, nil)
	if isGone(err) {
		return nil
	}
	return err
}

// SignContract 确认签署合同。
func (a *HTTPAdapter) SignContract(ctx context.Context, bidID string) (*Contract, error) {
	var contract Contract
	if err := a.do(ctx, http.MethodPost, "/bids/"+bidID+"/contract", nil, &contract); err != nil {
		return nil, err
	}
	if contract.ContractID == "" {
		return nil, errors.New("平台未返回合同编号")
	}
	if contract.SignedAt.IsZero() {
		contract.SignedAt = time.Now().UTC()
	}
	return &contract, nil
}

// VoidContract 作废合同，与 WithdrawBid 一样按幂等处理。
func (a *HTTPAdapter) VoidContract(ctx context.Context, contractID string) error {
	err := a.do(ctx, http.MethodPost, "/contracts/"+contractID+"/void", nil, nil)
	if isGone(err) {
		return nil
	}
	return err
}

// UploadDelivery 上传交付物。
func (a *HTTPAdapter) UploadDelivery(ctx context.Context, contractID, artifact string) (*Delivery, error) {
	payload := map[string]any{
		"artifact": artifact,
	}
	var delivery Delivery
	if err := a.do(ctx, http.MethodPost, "/contracts/"+contractID+"/deliveries", payload, &delivery); err != nil {
		return nil, err
	}
	if delivery.DeliveryID == "" {
		return nil, errors.New("平台未返回交付编号")
	}
	if delivery.DeliveredAt.IsZero() {
		delivery.DeliveredAt = time.Now().UTC()
	}
	return &delivery, nil
}

// PostFeedback 留下互评。
func (a *HTTPAdapter) PostFeedback(ctx context.Context, contractID string, rating int, comment string) error {
	payload := map[string]any{
		"rating":  rating,
		"comment": comment,
	}
	return a.do(ctx, http.MethodPost, "/contracts/"+contractID+"/feedback", payload, nil)
}

// Close 实现 Adapter 接口。
func (a *HTTPAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

// statusError 保留平台返回的 HTTP 状态码，供幂等判定使用。
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("平台返回错误状态 %d: %s", e.status, e.body)
}

func isGone(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusNotFound || se.status == http.StatusConflict
	}
	return false
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化平台请求失败: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("构建平台请求失败: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求平台失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析平台响应失败: %w", err)
	}
	return nil
}
