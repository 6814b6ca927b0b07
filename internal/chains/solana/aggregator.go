package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAggregatorBaseURL is the Jupiter Ultra API endpoint.
const DefaultAggregatorBaseURL = "https://lite-api.jup.ag/ultra/v1"

const (
	orderTimeout   = 20 * time.Second
	executeTimeout = 90 * time.Second
)

// flexUint decodes JSON numbers that the aggregator serializes either as
// numbers or as decimal strings.
type flexUint uint64

func (u *flexUint) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("无法解析数值 %q: %w", s, err)
	}
	*u = flexUint(v)
	return nil
}

// OrderRequest is one quote request against the aggregator /order endpoint.
type OrderRequest struct {
	InputMint    string
	OutputMint   string
	AmountAtomic uint64
	// Taker is the wallet that will sign and pay for the swap.
	Taker       string
	SlippageBps int
}

// Quote is the aggregator's answer to an order request. TransactionB64
// carries the unsigned transaction to sign and send back via /execute.
type Quote struct {
	InputMint            string   `json:"inputMint"`
	OutputMint           string   `json:"outputMint"`
	InAmount             flexUint `json:"inAmount"`
	OutAmount            flexUint `json:"outAmount"`
	OtherAmountThreshold flexUint `json:"otherAmountThreshold"`
	SlippageBps          int      `json:"slippageBps"`
	RequestID            string   `json:"requestId"`
	TransactionB64       string   `json:"transaction"`
}

// ExecuteResult is the aggregator's answer to a signed transaction.
// Only the exact status "Success" means the swap settled.
type ExecuteResult struct {
	Status             string          `json:"status"`
	Signature          string          `json:"signature"`
	Code               int64           `json:"code"`
	Err                json.RawMessage `json:"error"`
	InputAmountResult  flexUint        `json:"inputAmountResult"`
	OutputAmountResult flexUint        `json:"outputAmountResult"`
}

// Succeeded reports whether the aggregator confirmed the swap.
func (r *ExecuteResult) Succeeded() bool { return r.Status == "Success" }

// ErrorMessage renders the error detail, which may be a string or an object.
func (r *ExecuteResult) ErrorMessage() string {
	if len(r.Err) == 0 {
		return "聚合器未返回错误详情"
	}
	var s string
	if err := json.Unmarshal(r.Err, &s); err == nil {
		return s
	}
	return string(r.Err)
}

// Aggregator is an HTTP client for a Jupiter style swap aggregator.
type Aggregator struct {
	baseURL string
	client  *http.Client
}

// NewAggregator builds a client for the given base URL, falling back to the
// public Jupiter endpoint when empty.
func NewAggregator(baseURL string) *Aggregator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAggregatorBaseURL
	}
	return &Aggregator{baseURL: baseURL, client: &http.Client{}}
}

// Order fetches a swap quote. A response without a transaction blob is a
// quote failure: there is nothing to sign, so /execute must never be hit.
func (a *Aggregator) Order(ctx context.Context, req OrderRequest) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.AmountAtomic, 10))
	params.Set("taker", req.Taker)
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/order?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造报价请求失败: %w", err)
	}

	var quote Quote
	if err := a.do(httpReq, &quote); err != nil {
		return nil, fmt.Errorf("请求聚合器报价失败: %w", err)
	}
	if strings.TrimSpace(quote.TransactionB64) == "" {
		return nil, errors.New("聚合器报价缺少 transaction 字段，无法继续执行")
	}
	return &quote, nil
}

// Execute submits the signed transaction for the given request id.
func (a *Aggregator) Execute(ctx context.Context, requestID, signedTxB64 string) (*ExecuteResult, error) {
	payload, err := json.Marshal(map[string]string{
		"requestId":         requestID,
		"signedTransaction": signedTxB64,
	})
	if err != nil {
		return nil, fmt.Errorf("编码执行请求失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构造执行请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result ExecuteResult
	if err := a.do(httpReq, &result); err != nil {
		return nil, fmt.Errorf("请求聚合器执行失败: %w", err)
	}
	return &result, nil
}

func (a *Aggregator) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("聚合器返回 HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
