package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// userAgent 是固定 UA：对公共数据 API（STAC/对象存储）应表明客户端身份，而不是伪装浏览器。
	userAgent = "s2dl/1.0 (+https://github.com/John-Robertt/S2DL)"

	defaultSearchTimeout = 30 * time.Second

	defaultMaxAttempts = 4
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 8 * time.Second
)

// Policy 描述有界重试策略。
//
// 约束：
// - MaxAttempts 是总尝试次数（含首次），< 1 时按 1 处理（即不重试）
// - Backoff 给出第 attempt 次失败后的等待时长（attempt 从 1 开始）；nil 表示不等待
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// DefaultPolicy 返回指数退避的默认策略（500ms、1s、2s…封顶 8s）。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		Backoff: func(attempt int) time.Duration {
			d := defaultBackoffBase << (attempt - 1)
			if d > defaultBackoffCap {
				d = defaultBackoffCap
			}
			return d
		},
	}
}

// Transport 把“有界重试 + 退避 + 固定 UA”固化为统一策略。
//
// 设计目标：catalog/fetch 只负责定位资源与解析内容，不关心网络重试细节。
type Transport struct {
	Base   http.RoundTripper
	Policy Policy

	// sleep 可替换，测试注入假时钟。
	sleep func(ctx context.Context, d time.Duration) error
}

// retryableStatus 判断响应状态码是否值得重试（服务端瞬时故障或限流）。
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	sleep := t.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	// 只对“可重放”的请求做重试：GET/HEAD 无 body，或显式提供了 GetBody（STAC 的 POST /search 属于后者）。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	if req.GetBody != nil {
		canRetry = true
	}
	max := t.Policy.MaxAttempts
	if max < 1 {
		max = 1
	}
	if !canRetry {
		max = 1
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", userAgent)
		}
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}

		resp, err := base.RoundTrip(r)
		if err == nil {
			if attempt < max && retryableStatus(resp.StatusCode) {
				// 吃掉本次响应再重试：不读完 body 会泄漏连接。
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
				_ = resp.Body.Close()
				lastErr = fmt.Errorf("HTTP %d：%s", resp.StatusCode, r.URL)
			} else {
				// 最后一次尝试无论状态码都原样返回，非 2xx 由调用方定性。
				return resp, nil
			}
		} else {
			lastErr = err
		}

		if req.Context().Err() != nil {
			// ctx 已取消：不再重试，直接返回（更可解释）。
			return nil, lastErr
		}
		if attempt < max && t.Policy.Backoff != nil {
			if err := sleep(req.Context(), t.Policy.Backoff(attempt)); err != nil {
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewSearchClient 构造用于目录检索（STAC API / 签名接口 / HTML 索引页）的 HTTP client。
// 带总超时：检索请求的响应都是小 JSON/HTML。
func NewSearchClient(policy Policy) *http.Client {
	return &http.Client{
		Transport: newTransport(policy),
		Timeout:   defaultSearchTimeout,
	}
}

// NewDownloadClient 构造用于波段文件下载的 HTTP client。
//
// 说明：单景波段 tif 可达数百 MB，不能设总超时；只约束握手/首包。
// 下载中途的停滞由上层 ctx 取消兜底。
func NewDownloadClient(policy Policy) *http.Client {
	return &http.Client{
		Transport: newTransport(policy),
	}
}

func newTransport(policy Policy) *Transport {
	return &Transport{
		Base: &http.Transport{
			MaxIdleConnsPerHost:   4,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		Policy: policy,
	}
}
