package catalog

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示数据源返回了非 2xx 的 HTTP 状态码。
// provider.Search 可以返回该错误，让上层生成更可操作的 error_msg。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string // 截断后的响应前缀（API 的错误说明通常在 body 里）
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("HTTP %d url=%s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d url=%s body=%s", e.StatusCode, e.URL, body)
}
