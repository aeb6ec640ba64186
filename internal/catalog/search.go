package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/S2DL/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释 fallback/降级原因）。
// 注意：这是内部执行轨迹，不直接写入 report（由上层决定如何呈现）。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "search" / "ok"
	Err      error  // nil when Stage=="ok"
}

// Search 按“requested -> fallback”顺序检索，返回第一个成功 provider 的条目。
func Search(ctx context.Context, reg Registry, providerRequested string, q domain.Query, c *http.Client) ([]domain.Item, string, error) {
	items, used, _, err := SearchTrace(ctx, reg, providerRequested, q, c)
	return items, used, err
}

// SearchTrace 与 Search 相同，但额外返回 provider 的尝试链路（用于解释回退原因）。
//
// 约束：
// - “检索成功但 0 条结果”不是失败，不触发回退（两个目录的底层数据相同，回退只是徒增请求）
// - 每次失败记入 attempts；全部失败时返回最后一个错误
func SearchTrace(ctx context.Context, reg Registry, providerRequested string, q domain.Query, c *http.Client) (items []domain.Item, providerUsed string, attempts []Attempt, err error) {
	providerRequested = strings.ToLower(strings.TrimSpace(providerRequested))
	if providerRequested == "" {
		return nil, "", nil, fmt.Errorf("provider 不能为空")
	}

	order, err := fallbackOrder(providerRequested)
	if err != nil {
		return nil, "", nil, err
	}

	var lastErr error
	for _, name := range order {
		p, ok := reg.Get(name)
		if !ok {
			lastErr = fmt.Errorf("provider 未注册：%q", name)
			attempts = append(attempts, Attempt{Provider: name, Stage: "search", Err: lastErr})
			continue
		}

		got, serr := p.Search(ctx, q, c)
		if serr != nil {
			lastErr = &Error{Provider: name, Stage: "search", Err: serr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "search", Err: serr})
			log.Warn().Str("provider", name).Err(serr).Msg("目录检索失败，尝试回退")
			if ctx.Err() != nil {
				// ctx 已取消：继续回退只会立刻再失败一次。
				return nil, "", attempts, lastErr
			}
			continue
		}

		attempts = append(attempts, Attempt{Provider: name, Stage: "ok", Err: nil})
		return got, name, attempts, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("无可用 provider")
	}
	return nil, "", attempts, lastErr
}

// Error 是目录检索阶段的可追溯错误。
// 上层可以据此把失败归类为 search_failed，并写入 report。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "search"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fallbackOrder(requested string) ([]string, error) {
	switch requested {
	case "planetary":
		return []string{"planetary", "earthsearch"}, nil
	case "earthsearch":
		return []string{"earthsearch", "planetary"}, nil
	default:
		return nil, fmt.Errorf("未知 provider：%q", requested)
	}
}
