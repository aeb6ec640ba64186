package catalog

import (
	"context"
	"net/http"

	"github.com/John-Robertt/S2DL/internal/domain"
)

// Provider 把“数据源差异”限制在 catalog 子包内部；核心流程只依赖统一接口与稳定的 Item。
//
// 约束：
// - Search 不做重试、不做限速（由 httpx 层统一实现）
// - 返回的 Item 资产键必须已归一化为 B01..B12/B8A/SCL/visual
// - 返回的 href 必须可直接 GET（需要签名的数据源在 Search 内完成签名）
type Provider interface {
	Name() string
	Search(ctx context.Context, q domain.Query, c *http.Client) ([]domain.Item, error)
}
