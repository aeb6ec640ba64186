package planetary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/John-Robertt/S2DL/internal/catalog"
	"github.com/John-Robertt/S2DL/internal/domain"
)

const (
	// DefaultEndpoint 是 Planetary Computer 的 STAC API 根。
	DefaultEndpoint = "https://planetarycomputer.microsoft.com/api/stac/v1"
	// DefaultSASEndpoint 是资产签名服务的根（匿名可用，按 collection 发短期 token）。
	DefaultSASEndpoint = "https://planetarycomputer.microsoft.com/api/sas/v1"

	collection = "sentinel-2-l2a"
)

// Provider 对接 Microsoft Planetary Computer。
//
// 约束：该目录的资产 href 指向 Azure Blob，必须携带 SAS token 才能下载；
// Search 在返回前完成签名，下载层拿到的 href 可直接 GET。
type Provider struct {
	Endpoint    string
	SASEndpoint string
}

func New() *Provider {
	return &Provider{Endpoint: DefaultEndpoint, SASEndpoint: DefaultSASEndpoint}
}

func (p *Provider) Name() string { return "planetary" }

func (p *Provider) Search(ctx context.Context, q domain.Query, c *http.Client) ([]domain.Item, error) {
	items, err := catalog.SearchSTAC(ctx, c, p.Endpoint, collection, q, normalizeAsset)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	token, err := p.sasToken(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("获取 SAS 签名失败：%w", err)
	}
	for i := range items {
		signItem(&items[i], token)
	}
	return items, nil
}

// bandKey 匹配 planetary 的波段资产键（B01..B12、B8A）。
var bandKey = regexp.MustCompile(`^B(\d{2}|8A)$`)

func normalizeAsset(key string) string {
	switch {
	case bandKey.MatchString(key):
		return key
	case key == "SCL", key == "visual":
		return key
	}
	return ""
}

type sasResponse struct {
	Token  string `json:"token"`
	Expiry string `json:"msft:expiry"`
}

// sasToken 为 collection 申请一个短期 SAS token。
// 一次 Search 的全部资产共用同一个 token（同一 storage container）。
func (p *Provider) sasToken(ctx context.Context, c *http.Client) (string, error) {
	url := p.SASEndpoint + "/token/" + collection
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		prefix, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &catalog.HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Body: string(prefix)}
	}

	var sr sasResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", err
	}
	if strings.TrimSpace(sr.Token) == "" {
		return "", fmt.Errorf("签名服务返回了空 token")
	}
	return sr.Token, nil
}

// signItem 把 SAS token 追加到所有 Azure Blob 资产与 granule 目录的 href 上。
// 已带查询参数（已签名）的 href 不重复签名。
func signItem(it *domain.Item, token string) {
	for band, a := range it.Assets {
		a.Href = signHref(a.Href, token)
		it.Assets[band] = a
	}
	it.GranuleHref = signHref(it.GranuleHref, token)
}

func signHref(href, token string) string {
	if href == "" || !strings.Contains(href, ".blob.core.windows.net/") {
		return href
	}
	if strings.Contains(href, "?") {
		return href
	}
	return href + "?" + token
}
