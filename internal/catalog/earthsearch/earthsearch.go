package earthsearch

import (
	"context"
	"net/http"

	"github.com/John-Robertt/S2DL/internal/catalog"
	"github.com/John-Robertt/S2DL/internal/domain"
)

const (
	// DefaultEndpoint 是 Element 84 Earth Search 的 STAC API 根（AWS 公开数据，免签名下载）。
	DefaultEndpoint = "https://earth-search.aws.element84.com/v1"

	collection = "sentinel-2-l2a"
)

// Provider 对接 AWS 上的 Earth Search 目录。
// 资产键是光谱语义名（red/green/blue/...），这里映射回波段编号。
type Provider struct {
	Endpoint string
}

func New() *Provider {
	return &Provider{Endpoint: DefaultEndpoint}
}

func (p *Provider) Name() string { return "earthsearch" }

func (p *Provider) Search(ctx context.Context, q domain.Query, c *http.Client) ([]domain.Item, error) {
	return catalog.SearchSTAC(ctx, c, p.Endpoint, collection, q, normalizeAsset)
}

// assetToBand 把 earthsearch 的资产键映射为波段编号。
// L2A 没有 B10（卷云波段在大气校正时被剔除），所以表里没有它。
var assetToBand = map[string]string{
	"coastal":  "B01",
	"blue":     "B02",
	"green":    "B03",
	"red":      "B04",
	"rededge1": "B05",
	"rededge2": "B06",
	"rededge3": "B07",
	"nir":      "B08",
	"nir08":    "B8A",
	"nir09":    "B09",
	"swir16":   "B11",
	"swir22":   "B12",
	"scl":      "SCL",
	"visual":   "visual",
}

func normalizeAsset(key string) string {
	return assetToBand[key]
}
