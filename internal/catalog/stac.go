package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/John-Robertt/S2DL/internal/domain"
)

// STAC 检索响应的解码结构（只取用到的字段）。
// planetary 与 earthsearch 的 FeatureCollection 形状一致，差异全在
// properties 键名与资产键名上，集中在这里抹平。

type stacFeatureCollection struct {
	Features []stacFeature `json:"features"`
	Links    []stacLink    `json:"links"`
}

type stacLink struct {
	Rel    string         `json:"rel"`
	Href   string         `json:"href"`
	Method string         `json:"method"`
	Body   map[string]any `json:"body"`
	Merge  bool           `json:"merge"`
}

type stacFeature struct {
	ID         string               `json:"id"`
	Geometry   *geojson.Geometry    `json:"geometry"`
	Properties stacProperties       `json:"properties"`
	Assets     map[string]stacAsset `json:"assets"`
}

type stacProperties struct {
	Datetime   string   `json:"datetime"`
	CloudCover *float64 `json:"eo:cloud_cover"`

	// 瓦片编号在不同数据源上的三种写法，按序兜底。
	MGRSTile   string `json:"s2:mgrs_tile"`
	GridCode   string `json:"grid:code"`
	SentinelID string `json:"sentinel:tile_id"`
}

type stacAsset struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

// toItem 把一条 STAC feature 转为领域 Item。
// normalize 把数据源的资产键映射为统一波段键（B01..B12/B8A/SCL/visual）；
// 返回空串表示丢弃该资产。
func toItem(f stacFeature, normalize func(key string) string) (domain.Item, error) {
	if strings.TrimSpace(f.ID) == "" {
		return domain.Item{}, fmt.Errorf("feature 缺少 id")
	}
	ts, err := time.Parse(time.RFC3339, f.Properties.Datetime)
	if err != nil {
		return domain.Item{}, fmt.Errorf("feature %q 的 datetime 无效：%w", f.ID, err)
	}

	// 目录缺失云量时填最差值，保证“最少云”排序时垫底。
	cloud := 100.0
	if f.Properties.CloudCover != nil {
		cloud = *f.Properties.CloudCover
	}

	assets := make(map[string]domain.Asset, len(f.Assets))
	granule := ""
	for key, a := range f.Assets {
		if strings.TrimSpace(a.Href) == "" {
			continue
		}
		switch key {
		case "granule-metadata", "granule_metadata":
			granule = parentURL(a.Href)
			continue
		}
		band := normalize(key)
		if band == "" {
			continue
		}
		assets[band] = domain.Asset{Href: a.Href, Type: a.Type}
	}

	return domain.Item{
		ID:          f.ID,
		TileID:      tileIDOf(f),
		Datetime:    ts.UTC(),
		CloudCover:  cloud,
		Geometry:    f.Geometry,
		Assets:      assets,
		GranuleHref: granule,
	}, nil
}

func tileIDOf(f stacFeature) string {
	if t := strings.TrimSpace(f.Properties.MGRSTile); t != "" {
		return t
	}
	if g := strings.TrimSpace(f.Properties.GridCode); g != "" {
		return strings.TrimPrefix(g, "MGRS-")
	}
	if t := strings.TrimSpace(f.Properties.SentinelID); t != "" {
		return t
	}
	return f.ID
}

// parentURL 返回 href 去掉最后一段后的目录 URL（保留尾部 '/'）。
func parentURL(href string) string {
	i := strings.LastIndex(href, "/")
	if i < 0 {
		return ""
	}
	return href[:i+1]
}

// toItems 批量转换并按 datetime 降序（新→旧）排序；单条坏 feature 整批报错，
// 坏响应宁可让 provider 降级也不要混入半解析的条目。
func toItems(features []stacFeature, normalize func(string) string) ([]domain.Item, error) {
	items := make([]domain.Item, 0, len(features))
	for _, f := range features {
		it, err := toItem(f, normalize)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Datetime.After(items[j].Datetime)
	})
	return items, nil
}

// filter10m 丢弃缺少 10m 核心波段（B02/B03/B04/B08）资产的条目。
func filter10m(items []domain.Item) []domain.Item {
	out := items[:0]
	for _, it := range items {
		ok := true
		for _, b := range []string{"B02", "B03", "B04", "B08"} {
			if _, has := it.Assets[b]; !has {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, it)
		}
	}
	return out
}

// nextLink 返回 rel=next 的分页链接；没有则返回零值。
func (fc stacFeatureCollection) nextLink() (stacLink, bool) {
	for _, l := range fc.Links {
		if l.Rel == "next" && strings.TrimSpace(l.Href) != "" {
			return l, true
		}
	}
	return stacLink{}, false
}
