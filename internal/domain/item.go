package domain

import (
	"time"

	"github.com/paulmach/orb/geojson"
)

// Asset 是目录（catalog）返回的单个可下载资源引用。
// Href 可能已带签名参数（planetary），下载层不得修改其语义。
type Asset struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Item 是一次 STAC 检索得到的单个瓦片条目（一个 tile + 一个采集日期的全部波段）。
//
// 约束：
// - Assets 以波段标识（B02/B03/.../SCL）为 key；provider 负责把站点命名归一化到 Bxx
// - Geometry 允许为 nil（部分目录不返回几何）；消费方必须判空
// - CloudCover 取值 [0,100]；目录缺失时由 provider 填 100（最差值，排序时垫底）
type Item struct {
	ID         string
	TileID     string
	Datetime   time.Time
	CloudCover float64
	Geometry   *geojson.Geometry
	Assets     map[string]Asset

	// GranuleHref 是可选的“目录式”资源根（HTTP index 页面）。
	// 当 Assets 缺少某个波段时，下载层可据此做 HTML 目录枚举兜底。
	GranuleHref string
}

// DateString 返回 YYYY-MM-DD（report/文件名用）。零值时间返回 "unknown"。
func (it Item) DateString() string {
	if it.Datetime.IsZero() {
		return "unknown"
	}
	return it.Datetime.UTC().Format("2006-01-02")
}

// Query 是目录检索的统一入参（provider 无关）。
//
// 不变量（由 config 层校验，provider 直接信任）：
// - BBox = [minLon, minLat, maxLon, maxLat] 且 min < max
// - Start <= End
// - MaxCloud ∈ (0,100]；Limit >= 1
type Query struct {
	BBox     [4]float64
	Start    time.Time
	End      time.Time
	MaxCloud float64
	Limit    int

	// Filter10mOnly 为 true 时剔除缺失 B02/B03/B04/B08 任一波段的条目。
	Filter10mOnly bool
}
