package config

// Presets 是只读的波段预设表（preset 名 → 有序波段列表）与波段原生分辨率表。
//
// 约束：
// - 构造后不可变：所有访问方法返回拷贝，禁止调用方改写内部表
// - 波段顺序有语义（决定 stack 输出的波段顺序），必须保序
// - 不做进程级全局可变状态：由上层构造并注入
type Presets struct {
	bands map[string][]string
	res   map[string]int
}

// DefaultPresets 返回内置的 Sentinel-2 L2A 预设表。
func DefaultPresets() Presets {
	return Presets{
		bands: map[string][]string{
			"RGB":       {"B04", "B03", "B02"},
			"VISUAL":    {"visual"},
			"NIR":       {"B08"},
			"NDVI":      {"B08", "B04"},
			"NDWI":      {"B03", "B08"},
			"SWIR":      {"B11", "B12"},
			"RE_ALL":    {"B05", "B06", "B07", "B8A"},
			"ALL_10M":   {"B02", "B03", "B04", "B08"},
			"ALL_20M":   {"B05", "B06", "B07", "B8A", "B11", "B12"},
			"ALL_60M":   {"B01", "B09", "B10"},
			"ALL_BANDS": {"B01", "B02", "B03", "B04", "B05", "B06", "B07", "B08", "B8A", "B09", "B10", "B11", "B12", "SCL"},
		},
		res: map[string]int{
			"B01": 60, "B02": 10, "B03": 10, "B04": 10,
			"B05": 20, "B06": 20, "B07": 20, "B08": 10,
			"B8A": 20, "B09": 60, "B10": 60, "B11": 20,
			"B12": 20, "SCL": 60,
			// visual 是 10m 的 true-color 合成资产。
			"visual": 10,
		},
	}
}

// Bands 返回 preset 对应的有序波段列表（拷贝）。
// preset 未知或波段列表为空返回 ok=false。
func (p Presets) Bands(preset string) ([]string, bool) {
	b, ok := p.bands[preset]
	if !ok || len(b) == 0 {
		return nil, false
	}
	return append([]string(nil), b...), true
}

// Resolution 返回波段的原生分辨率（米）。未知波段按 10m 兜底（与原始数据源一致）。
func (p Presets) Resolution(band string) int {
	if r, ok := p.res[band]; ok {
		return r
	}
	return 10
}

// MinResolution 返回一组波段里最小（最精细）的原生分辨率。
// 空列表返回 0（调用方应先做非空校验）。
func (p Presets) MinResolution(bands []string) int {
	min := 0
	for _, b := range bands {
		r := p.Resolution(b)
		if min == 0 || r < min {
			min = r
		}
	}
	return min
}

// Names 返回全部 preset 名（排序由调用方决定；这里不保证顺序）。
func (p Presets) Names() []string {
	out := make([]string, 0, len(p.bands))
	for k := range p.bands {
		out = append(out, k)
	}
	return out
}
