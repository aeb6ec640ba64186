package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/John-Robertt/S2DL/internal/raster"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 s2dl.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// DefaultProvider 是目录 provider 的最终默认值（CLI 与配置文件都未指定时）。
	DefaultProvider = "planetary"
	// DefaultPreset 是波段预设的内置默认值。
	DefaultPreset = "RGB"
	// DefaultMode 是堆叠模式的内置默认值。
	DefaultMode = "native"
	// DefaultMaxCloud 是云量过滤阈值的内置默认值（百分比）。
	DefaultMaxCloud = 20.0
	// DefaultLimit 是检索条数上限的内置默认值。
	DefaultLimit = 50
	// DefaultTiles 是取最少云量瓦片个数的内置默认值。
	DefaultTiles = 3
	// DefaultConcurrency 是瓦片级并发的内置默认值。
	DefaultConcurrency = 2
)

// CLIArgs 只包含 CLI 暴露的入口（path/preset/mode/overwrite），并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --overwrite=false 必须能覆盖 config.overwrite=true。
type CLIArgs struct {
	Path string

	Preset    string
	PresetSet bool

	Mode    string
	ModeSet bool

	Overwrite    bool
	OverwriteSet bool
}

// FileConfig 对应 s2dl.json 的解析结构。
type FileConfig struct {
	Path string `json:"path"`

	BBox      []float64 `json:"bbox"` // [minLon, minLat, maxLon, maxLat]
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`

	Provider string   `json:"provider"`
	MaxCloud *float64 `json:"max_cloud"`
	Limit    int      `json:"limit"`
	Tiles    int      `json:"tiles"`

	Preset    string `json:"preset"`
	Mode      string `json:"mode"`
	Overwrite *bool  `json:"overwrite"`
	Render    *bool  `json:"render"`

	Concurrency   int  `json:"concurrency"`
	Filter10mOnly bool `json:"filter_10m_only"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path string

	BBox  [4]float64
	Start time.Time
	End   time.Time

	Provider string
	MaxCloud float64
	Limit    int
	Tiles    int

	Preset string
	Bands  []string // 由 preset 解出的有序波段列表
	Mode   raster.Mode

	Overwrite bool
	Render    bool

	Concurrency   int
	Filter10mOnly bool

	Presets Presets
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/s2dl.json（可选，但 bbox/日期只能来自它）
// 2) CLI 未提供 path：必须读取 <cwd>/s2dl.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path：CLI path > config path
// - preset/mode/overwrite：CLI > config > 默认
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/s2dl.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(absPath, "s2dl.json")

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/s2dl.json，且其中必须包含 path。
	cfgPath := filepath.Join(cwdAbs, "s2dl.json")
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	bad := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// bbox/日期没有 CLI 参数，必须来自配置文件。
	if len(fc.BBox) != 4 {
		return bad(fmt.Errorf("bbox 必须是 [minLon, minLat, maxLon, maxLat]，实际有 %d 项", len(fc.BBox)))
	}
	var bbox [4]float64
	copy(bbox[:], fc.BBox)
	bound := orb.Bound{
		Min: orb.Point{bbox[0], bbox[1]},
		Max: orb.Point{bbox[2], bbox[3]},
	}
	if bound.IsEmpty() {
		return bad(fmt.Errorf("bbox 无效（要求 min < max）：%v", fc.BBox))
	}
	if bbox[0] < -180 || bbox[2] > 180 || bbox[1] < -90 || bbox[3] > 90 {
		return bad(fmt.Errorf("bbox 超出经纬度范围：%v", fc.BBox))
	}

	start, err := parseDate(fc.StartDate)
	if err != nil {
		return bad(fmt.Errorf("start_date 无效：%w", err))
	}
	end, err := parseDate(fc.EndDate)
	if err != nil {
		return bad(fmt.Errorf("end_date 无效：%w", err))
	}
	if end.Before(start) {
		return bad(fmt.Errorf("end_date %q 早于 start_date %q", fc.EndDate, fc.StartDate))
	}

	provider := DefaultProvider
	if strings.TrimSpace(fc.Provider) != "" {
		provider = strings.ToLower(strings.TrimSpace(fc.Provider))
	}
	switch provider {
	case "planetary", "earthsearch":
		// ok
	default:
		return bad(fmt.Errorf("provider 只能是 planetary 或 earthsearch，实际是 %q", provider))
	}

	maxCloud := DefaultMaxCloud
	if fc.MaxCloud != nil {
		maxCloud = *fc.MaxCloud
	}
	if maxCloud <= 0 || maxCloud > 100 {
		return bad(fmt.Errorf("max_cloud 必须在 (0,100] 区间，实际是 %v", maxCloud))
	}

	limit := fc.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 {
		return bad(fmt.Errorf("limit 必须 >= 1，实际是 %d", limit))
	}

	tiles := fc.Tiles
	if tiles == 0 {
		tiles = DefaultTiles
	}
	if tiles < 1 {
		return bad(fmt.Errorf("tiles 必须 >= 1，实际是 %d", tiles))
	}

	// preset：CLI > config > 默认；必须存在于预设表且波段列表非空。
	presets := DefaultPresets()
	preset := DefaultPreset
	if cli.PresetSet {
		preset = cli.Preset
	} else if strings.TrimSpace(fc.Preset) != "" {
		preset = strings.TrimSpace(fc.Preset)
	}
	bands, ok := presets.Bands(preset)
	if !ok {
		return bad(fmt.Errorf("未知 preset：%q", preset))
	}

	// mode：CLI > config > 默认；解析即校验（custom 分辨率必须为正）。
	modeStr := DefaultMode
	if cli.ModeSet {
		modeStr = cli.Mode
	} else if strings.TrimSpace(fc.Mode) != "" {
		modeStr = strings.TrimSpace(fc.Mode)
	}
	mode, err := raster.ParseMode(modeStr)
	if err != nil {
		return bad(err)
	}

	// overwrite：CLI > config > 默认 false。
	overwrite := false
	if cli.OverwriteSet {
		overwrite = cli.Overwrite
	} else if fc.Overwrite != nil {
		overwrite = *fc.Overwrite
	}

	render := true
	if fc.Render != nil {
		render = *fc.Render
	}

	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 范围建议 [1, 8]；超出截断（下载对端是公共服务，并发不宜过高）。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 8 {
		concurrency = 8
	}

	return EffectiveConfig{
		Path:          absPath,
		BBox:          bbox,
		Start:         start,
		End:           end,
		Provider:      provider,
		MaxCloud:      maxCloud,
		Limit:         limit,
		Tiles:         tiles,
		Preset:        preset,
		Bands:         bands,
		Mode:          mode,
		Overwrite:     overwrite,
		Render:        render,
		Concurrency:   concurrency,
		Filter10mOnly: fc.Filter10mOnly,
		Presets:       presets,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("不能为空（格式 YYYY-MM-DD）")
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q 不是 YYYY-MM-DD", s)
	}
	return t, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
