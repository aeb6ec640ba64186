package planner

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/S2DL/internal/config"
	"github.com/John-Robertt/S2DL/internal/domain"
	"github.com/John-Robertt/S2DL/internal/raster"
)

// TileState 是 <path>/<itemID>/ 目录的现状（只做 ReadDir，不读文件内容）。
type TileState struct {
	TileDir       string
	ExistingNames map[string]struct{}
}

// ReadTileState 读取瓦片输出目录的现状。目录不存在返回空状态且不报错。
func ReadTileState(root, itemID string) (TileState, error) {
	tileDir := filepath.Join(root, itemID)
	st := TileState{
		TileDir:       tileDir,
		ExistingNames: map[string]struct{}{},
	}

	entries, err := os.ReadDir(tileDir)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return TileState{}, err
	}
	for _, e := range entries {
		st.ExistingNames[e.Name()] = struct{}{}
	}
	return st, nil
}

// TilePlan 是单个瓦片的确定性执行计划（不做任何写入）。
//
// 波段级的 skip 判断不在这里：下载层对照磁盘逐个波段决定，
// 计划层只对聚合产物（stack/渲染）做决策。
type TilePlan struct {
	TileDir string

	StackName string // 约定文件名，如 B04_B03_B02_20230610_T32TMR_10m_stack.tif
	NeedStack bool

	RenderNames []string // 预设约定的渲染文件名（可为空）
	NeedRenders bool
}

// StackPath 返回 stack 的绝对路径。
func (p TilePlan) StackPath() string { return filepath.Join(p.TileDir, p.StackName) }

// PlanTile 基于条目、预设与目录现状生成执行计划。
//
// 规则：
// - stack 已存在且未开 overwrite：跳过堆叠
// - stack 要重建时渲染必须跟着重建（内容可能已变化）
// - 渲染只在 render=true 且预设有约定可视化（RGB/NDVI/NDWI）时产出
func PlanTile(it domain.Item, eff config.EffectiveConfig, st TileState) TilePlan {
	p := TilePlan{
		TileDir:   st.TileDir,
		StackName: StackName(it, eff.Bands, eff.Presets, eff.Mode),
	}

	_, stackExists := st.ExistingNames[p.StackName]
	p.NeedStack = eff.Overwrite || !stackExists

	p.RenderNames = renderNames(p.StackName, eff.Preset, eff.Render)
	if len(p.RenderNames) > 0 {
		if p.NeedStack || eff.Overwrite {
			p.NeedRenders = true
		} else {
			for _, n := range p.RenderNames {
				if _, ok := st.ExistingNames[n]; !ok {
					p.NeedRenders = true
					break
				}
			}
		}
	}
	return p
}

// StackName 按约定拼出堆叠文件名：
// <band1>_<band2>..._<YYYYMMDD>_<短瓦片号>_<分辨率>m_stack.tif。
func StackName(it domain.Item, bands []string, presets config.Presets, mode raster.Mode) string {
	bandToken := strings.Join(bands, "_")
	date := strings.ReplaceAll(it.DateString(), "-", "")
	return bandToken + "_" + date + "_" + shortTileID(it) + "_" + ResLabel(bands, presets, mode) + "m_stack.tif"
}

// ResLabel 返回文件名里的分辨率标记：custom 用目标分辨率，
// native/highest 用波段组里最精细的原生分辨率。
func ResLabel(bands []string, presets config.Presets, mode raster.Mode) string {
	if mode.Kind == raster.ModeCustom {
		return strconv.FormatFloat(mode.Resolution, 'f', -1, 64)
	}
	return strconv.Itoa(presets.MinResolution(bands))
}

// mgrsToken 形如 T32TMR（条目 ID 里的短瓦片段）。
var mgrsToken = regexp.MustCompile(`^T[0-9]{2}[A-Z]{3}$`)

// shortTileID 从条目 ID 里取短瓦片号（S2A_MSIL2A_..._T32TMR_... 的倒数第二段）；
// ID 不符合命名惯例时回退到 "T"+TileID。
func shortTileID(it domain.Item) string {
	parts := strings.Split(it.ID, "_")
	if len(parts) >= 2 {
		if tok := parts[len(parts)-2]; mgrsToken.MatchString(tok) {
			return tok
		}
	}
	if it.TileID != "" {
		return "T" + it.TileID
	}
	return it.ID
}

func renderNames(stackName, preset string, render bool) []string {
	if !render {
		return nil
	}
	base := strings.TrimSuffix(stackName, ".tif")
	switch strings.ToUpper(preset) {
	case "RGB":
		return []string{base + ".rgb.png"}
	case "NDVI":
		return []string{base + ".ndvi.png"}
	case "NDWI":
		return []string{base + ".ndwi.png"}
	}
	return nil
}
