package raster

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	ModeNative  = "native"
	ModeHighest = "highest"
	ModeCustom  = "custom"
)

// 自定义分辨率与波段原生分辨率的判等容差（米）。
const resolutionEpsilon = 1e-6

// Mode 是堆叠的重采样模式。
//
// - native：所有波段保持各自网格（前提：它们本来就共享同一网格）
// - highest：全部重采样到像元最小（分辨率最高）的波段网格
// - custom：全部重采样到给定分辨率的新网格（锚定第一个波段的原点/CRS）
type Mode struct {
	Kind       string
	Resolution float64 // 仅 Kind==custom 时有效，单位米，必须 > 0
}

// ParseMode 解析模式字符串：native | highest | custom:<正数>。
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	switch s {
	case ModeNative:
		return Mode{Kind: ModeNative}, nil
	case ModeHighest:
		return Mode{Kind: ModeHighest}, nil
	}
	if rest, ok := strings.CutPrefix(s, ModeCustom+":"); ok {
		r, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return Mode{}, fmt.Errorf("mode custom 的分辨率无效：%q", rest)
		}
		if r <= 0 {
			return Mode{}, fmt.Errorf("mode custom 的分辨率必须为正数，实际是 %v", r)
		}
		return Mode{Kind: ModeCustom, Resolution: r}, nil
	}
	return Mode{}, fmt.Errorf("mode 只能是 native、highest 或 custom:<分辨率>，实际是 %q", s)
}

// String 返回可写回配置/报告的模式字符串。
func (m Mode) String() string {
	if m.Kind == ModeCustom {
		return fmt.Sprintf("%s:%s", ModeCustom, strconv.FormatFloat(m.Resolution, 'f', -1, 64))
	}
	return m.Kind
}

// Grid 是堆叠输出必须共享的目标网格（每次堆叠操作临时推导，不落盘）。
type Grid struct {
	Width      int
	Height     int
	Transform  [6]float64 // GDAL 仿射六参数
	Projection string     // WKT
}

// PixelSize 返回 X 方向像元大小的绝对值（本域内视为各向同性）。
func (g Grid) PixelSize() float64 { return math.Abs(g.Transform[1]) }

// Bounds 返回 [minX, minY, maxX, maxY]（北朝上约定：Transform[5] 为负）。
func (g Grid) Bounds() [4]float64 {
	minX := g.Transform[0]
	maxY := g.Transform[3]
	maxX := minX + float64(g.Width)*g.Transform[1]
	minY := maxY + float64(g.Height)*g.Transform[5]
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	return [4]float64{minX, minY, maxX, maxY}
}

// Equal 判断两个网格是否一致（transform 按 1e-9 容差逐项比较）。
func (g Grid) Equal(o Grid) bool {
	if g.Width != o.Width || g.Height != o.Height || g.Projection != o.Projection {
		return false
	}
	for i := range g.Transform {
		if math.Abs(g.Transform[i]-o.Transform[i]) > 1e-9 {
			return false
		}
	}
	return true
}

// ResolveGrid 根据模式从全部波段元数据推导目标网格，并返回参考波段下标。
//
// 该函数是纯函数（不做任何 I/O），便于脱离 GDAL 单测。
//
// 约定：
// - native：目标网格 = 第一个波段元数据，原样；不校验其余波段是否同网格，
//   这是调用方必须保证的前置条件（误用会得到按像素位置错位的输出）
// - highest：参考 = 像元最小的波段；多个并列时取输入顺序中的第一个
//   （稳定选择，禁止依赖无序结构的遍历顺序）；范围不一致的波段会被拉伸到
//   参考尺寸（只对齐分辨率，不自动纠正 extent）
// - custom：参考 = 第一个原生分辨率等于 R（容差 1e-6）的波段，否则第一个；
//   transform 以 R 重建（y 轴取负，北朝上），尺寸按 refPx/R 缩放后截断取整
func ResolveGrid(metas []Meta, mode Mode) (Grid, int, error) {
	if len(metas) == 0 {
		return Grid{}, 0, ErrEmptyStack
	}

	switch mode.Kind {
	case ModeNative:
		return metas[0].Grid(), 0, nil

	case ModeHighest:
		ref := 0
		for i := 1; i < len(metas); i++ {
			if metas[i].PixelSize() < metas[ref].PixelSize() {
				ref = i
			}
		}
		return metas[ref].Grid(), ref, nil

	case ModeCustom:
		if mode.Resolution <= 0 {
			return Grid{}, 0, fmt.Errorf("custom 分辨率必须为正数，实际是 %v", mode.Resolution)
		}
		ref := 0
		for i := range metas {
			if math.Abs(metas[i].PixelSize()-mode.Resolution) < resolutionEpsilon {
				ref = i
				break
			}
		}
		m := metas[ref]
		scale := m.PixelSize() / mode.Resolution
		g := Grid{
			Width:      int(float64(m.Width) * scale),
			Height:     int(float64(m.Height) * scale),
			Projection: m.Projection,
		}
		g.Transform = m.Transform
		g.Transform[1] = mode.Resolution
		g.Transform[5] = -mode.Resolution
		if g.Width < 1 {
			g.Width = 1
		}
		if g.Height < 1 {
			g.Height = 1
		}
		return g, ref, nil
	}

	return Grid{}, 0, fmt.Errorf("未知 mode：%q", mode.Kind)
}
