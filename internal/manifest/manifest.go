// Package manifest 生成堆叠产物旁的 manifest.json：记录这个 stack 是
// 由哪些波段、什么模式、落在什么网格上生成的，供下游 GIS 流程溯源。
package manifest

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/S2DL/internal/domain"
	"github.com/John-Robertt/S2DL/internal/infra/fsx"
	"github.com/John-Robertt/S2DL/internal/raster"
)

// Manifest 是对外稳定输出（manifest.json）的结构。
// 字段一旦发布不可更名；新增字段必须可省略。
type Manifest struct {
	RunID string `json:"run_id"`

	ItemID     string  `json:"item_id"`
	TileID     string  `json:"tile_id"`
	Date       string  `json:"date"`
	CloudCover float64 `json:"cloud_cover"`
	Provider   string  `json:"provider"`

	Mode  string `json:"mode"`
	Bands []Band `json:"bands"`

	Grid      Grid      `json:"grid"`
	StackPath string    `json:"stack_path"`
	CreatedAt time.Time `json:"created_at"`
}

type Band struct {
	Band       string `json:"band"`
	Resolution int    `json:"resolution_m"`
	Path       string `json:"path"`
}

type Grid struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Transform  [6]float64 `json:"transform"`
	Projection string     `json:"projection"`
	PixelSize  float64    `json:"pixel_size"`
}

// Build 从瓦片处理结果与堆叠输出的元数据组装 Manifest。
// 波段顺序沿用 bands 的输入顺序（与 stack 里的波段序一致）。
func Build(runID string, it domain.Item, provider, mode string, bands []domain.BandResult, stackPath string, m raster.Meta) Manifest {
	bs := make([]Band, 0, len(bands))
	for _, b := range bands {
		bs = append(bs, Band{Band: b.Band, Resolution: b.Resolution, Path: filepath.Base(b.Path)})
	}
	return Manifest{
		RunID:      runID,
		ItemID:     it.ID,
		TileID:     it.TileID,
		Date:       it.DateString(),
		CloudCover: it.CloudCover,
		Provider:   provider,
		Mode:       mode,
		Bands:      bs,
		Grid: Grid{
			Width:      m.Width,
			Height:     m.Height,
			Transform:  m.Transform,
			Projection: m.Projection,
			PixelSize:  m.PixelSize(),
		},
		StackPath: filepath.Base(stackPath),
		CreatedAt: time.Now().UTC(),
	}
}

// Write 把 manifest 原子写到 stack 同目录下的 manifest.json。
func Write(mf Manifest, stackDir string) (string, error) {
	b, err := Encode(mf)
	if err != nil {
		return "", err
	}
	if err := fsx.WriteFileAtomicReplace(stackDir, "manifest.json", b); err != nil {
		return "", err
	}
	return filepath.Join(stackDir, "manifest.json"), nil
}

// Encode 输出带缩进、末尾换行的稳定 JSON。
func Encode(mf Manifest) ([]byte, error) {
	mf.CreatedAt = mf.CreatedAt.UTC()
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(mf); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
