package raster

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/rs/zerolog/log"
)

// Stack 把一组单波段栅格按输入顺序堆叠为一个多波段 GeoTIFF。
//
// 语义（与上层的 skip/overwrite 策略解耦）：
// - paths 为空：返回 ErrEmptyStack，不产生任何输出
// - outPath 已存在：本层无条件覆盖；“是否跳过已有产物”由规划层决定
// - 单线程、同步执行：所有波段的目标尺寸数组同时驻留内存（O(N×H×W)）
// - 写入失败不清理半成品文件（已接受的缺口，重跑会整体覆盖）
func Stack(paths []string, outPath string, mode Mode) (string, error) {
	Register()

	if len(paths) == 0 {
		return "", ErrEmptyStack
	}

	metas := make([]Meta, len(paths))
	for i, p := range paths {
		m, err := ReadMeta(p)
		if err != nil {
			return "", err
		}
		metas[i] = m
	}

	// 本实现假设波段组 dtype 一致（混合 dtype 不受支持）。
	for i := 1; i < len(metas); i++ {
		if metas[i].DataType != metas[0].DataType {
			return "", fmt.Errorf("波段采样类型不一致：%q 是 %v，%q 是 %v（混合 dtype 不受支持）",
				paths[0], metas[0].DataType, paths[i], metas[i].DataType)
		}
	}

	grid, ref, err := ResolveGrid(metas, mode)
	if err != nil {
		return "", err
	}

	log.Debug().
		Str("mode", mode.String()).
		Int("bands", len(paths)).
		Int("ref", ref).
		Float64("pixel_size", grid.PixelSize()).
		Int("width", grid.Width).
		Int("height", grid.Height).
		Msg("堆叠目标网格已确定")

	blocks := make([]block, len(paths))
	for i, p := range paths {
		ds, oerr := godal.Open(p)
		if oerr != nil {
			return "", fmt.Errorf("打开栅格失败 %q: %w", p, oerr)
		}
		b, rerr := resampleBand(ds, metas[i], grid)
		cerr := ds.Close()
		if rerr != nil {
			return "", fmt.Errorf("波段 %q: %w", p, rerr)
		}
		if cerr != nil {
			return "", fmt.Errorf("关闭栅格失败 %q: %w", p, cerr)
		}
		blocks[i] = b
	}

	if err := writeStack(grid, metas[0].DataType, blocks, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// writeStack 把已对齐的像素块写为多波段 GeoTIFF（波段 1-based，顺序 = 输入顺序）。
func writeStack(grid Grid, dtype godal.DataType, blocks []block, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	ds, err := godal.Create(godal.GTiff, outPath, len(blocks), dtype, grid.Width, grid.Height,
		godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE"))
	if err != nil {
		return fmt.Errorf("创建输出栅格失败 %q: %w", outPath, err)
	}

	fail := func(e error) error {
		_ = ds.Close()
		return e
	}

	if err := ds.SetGeoTransform(grid.Transform); err != nil {
		return fail(fmt.Errorf("写入 geotransform 失败: %w", err))
	}
	if grid.Projection != "" {
		if err := ds.SetProjection(grid.Projection); err != nil {
			return fail(fmt.Errorf("写入投影失败: %w", err))
		}
	}

	bands := ds.Bands()
	for i := range blocks {
		if err := bands[i].Write(0, 0, blocks[i].buf(), grid.Width, grid.Height); err != nil {
			return fail(fmt.Errorf("写入第 %d 波段失败: %w", i+1, err))
		}
	}

	if err := ds.Close(); err != nil {
		return fmt.Errorf("落盘失败 %q: %w", outPath, err)
	}
	return nil
}
