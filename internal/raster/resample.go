package raster

import (
	"fmt"
	"strconv"

	"github.com/airbusgeo/godal"
)

// block 是读入内存的单波段像素块（与 grid 尺寸一致，按行优先存放）。
// 只支持本域会出现的采样类型；混合类型的波段组不受支持（已知限制）。
type block struct {
	dtype godal.DataType
	u8    []uint8
	u16   []uint16
	i16   []int16
	f32   []float32
}

func newBlock(dtype godal.DataType, n int) (block, error) {
	b := block{dtype: dtype}
	switch dtype {
	case godal.Byte:
		b.u8 = make([]uint8, n)
	case godal.UInt16:
		b.u16 = make([]uint16, n)
	case godal.Int16:
		b.i16 = make([]int16, n)
	case godal.Float32:
		b.f32 = make([]float32, n)
	default:
		return block{}, fmt.Errorf("不支持的采样类型：%v（仅支持 Byte/UInt16/Int16/Float32）", dtype)
	}
	return b, nil
}

// buf 返回可直接交给 godal RasterIO 的类型化切片。
func (b block) buf() interface{} {
	switch b.dtype {
	case godal.Byte:
		return b.u8
	case godal.UInt16:
		return b.u16
	case godal.Int16:
		return b.i16
	default:
		return b.f32
	}
}

// resampleBand 把一个波段对齐到目标网格，返回 grid 尺寸的像素块。
//
// 三条路径（按代价从低到高）：
// 1) 波段自身网格与目标网格完全一致：恒等拷贝（raw 读取，不引入插值模糊）
// 2) 同 CRS、不同网格：RasterIO 全窗口读取 + 双线性（整幅拉伸到目标尺寸；
//    extent 不一致只拉伸、不纠正）
// 3) 异 CRS：先 Warp 到目标网格（双线性，MEM 数据集），再恒等读取；
//    目标覆盖之外的像素为 dtype 的零值（不传播 nodata）
func resampleBand(ds *godal.Dataset, meta Meta, grid Grid) (block, error) {
	b, err := newBlock(meta.DataType, grid.Width*grid.Height)
	if err != nil {
		return block{}, err
	}

	src := ds
	srcMeta := meta
	if meta.Projection != grid.Projection {
		warped, werr := warpToGrid(ds, grid)
		if werr != nil {
			return block{}, werr
		}
		defer warped.Close()
		src = warped
		srcMeta, err = metaOf(warped, "<warped>")
		if err != nil {
			return block{}, err
		}
	}

	band := src.Bands()[0]

	if srcMeta.Grid().Equal(grid) {
		// 恒等路径：不指定重采样算法，按原始像素逐一拷贝。
		if err := band.Read(0, 0, b.buf(), grid.Width, grid.Height); err != nil {
			return block{}, fmt.Errorf("读取波段失败: %w", err)
		}
		return b, nil
	}

	err = band.Read(0, 0, b.buf(), grid.Width, grid.Height,
		godal.Window(srcMeta.Width, srcMeta.Height),
		godal.Resampling(godal.Bilinear),
	)
	if err != nil {
		return block{}, fmt.Errorf("重采样读取失败: %w", err)
	}
	return b, nil
}

// warpToGrid 把数据集重投影到目标网格（-te/-ts 精确钉住范围与尺寸）。
func warpToGrid(ds *godal.Dataset, grid Grid) (*godal.Dataset, error) {
	bounds := grid.Bounds()
	switches := []string{
		"-of", "MEM",
		"-t_srs", grid.Projection,
		"-te",
		strconv.FormatFloat(bounds[0], 'f', -1, 64),
		strconv.FormatFloat(bounds[1], 'f', -1, 64),
		strconv.FormatFloat(bounds[2], 'f', -1, 64),
		strconv.FormatFloat(bounds[3], 'f', -1, 64),
		"-ts",
		strconv.Itoa(grid.Width),
		strconv.Itoa(grid.Height),
		"-r", "bilinear",
	}
	out, err := ds.Warp("", switches)
	if err != nil {
		return nil, fmt.Errorf("重投影失败: %w", err)
	}
	return out, nil
}
