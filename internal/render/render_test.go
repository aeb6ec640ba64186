package render

import (
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"

	"github.com/John-Robertt/S2DL/internal/raster"
)

// writeStack 生成一个 w×h 的多波段 UInt16 GeoTIFF，fill(band, x, y) 给出像素值。
func writeStack(t *testing.T, path string, nBands, w, h int, fill func(b, x, y int) uint16) {
	t.Helper()
	raster.Register()

	ds, err := godal.Create(godal.GTiff, path, nBands, godal.UInt16, w, h)
	if err != nil {
		t.Fatalf("创建测试栅格失败：%v", err)
	}
	if err := ds.SetGeoTransform([6]float64{600000, 10, 0, 5200000, 0, -10}); err != nil {
		t.Fatalf("写 geotransform 失败：%v", err)
	}
	for b, band := range ds.Bands() {
		buf := make([]uint16, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				buf[y*w+x] = fill(b, x, y)
			}
		}
		if err := band.Write(0, 0, buf, w, h); err != nil {
			t.Fatalf("写第 %d 波段失败：%v", b+1, err)
		}
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("关闭失败：%v", err)
	}
}

func decodePNG(t *testing.T, path string) (w, h int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开 PNG 失败：%v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("解码 PNG 失败：%v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestRGB_WritesPNGBesideStack(t *testing.T) {
	dir := t.TempDir()
	stack := filepath.Join(dir, "B04_B03_B02_20230610_T32TMR_10m_stack.tif")
	writeStack(t, stack, 3, 16, 16, func(b, x, y int) uint16 {
		return uint16(100*(b+1) + x + y)
	})

	out, err := RGB(stack, [3]int{1, 2, 3}, Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := filepath.Join(dir, "B04_B03_B02_20230610_T32TMR_10m_stack.rgb.png")
	if out != want {
		t.Fatalf("输出命名不正确：%q", out)
	}
	if w, h := decodePNG(t, out); w != 16 || h != 16 {
		t.Fatalf("PNG 尺寸不正确：%dx%d", w, h)
	}
}

func TestRGB_BandIndexOutOfRange(t *testing.T) {
	dir := t.TempDir()
	stack := filepath.Join(dir, "stack.tif")
	writeStack(t, stack, 2, 4, 4, func(b, x, y int) uint16 { return 1 })

	_, err := RGB(stack, [3]int{1, 2, 3}, Options{})
	var re *Error
	if !errors.As(err, &re) || re.Kind != "rgb" {
		t.Fatalf("期望 render.Error，实际=%v", err)
	}
}

func TestNDVI_ColormapEndpoints(t *testing.T) {
	dir := t.TempDir()
	stack := filepath.Join(dir, "stack.tif")
	// 左半 nir=8000 red=1000（高植被），右半 nir=1000 red=8000（裸地/水）。
	writeStack(t, stack, 2, 8, 8, func(b, x, y int) uint16 {
		high := x < 4
		if (b == 0) == high {
			return 8000
		}
		return 1000
	})

	out, err := NDVI(stack, 1, 2)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	f, _ := os.Open(out)
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("解码失败：%v", err)
	}
	lr, lg, _, _ := img.At(0, 0).RGBA()
	rr, rg, _, _ := img.At(7, 0).RGBA()
	// 高 NDVI 偏绿，低 NDVI 偏红。
	if lg <= lr {
		t.Fatalf("高植被像素应偏绿：r=%d g=%d", lr>>8, lg>>8)
	}
	if rr <= rg {
		t.Fatalf("低植被像素应偏红：r=%d g=%d", rr>>8, rg>>8)
	}
}

func TestForPreset(t *testing.T) {
	dir := t.TempDir()
	stack := filepath.Join(dir, "stack.tif")
	writeStack(t, stack, 3, 4, 4, func(b, x, y int) uint16 { return uint16(10 * (b + 1)) })

	outs, err := ForPreset(stack, "RGB", Options{})
	if err != nil || len(outs) != 1 {
		t.Fatalf("RGB 渲染不正确：%v err=%v", outs, err)
	}

	// 没有约定可视化的预设：什么都不产出、不报错。
	outs, err = ForPreset(stack, "SWIR", Options{})
	if err != nil || outs != nil {
		t.Fatalf("SWIR 不应产出渲染：%v err=%v", outs, err)
	}

	ndwiStack := filepath.Join(dir, "ndwi.tif")
	writeStack(t, ndwiStack, 2, 4, 4, func(b, x, y int) uint16 { return uint16(10 * (b + 1)) })
	outs, err = ForPreset(ndwiStack, "NDWI", Options{})
	if err != nil || len(outs) != 1 || filepath.Base(outs[0]) != "ndwi.ndwi.png" {
		t.Fatalf("NDWI 渲染不正确：%v err=%v", outs, err)
	}
}

func TestStretch(t *testing.T) {
	vals := make([]float32, 100)
	for i := range vals {
		vals[i] = float32(i)
	}
	out := stretch(vals, 2, 98)
	// 低于下百分位截断到 0，高于上百分位截断到 1。
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("下界截断不正确：%v %v", out[0], out[1])
	}
	if out[99] != 1 || out[98] != 1 {
		t.Fatalf("上界截断不正确：%v %v", out[98], out[99])
	}
	mid := out[50]
	if mid < 0.45 || mid > 0.55 {
		t.Fatalf("中位拉伸不正确：%v", mid)
	}

	// 常值输入不得除零。
	flat := stretch([]float32{5, 5, 5}, 2, 98)
	for _, v := range flat {
		if v != 0 {
			t.Fatalf("常值输入应输出 0：%v", flat)
		}
	}
}

func TestApplyGamma(t *testing.T) {
	vals := []float64{0, 0.25, 1}
	applyGamma(vals, 2)
	if vals[0] != 0 || vals[2] != 1 {
		t.Fatalf("端点应不变：%v", vals)
	}
	if math.Abs(vals[1]-0.5) > 1e-9 {
		t.Fatalf("0.25^(1/2) 应为 0.5，实际=%v", vals[1])
	}
}

func TestEqualize_MonotoneAndFullRange(t *testing.T) {
	vals := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	out := equalize(vals)
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("均衡结果必须单调：%v", out)
		}
	}
	if out[len(out)-1] != 1 {
		t.Fatalf("最大值应映射到 1：%v", out)
	}
}

func TestRampEndpoints(t *testing.T) {
	if c := rdYlGn.at(0); c != rdYlGn[0] {
		t.Fatalf("t=0 应取首锚点：%v", c)
	}
	if c := rdYlGn.at(1); c != rdYlGn[len(rdYlGn)-1] {
		t.Fatalf("t=1 应取末锚点：%v", c)
	}
	if c := blues.at(2); c != blues[len(blues)-1] {
		t.Fatalf("越界应截断：%v", c)
	}
}
