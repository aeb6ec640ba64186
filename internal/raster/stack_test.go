package raster

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
)

// writeBand 生成一个 w×h、像元 px 米的单波段 UInt16 GeoTIFF（UTM 31N 原点固定）。
// fill(x, y) 给出每个像素的值，便于在断言里反推。
func writeBand(t *testing.T, path string, w, h int, px float64, fill func(x, y int) uint16) {
	t.Helper()
	Register()

	ds, err := godal.Create(godal.GTiff, path, 1, godal.UInt16, w, h)
	if err != nil {
		t.Fatalf("创建测试栅格失败：%v", err)
	}
	if err := ds.SetGeoTransform([6]float64{600000, px, 0, 5200000, 0, -px}); err != nil {
		t.Fatalf("写 geotransform 失败：%v", err)
	}
	if err := ds.SetProjection(utm31WKT(t)); err != nil {
		t.Fatalf("写投影失败：%v", err)
	}

	buf := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf[y*w+x] = fill(x, y)
		}
	}
	if err := ds.Bands()[0].Write(0, 0, buf, w, h); err != nil {
		t.Fatalf("写像素失败：%v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("关闭失败：%v", err)
	}
}

func utm31WKT(t *testing.T) string {
	t.Helper()
	sr, err := godal.NewSpatialRefFromEPSG(32631)
	if err != nil {
		t.Fatalf("构造 EPSG:32631 失败：%v", err)
	}
	defer sr.Close()
	wkt, err := sr.WKT()
	if err != nil {
		t.Fatalf("导出 WKT 失败：%v", err)
	}
	return wkt
}

func readBandU16(t *testing.T, path string, idx, w, h int) []uint16 {
	t.Helper()
	ds, err := godal.Open(path)
	if err != nil {
		t.Fatalf("打开 %q 失败：%v", path, err)
	}
	defer ds.Close()
	buf := make([]uint16, w*h)
	if err := ds.Bands()[idx].Read(0, 0, buf, w, h); err != nil {
		t.Fatalf("读第 %d 波段失败：%v", idx+1, err)
	}
	return buf
}

func TestStack_EmptyPaths(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.tif")
	_, err := Stack(nil, out, Mode{Kind: ModeNative})
	if !errors.Is(err, ErrEmptyStack) {
		t.Fatalf("期望 ErrEmptyStack，实际=%v", err)
	}
	if _, serr := os.Stat(out); !os.IsNotExist(serr) {
		t.Fatalf("空输入不允许产生输出文件")
	}
}

// 3 个同网格 10m 波段 native 堆叠 → 3 波段输出，逐像素恒等。
func TestStack_Native_IdentityValues(t *testing.T) {
	dir := t.TempDir()
	const w, h = 32, 32

	paths := make([]string, 3)
	for i := range paths {
		i := i
		paths[i] = filepath.Join(dir, "b"+string(rune('1'+i))+".tif")
		writeBand(t, paths[i], w, h, 10, func(x, y int) uint16 {
			return uint16(1000*(i+1) + y*w + x)
		})
	}

	out := filepath.Join(dir, "out", "stack.tif")
	got, err := Stack(paths, out, Mode{Kind: ModeNative})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got != out {
		t.Fatalf("期望返回 %q，实际=%q", out, got)
	}

	m, err := ReadMeta(out)
	if err != nil {
		t.Fatalf("读输出元数据失败：%v", err)
	}
	if m.Width != w || m.Height != h || m.PixelSize() != 10 {
		t.Fatalf("输出网格不正确：%+v", m)
	}

	for i := range paths {
		want := readBandU16(t, paths[i], 0, w, h)
		gotBand := readBandU16(t, out, i, w, h)
		for j := range want {
			if want[j] != gotBand[j] {
				t.Fatalf("第 %d 波段第 %d 像素不恒等：期望 %d 实际 %d", i+1, j, want[j], gotBand[j])
			}
		}
	}
}

// 10m 32×32 + 20m 16×16（同 extent）highest 堆叠 →
// 2 波段 10m 32×32；参考波段恒等拷贝，20m 波段双线性上采样。
func TestStack_Highest_UpsamplesCoarseBand(t *testing.T) {
	dir := t.TempDir()
	const w10, h10 = 32, 32
	const w20, h20 = 16, 16

	p10 := filepath.Join(dir, "b10.tif")
	writeBand(t, p10, w10, h10, 10, func(x, y int) uint16 { return uint16(y*w10 + x) })

	p20 := filepath.Join(dir, "b20.tif")
	writeBand(t, p20, w20, h20, 20, func(x, y int) uint16 { return 7000 })

	out := filepath.Join(dir, "stack.tif")
	if _, err := Stack([]string{p10, p20}, out, Mode{Kind: ModeHighest}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	m, err := ReadMeta(out)
	if err != nil {
		t.Fatalf("读输出元数据失败：%v", err)
	}
	if m.Width != w10 || m.Height != h10 || m.PixelSize() != 10 {
		t.Fatalf("输出必须落在 10m 参考网格：%+v", m)
	}

	// 参考波段必须逐像素恒等（identity-resample 优化不得引入插值漂移）。
	want := readBandU16(t, p10, 0, w10, h10)
	gotRef := readBandU16(t, out, 0, w10, h10)
	for j := range want {
		if want[j] != gotRef[j] {
			t.Fatalf("参考波段第 %d 像素不恒等：期望 %d 实际 %d", j, want[j], gotRef[j])
		}
	}

	// 常值波段上采样后仍为常值（双线性对常值场保值）。
	gotUp := readBandU16(t, out, 1, w10, h10)
	for j := range gotUp {
		if gotUp[j] != 7000 {
			t.Fatalf("上采样波段第 %d 像素期望 7000，实际 %d", j, gotUp[j])
		}
	}
}

// custom 模式：输出尺寸 = ref 尺寸 × refPx/R，像元 = R。
func TestStack_CustomResolution(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "b20.tif")
	writeBand(t, p, 16, 16, 20, func(x, y int) uint16 { return 42 })

	out := filepath.Join(dir, "stack.tif")
	if _, err := Stack([]string{p}, out, Mode{Kind: ModeCustom, Resolution: 10}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	m, err := ReadMeta(out)
	if err != nil {
		t.Fatalf("读输出元数据失败：%v", err)
	}
	if m.Width != 32 || m.Height != 32 {
		t.Fatalf("期望 32x32（16×20/10），实际=%dx%d", m.Width, m.Height)
	}
	if m.PixelSize() != 10 || m.Transform[5] != -10 {
		t.Fatalf("期望像元 (10,-10)，实际=(%v,%v)", m.Transform[1], m.Transform[5])
	}
}

// 同输入同模式跑两次，输出文件字节一致（重采样确定性）。
// native 走恒等拷贝路径，custom 走双线性重采样路径，两条都必须确定。
func TestStack_Deterministic(t *testing.T) {
	cases := []struct {
		name string
		mode Mode
	}{
		{"native", Mode{Kind: ModeNative}},
		{"custom", Mode{Kind: ModeCustom, Resolution: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			p := filepath.Join(dir, "b.tif")
			writeBand(t, p, 16, 16, 10, func(x, y int) uint16 { return uint16(x * y) })

			out1 := filepath.Join(dir, "s1.tif")
			out2 := filepath.Join(dir, "s2.tif")
			if _, err := Stack([]string{p}, out1, tc.mode); err != nil {
				t.Fatalf("第一次失败：%v", err)
			}
			if _, err := Stack([]string{p}, out2, tc.mode); err != nil {
				t.Fatalf("第二次失败：%v", err)
			}

			b1, err := os.ReadFile(out1)
			if err != nil {
				t.Fatalf("读 out1 失败：%v", err)
			}
			b2, err := os.ReadFile(out2)
			if err != nil {
				t.Fatalf("读 out2 失败：%v", err)
			}
			if !bytes.Equal(b1, b2) {
				t.Fatalf("两次堆叠输出不一致（%d vs %d 字节）", len(b1), len(b2))
			}
		})
	}
}

// 输出已存在时本层无条件覆盖（skip 策略在规划层）。
func TestStack_OverwritesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "b.tif")
	writeBand(t, p, 8, 8, 10, func(x, y int) uint16 { return 5 })

	out := filepath.Join(dir, "stack.tif")
	if err := os.WriteFile(out, []byte("not a tiff"), 0o644); err != nil {
		t.Fatalf("预置文件失败：%v", err)
	}
	if _, err := Stack([]string{p}, out, Mode{Kind: ModeNative}); err != nil {
		t.Fatalf("覆盖失败：%v", err)
	}
	got := readBandU16(t, out, 0, 8, 8)
	if got[0] != 5 {
		t.Fatalf("覆盖后的内容不正确：%v", got[0])
	}
}

// 输出文件已创建后中途写失败：错误上抛，半成品保留在 outPath（本层不清理），
// 之后一次成功的堆叠必须把半成品整体覆盖干净。
func TestStack_WriteFailureLeavesPartialFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "stack.tif")

	Register()
	b, err := newBlock(godal.UInt16, 4*4)
	if err != nil {
		t.Fatalf("构造像素块失败：%v", err)
	}
	grid := Grid{
		Width:      4,
		Height:     4,
		Transform:  [6]float64{600000, 10, 0, 5200000, 0, -10},
		Projection: "不是合法的 WKT",
	}

	if err := writeStack(grid, godal.UInt16, []block{b}, out); err == nil {
		t.Fatalf("非法投影必须让写入失败")
	}
	if _, serr := os.Stat(out); serr != nil {
		t.Fatalf("写失败后应保留半成品文件：%v", serr)
	}

	p := filepath.Join(dir, "b.tif")
	writeBand(t, p, 4, 4, 10, func(x, y int) uint16 { return 9 })
	if _, err := Stack([]string{p}, out, Mode{Kind: ModeNative}); err != nil {
		t.Fatalf("重跑覆盖半成品失败：%v", err)
	}
	got := readBandU16(t, out, 0, 4, 4)
	if got[0] != 9 {
		t.Fatalf("覆盖后的内容不正确：%v", got[0])
	}
	m, err := ReadMeta(out)
	if err != nil {
		t.Fatalf("覆盖后的输出必须可读：%v", err)
	}
	if m.Width != 4 || m.Height != 4 {
		t.Fatalf("覆盖后的网格不正确：%+v", m)
	}
}

func TestStack_MissingInputFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "stack.tif")
	_, err := Stack([]string{filepath.Join(dir, "nope.tif")}, out, Mode{Kind: ModeNative})
	if err == nil {
		t.Fatalf("缺失输入必须报错")
	}
	if _, serr := os.Stat(out); !os.IsNotExist(serr) {
		t.Fatalf("失败时不允许产生输出文件")
	}
}
