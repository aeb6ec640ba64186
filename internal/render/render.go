package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/airbusgeo/godal"

	"github.com/John-Robertt/S2DL/internal/infra/fsx"
	"github.com/John-Robertt/S2DL/internal/raster"
)

// Error 表示可视化输出失败。
// 上层可把它映射为 error_code=render_failed。
type Error struct {
	Kind string // "rgb" / "ndvi" / "ndwi"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render kind=%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options 控制真彩色渲染的拉伸参数。
type Options struct {
	// PLow/PHigh 是百分位拉伸的上下界（百分比）。零值取 2/98。
	PLow  float64
	PHigh float64
	// Gamma > 0 且 != 1 时做伽马校正（v^(1/Gamma)）。
	Gamma float64
	// Equalize 为 true 时改用直方图均衡（忽略百分位与伽马）。
	Equalize bool
}

func (o Options) normalized() Options {
	if o.PLow == 0 && o.PHigh == 0 {
		o.PLow, o.PHigh = 2, 98
	}
	return o
}

const indexEpsilon = 1e-10

// ForPreset 按预设渲染堆叠文件旁的 PNG：
// RGB → 真彩色；NDVI/NDWI → 指数彩色图。其余预设没有约定的可视化，返回空。
// 输出命名 <stack去掉.tif>.<kind>.png，已存在时直接覆盖。
func ForPreset(stackPath, preset string, opts Options) ([]string, error) {
	switch strings.ToUpper(preset) {
	case "RGB":
		p, err := RGB(stackPath, [3]int{1, 2, 3}, opts)
		if err != nil {
			return nil, err
		}
		return []string{p}, nil
	case "NDVI":
		// 预设波段顺序 [B08, B04]：nir=1, red=2。
		p, err := NDVI(stackPath, 1, 2)
		if err != nil {
			return nil, err
		}
		return []string{p}, nil
	case "NDWI":
		// 预设波段顺序 [B03, B08]：green=1, nir=2。
		p, err := NDWI(stackPath, 1, 2)
		if err != nil {
			return nil, err
		}
		return []string{p}, nil
	}
	return nil, nil
}

// RGB 读取 1-based 波段序号 rgb 的三个波段，做拉伸后写真彩色 PNG。
func RGB(stackPath string, rgb [3]int, opts Options) (string, error) {
	opts = opts.normalized()
	w, h, bands, err := readBands(stackPath, rgb[:])
	if err != nil {
		return "", &Error{Kind: "rgb", Err: err}
	}

	channels := make([][]float64, 3)
	for i, vals := range bands {
		if opts.Equalize {
			channels[i] = equalize(vals)
		} else {
			ch := stretch(vals, opts.PLow, opts.PHigh)
			if opts.Gamma > 0 && opts.Gamma != 1 {
				applyGamma(ch, opts.Gamma)
			}
			channels[i] = ch
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for p := 0; p < w*h; p++ {
		img.Pix[p*4+0] = toByte(channels[0][p])
		img.Pix[p*4+1] = toByte(channels[1][p])
		img.Pix[p*4+2] = toByte(channels[2][p])
		img.Pix[p*4+3] = 255
	}

	out := outputPath(stackPath, "rgb")
	if err := writePNG(img, out); err != nil {
		return "", &Error{Kind: "rgb", Err: err}
	}
	return out, nil
}

// NDVI 计算 (nir-red)/(nir+red+ε) 并用红黄绿色带写 PNG。
func NDVI(stackPath string, nirBand, redBand int) (string, error) {
	return renderIndex(stackPath, "ndvi", nirBand, redBand, rdYlGn)
}

// NDWI 计算 (green-nir)/(green+nir+ε) 并用蓝色色带写 PNG。
func NDWI(stackPath string, greenBand, nirBand int) (string, error) {
	return renderIndex(stackPath, "ndwi", greenBand, nirBand, blues)
}

// renderIndex 计算归一化差值指数 (a-b)/(a+b+ε)，值域 [-1,1] 映射到色带 [0,1]。
func renderIndex(stackPath, kind string, bandA, bandB int, cm ramp) (string, error) {
	w, h, bands, err := readBands(stackPath, []int{bandA, bandB})
	if err != nil {
		return "", &Error{Kind: kind, Err: err}
	}
	a, b := bands[0], bands[1]

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for p := 0; p < w*h; p++ {
		va, vb := float64(a[p]), float64(b[p])
		idx := (va - vb) / (va + vb + indexEpsilon)
		c := cm.at((idx + 1) / 2)
		img.Pix[p*4+0] = c.R
		img.Pix[p*4+1] = c.G
		img.Pix[p*4+2] = c.B
		img.Pix[p*4+3] = 255
	}

	out := outputPath(stackPath, kind)
	if err := writePNG(img, out); err != nil {
		return "", &Error{Kind: kind, Err: err}
	}
	return out, nil
}

// readBands 从堆叠文件读出若干 1-based 波段的全幅数据（统一转 float32）。
func readBands(path string, idx []int) (w, h int, out [][]float32, err error) {
	raster.Register()
	ds, err := godal.Open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer ds.Close()

	st := ds.Structure()
	w, h = st.SizeX, st.SizeY
	all := ds.Bands()

	out = make([][]float32, len(idx))
	for i, bi := range idx {
		if bi < 1 || bi > len(all) {
			return 0, 0, nil, fmt.Errorf("波段序号 %d 越界（文件共 %d 个波段）", bi, len(all))
		}
		buf := make([]float32, w*h)
		if err := all[bi-1].Read(0, 0, buf, w, h); err != nil {
			return 0, 0, nil, err
		}
		out[i] = buf
	}
	return w, h, out, nil
}

// stretch 做百分位拉伸，输出归一化到 [0,1]。
func stretch(vals []float32, pLow, pHigh float64) []float64 {
	lo, hi := percentiles(vals, pLow, pHigh)
	out := make([]float64, len(vals))
	if hi <= lo {
		return out
	}
	scale := 1 / (hi - lo)
	for i, v := range vals {
		t := (float64(v) - lo) * scale
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		out[i] = t
	}
	return out
}

func percentiles(vals []float32, pLow, pHigh float64) (lo, hi float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sorted := append([]float32(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(p float64) float64 {
		i := int(p / 100 * float64(len(sorted)-1))
		return float64(sorted[i])
	}
	return at(pLow), at(pHigh)
}

func applyGamma(vals []float64, gamma float64) {
	inv := 1 / gamma
	for i, v := range vals {
		vals[i] = math.Pow(v, inv)
	}
}

// equalize 做 256 级直方图均衡，输出归一化到 [0,1]。
func equalize(vals []float32) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}

	mn, mx := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	if mx <= mn {
		return out
	}

	const bins = 256
	var hist [bins]int
	scale := float64(bins-1) / float64(mx-mn)
	for _, v := range vals {
		hist[int(float64(v-mn)*scale)]++
	}
	var cdf [bins]float64
	sum := 0
	for i, c := range hist {
		sum += c
		cdf[i] = float64(sum)
	}
	total := cdf[bins-1]
	for i := range cdf {
		cdf[i] /= total
	}
	for i, v := range vals {
		out[i] = cdf[int(float64(v-mn)*scale)]
	}
	return out
}

func toByte(t float64) uint8 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 255
	}
	return uint8(t*255 + 0.5)
}

func outputPath(stackPath, kind string) string {
	base := strings.TrimSuffix(stackPath, filepath.Ext(stackPath))
	return base + "." + kind + ".png"
}

func writePNG(img image.Image, path string) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), buf.Bytes())
}
