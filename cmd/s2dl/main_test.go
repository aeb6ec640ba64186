package main

import (
	"strings"
	"testing"

	"github.com/John-Robertt/S2DL/internal/domain"
	"github.com/John-Robertt/S2DL/internal/raster"
)

func TestParseRunArgs(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want runArgs
	}{
		{"空参数", nil, runArgs{}},
		{"仅 path", []string{"./data"}, runArgs{Path: "./data"}},
		{"preset 分离写法", []string{"--preset", "NDVI"}, runArgs{Preset: "NDVI", PresetSet: true}},
		{"preset 等号写法", []string{"--preset=SWIR"}, runArgs{Preset: "SWIR", PresetSet: true}},
		{"mode custom", []string{"--mode", "custom:2.5"}, runArgs{Mode: "custom:2.5", ModeSet: true}},
		{"overwrite 开关", []string{"--overwrite"}, runArgs{Overwrite: true, OverwriteSet: true}},
		{"overwrite=false", []string{"--overwrite=false"}, runArgs{Overwrite: false, OverwriteSet: true}},
		{"组合", []string{"./d", "--preset=RGB", "--mode=highest", "--overwrite"}, runArgs{
			Path: "./d", Preset: "RGB", PresetSet: true, Mode: "highest", ModeSet: true, Overwrite: true, OverwriteSet: true,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRunArgs(tc.args)
			if err != nil {
				t.Fatalf("不期望错误：%v", err)
			}
			if got != tc.want {
				t.Fatalf("解析结果不符合预期：got=%+v want=%+v", got, tc.want)
			}
		})
	}
}

func TestParseRunArgs_Invalid(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"未知参数", []string{"--frobnicate"}},
		{"重复 path", []string{"a", "b"}},
		{"preset 缺值", []string{"--preset"}},
		{"preset 为空", []string{"--preset="}},
		{"mode 非法", []string{"--mode=fastest"}},
		{"mode custom 非正数", []string{"--mode=custom:-10"}},
		{"overwrite 非布尔", []string{"--overwrite=yes"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRunArgs(tc.args); err == nil {
				t.Fatalf("期望错误，实际成功")
			}
		})
	}
}

func TestParseStackArgs(t *testing.T) {
	sa, err := parseStackArgs([]string{"--out", "s.tif", "--mode=custom:20", "B04.tif", "B03.tif"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if sa.Out != "s.tif" {
		t.Fatalf("out 不符合预期：%q", sa.Out)
	}
	if sa.Mode.Kind != raster.ModeCustom || sa.Mode.Resolution != 20 {
		t.Fatalf("mode 不符合预期：%+v", sa.Mode)
	}
	if len(sa.Inputs) != 2 || sa.Inputs[0] != "B04.tif" {
		t.Fatalf("inputs 不符合预期：%v", sa.Inputs)
	}
}

func TestParseStackArgs_DefaultsAndErrors(t *testing.T) {
	sa, err := parseStackArgs([]string{"--out=s.tif", "a.tif"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if sa.Mode.Kind != raster.ModeNative {
		t.Fatalf("默认 mode 应为 native：%+v", sa.Mode)
	}

	if _, err := parseStackArgs([]string{"a.tif"}); err == nil {
		t.Fatalf("缺 --out 应报错")
	}
	if _, err := parseStackArgs([]string{"--out=s.tif"}); err == nil {
		t.Fatalf("无输入应报错")
	}
}

func TestReportForConfigError(t *testing.T) {
	rr := reportForConfigError("/cwd", runArgs{Preset: "RGB", Mode: "native"}, errTest{})
	if len(rr.Tiles) != 1 {
		t.Fatalf("期望单条合成条目：%+v", rr.Tiles)
	}
	tile := rr.Tiles[0]
	if tile.Status != domain.StatusFailed || tile.ItemID != "" {
		t.Fatalf("合成条目不符合预期：%+v", tile)
	}
	if rr.Summary.Failed != 1 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }

func TestCountBandStatus(t *testing.T) {
	d, s := countBandStatus([]domain.BandResult{
		{Status: domain.BandStatusDownloaded},
		{Status: domain.BandStatusSkipped},
		{Status: domain.BandStatusDownloaded},
		{Status: domain.BandStatusFailed},
	})
	if d != 2 || s != 1 {
		t.Fatalf("期望 downloaded=2 skipped=1，实际=%d/%d", d, s)
	}
}

func TestProviderChain(t *testing.T) {
	if got := providerChain("earthsearch"); got != "earthsearch -> planetary" {
		t.Fatalf("链路不符合预期：%q", got)
	}
	if got := providerChain(" Planetary "); got != "planetary -> earthsearch" {
		t.Fatalf("链路不符合预期：%q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  hello  ", 10); got != "hello" {
		t.Fatalf("短串应只去空白：%q", got)
	}
	long := strings.Repeat("x", 50)
	if got := truncate(long, 10); got != long[:7]+"..." {
		t.Fatalf("截断不符合预期：%q", got)
	}
}
