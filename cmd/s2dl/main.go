package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/S2DL/internal/app/run"
	"github.com/John-Robertt/S2DL/internal/catalog"
	"github.com/John-Robertt/S2DL/internal/catalog/earthsearch"
	"github.com/John-Robertt/S2DL/internal/catalog/planetary"
	"github.com/John-Robertt/S2DL/internal/config"
	"github.com/John-Robertt/S2DL/internal/domain"
	"github.com/John-Robertt/S2DL/internal/infra/fsx"
	"github.com/John-Robertt/S2DL/internal/raster"
)

func main() {
	setupLogging()

	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	case "stack":
		if code := stackCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// setupLogging 把 zerolog 的过程日志固定到 stderr（stdout 留给 RunReport JSON）。
func setupLogging() {
	level := zerolog.InfoLevel
	if os.Getenv("S2DL_DEBUG") == "1" {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if isTTY(os.Stderr) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}
	log.Logger = log.Output(os.Stderr)
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage()
			return 0
		}
	}

	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Path:         ra.Path,
		Preset:       ra.Preset,
		PresetSet:    ra.PresetSet,
		Mode:         ra.Mode,
		ModeSet:      ra.ModeSet,
		Overwrite:    ra.Overwrite,
		OverwriteSet: ra.OverwriteSet,
	})
	if err != nil {
		rr := reportForConfigError(cwdAbs, ra, err)
		emitReport(rr)
		return 1
	}

	reg, e := catalog.NewRegistry(planetary.New(), earthsearch.New())
	if e != nil {
		fmt.Fprintf(os.Stderr, "初始化 provider registry 失败：%v\n", e)
		return 1
	}

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	rr := run.ExecuteWithObserver(context.Background(), eff, reg, obs)

	if err := writeReportFile(eff.Path, rr); err != nil {
		fmt.Fprintf(os.Stderr, "写入 report.json 失败：%v\n", err)
		emitReport(rr)
		return 1
	}

	emitReport(rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	if rr.Summary.Failed == 0 {
		return 0
	}
	return 1
}

type runArgs struct {
	Path string

	Preset    string
	PresetSet bool

	Mode    string
	ModeSet bool

	Overwrite    bool
	OverwriteSet bool
}

func parseRunArgs(args []string) (runArgs, error) {
	ra := runArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--preset":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--preset 需要一个值")
			}
			i++
			ra.Preset = args[i]
			ra.PresetSet = true
		case strings.HasPrefix(a, "--preset="):
			ra.Preset = strings.TrimPrefix(a, "--preset=")
			ra.PresetSet = true
		case a == "--mode":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--mode 需要一个值")
			}
			i++
			ra.Mode = args[i]
			ra.ModeSet = true
		case strings.HasPrefix(a, "--mode="):
			ra.Mode = strings.TrimPrefix(a, "--mode=")
			ra.ModeSet = true
		case a == "--overwrite":
			ra.Overwrite = true
			ra.OverwriteSet = true
		case strings.HasPrefix(a, "--overwrite="):
			v := strings.TrimPrefix(a, "--overwrite=")
			switch v {
			case "true":
				ra.Overwrite = true
			case "false":
				ra.Overwrite = false
			default:
				return runArgs{}, fmt.Errorf("--overwrite 只能是 true 或 false，实际是 %q", v)
			}
			ra.OverwriteSet = true
		case strings.HasPrefix(a, "-"):
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ra.Path != "" {
				return runArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ra.Path, a)
			}
			ra.Path = a
		}
	}

	if ra.PresetSet && strings.TrimSpace(ra.Preset) == "" {
		return runArgs{}, fmt.Errorf("--preset 不能为空")
	}
	if ra.ModeSet {
		if _, err := raster.ParseMode(ra.Mode); err != nil {
			return runArgs{}, err
		}
	}

	return ra, nil
}

// stackCmd 是本地堆叠小工具：把已有的单波段 tif 按给定顺序堆叠，不走检索/下载。
func stackCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printStackUsage()
			return 0
		}
	}

	sa, err := parseStackArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printStackUsage()
		return 2
	}

	out, err := raster.Stack(sa.Inputs, sa.Out, sa.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "堆叠失败：%v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, out)
	return 0
}

type stackArgs struct {
	Out    string
	Mode   raster.Mode
	Inputs []string
}

func parseStackArgs(args []string) (stackArgs, error) {
	sa := stackArgs{Mode: raster.Mode{Kind: raster.ModeNative}}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--out":
			if i+1 >= len(args) {
				return stackArgs{}, fmt.Errorf("--out 需要一个值")
			}
			i++
			sa.Out = args[i]
		case strings.HasPrefix(a, "--out="):
			sa.Out = strings.TrimPrefix(a, "--out=")
		case a == "--mode":
			if i+1 >= len(args) {
				return stackArgs{}, fmt.Errorf("--mode 需要一个值")
			}
			i++
			m, err := raster.ParseMode(args[i])
			if err != nil {
				return stackArgs{}, err
			}
			sa.Mode = m
		case strings.HasPrefix(a, "--mode="):
			m, err := raster.ParseMode(strings.TrimPrefix(a, "--mode="))
			if err != nil {
				return stackArgs{}, err
			}
			sa.Mode = m
		case strings.HasPrefix(a, "-"):
			return stackArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			sa.Inputs = append(sa.Inputs, a)
		}
	}

	if strings.TrimSpace(sa.Out) == "" {
		return stackArgs{}, fmt.Errorf("--out 不能为空")
	}
	if len(sa.Inputs) == 0 {
		return stackArgs{}, fmt.Errorf("至少需要一个输入波段文件")
	}
	return sa, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  s2dl run [path] [--preset NAME] [--mode native|highest|custom:R] [--overwrite[=true|false]]
  s2dl stack --out FILE [--mode native|highest|custom:R] BAND.tif...

命令：
  run    检索、下载并堆叠 Sentinel-2 瓦片（bbox/日期等来自 s2dl.json）
  stack  把本地单波段 tif 堆叠为多波段 GeoTIFF（不联网）

使用 "s2dl run --help" 或 "s2dl stack --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  s2dl run [path] [--preset NAME] [--mode native|highest|custom:R] [--overwrite[=true|false]]

参数：
  --preset     波段预设：RGB|VISUAL|NIR|NDVI|NDWI|SWIR|RE_ALL|ALL_10M|ALL_20M|ALL_60M|ALL_BANDS（默认 RGB）
  --mode       堆叠模式：native（波段各自分辨率的最小者）|highest（最高分辨率）|custom:R（指定米数）
  --overwrite  重新下载/重建已存在的产物；支持 --overwrite=false 覆盖配置中的 overwrite=true
  -h, --help   显示帮助

bbox、日期区间、provider、云量阈值等只能通过 <path>/s2dl.json 配置。
`)
}

func printStackUsage() {
	fmt.Fprint(os.Stdout, `用法：
  s2dl stack --out FILE [--mode native|highest|custom:R] BAND.tif...

把输入的单波段栅格按命令行顺序堆叠为一个多波段 GeoTIFF。
输入必须有一致的 CRS 与采样类型；--mode 决定目标分辨率（默认 native）。
`)
}

func emitReport(rr domain.RunReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：processed=%d skipped=%d failed=%d\n",
			rr.Summary.Processed, rr.Summary.Skipped, rr.Summary.Failed,
		)
		if rr.Summary.Failed > 0 {
			for _, tile := range rr.Tiles {
				if tile.Status != domain.StatusFailed {
					continue
				}
				key := tile.ItemID
				if key == "" {
					key = "<run>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, tile.ErrorCode, tile.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintf(os.Stderr, "完成：processed=%d skipped=%d failed=%d\n",
		rr.Summary.Processed, rr.Summary.Skipped, rr.Summary.Failed,
	)
}

func reportForConfigError(cwdAbs string, ra runArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Path:       cwdAbs,
		Preset:     ra.Preset,
		Mode:       ra.Mode,
		StartedAt:  now,
		FinishedAt: now,
		Tiles: []domain.TileResult{{
			ItemID:    "",
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
			Bands:     []domain.BandResult{},
			Renders:   []string{},
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(root string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(filepath.Join(root, "cache"), "report.json", b)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	// 这两行用于降低“完成后不知道产物在哪”的摩擦，且不影响 stdout JSON 契约。
	if w == nil {
		return
	}
	fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.Path, "cache", "report.json"))
	fmt.Fprintf(w, "data: %s\n", eff.Path)
}
