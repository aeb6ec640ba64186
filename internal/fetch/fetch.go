package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/S2DL/internal/config"
	"github.com/John-Robertt/S2DL/internal/domain"
	"github.com/John-Robertt/S2DL/internal/infra/fsx"
)

// DownloadError 表示单个波段最终下载失败。
// 上层可把它映射为 error_code=fetch_failed。
type DownloadError struct {
	Band string
	URL  string
	Err  error
}

func (e *DownloadError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("波段 %s 下载失败：%v", e.Band, e.Err)
	}
	return fmt.Sprintf("波段 %s 下载失败（%s）：%v", e.Band, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Progress 回调下载进度。total 未知时为 -1。
type Progress func(band string, received, total int64)

// Fetcher 负责把单个波段资产流式落盘。
//
// 约束：
// - 不做重试（由 httpx 的 client 统一实现）
// - 文件名固定为 <band>_<YYYYMMDD>_<res>m.tif；命名是 stack/render 找文件的契约
// - 已存在且未开 overwrite：跳过，不发请求
// - 落盘必须先写同目录临时文件再 rename，失败不能留下半截 tif
type Fetcher struct {
	Client  *http.Client
	Presets config.Presets

	Overwrite bool
	Progress  Progress // 可选
}

// Filename 返回波段在 destDir 下的约定文件名。
func (f *Fetcher) Filename(it domain.Item, band string) string {
	date := strings.ReplaceAll(it.DateString(), "-", "")
	return fmt.Sprintf("%s_%s_%dm.tif", band, date, f.Presets.Resolution(band))
}

// DownloadBand 下载单个波段到 destDir，返回该波段的落盘结果。
// 条目缺失该波段资产时，尝试用 granule 目录枚举兜底。
func (f *Fetcher) DownloadBand(ctx context.Context, it domain.Item, band, destDir string) (domain.BandResult, error) {
	res := domain.BandResult{
		Band:       band,
		Resolution: f.Presets.Resolution(band),
		Status:     domain.BandStatusFailed,
	}

	if err := fsx.EnsureDir(destDir); err != nil {
		return res, err
	}

	name := f.Filename(it, band)
	dst := filepath.Join(destDir, name)

	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return res, &fsx.PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !f.Overwrite {
			log.Debug().Str("band", band).Str("path", dst).Msg("波段文件已存在，跳过下载")
			res.Path = dst
			res.Status = domain.BandStatusSkipped
			return res, nil
		}
	} else if !os.IsNotExist(err) {
		return res, err
	}

	href, err := f.resolveHref(ctx, it, band)
	if err != nil {
		return res, &DownloadError{Band: band, Err: err}
	}

	if err := f.stream(ctx, band, href, destDir, name); err != nil {
		return res, &DownloadError{Band: band, URL: href, Err: err}
	}

	res.Path = dst
	res.Status = domain.BandStatusDownloaded
	return res, nil
}

// DownloadList 按给定顺序下载多个波段。
// 第一个失败即停止（同一条目的后续波段大概率同样失败），已完成波段的结果照常返回；
// 失败波段以 status=failed 收尾，方便上层直接并入 report。
func (f *Fetcher) DownloadList(ctx context.Context, it domain.Item, bands []string, destDir string) ([]domain.BandResult, error) {
	out := make([]domain.BandResult, 0, len(bands))
	for _, band := range bands {
		br, err := f.DownloadBand(ctx, it, band, destDir)
		out = append(out, br)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// resolveHref 定位波段的下载地址：资产表优先，缺失时走 granule 目录枚举。
func (f *Fetcher) resolveHref(ctx context.Context, it domain.Item, band string) (string, error) {
	if a, ok := it.Assets[band]; ok && strings.TrimSpace(a.Href) != "" {
		return a.Href, nil
	}
	if it.GranuleHref == "" {
		return "", fmt.Errorf("条目 %s 缺少波段 %s 的资产", it.ID, band)
	}
	log.Debug().Str("item", it.ID).Str("band", band).Msg("资产表缺失波段，尝试 granule 目录枚举")
	href, err := ResolveFromListing(ctx, f.Client, it.GranuleHref, band, f.Presets.Resolution(band))
	if err != nil {
		return "", fmt.Errorf("条目 %s 缺少波段 %s 的资产，目录枚举兜底失败：%w", it.ID, band, err)
	}
	return href, nil
}

func (f *Fetcher) stream(ctx context.Context, band, href, destDir, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(destDir, "."+name+".part-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	total := resp.ContentLength
	var received int64
	buf := make([]byte, 256<<10)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return werr
			}
			received += int64(n)
			if f.Progress != nil {
				f.Progress(band, received, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(destDir, name))
}
