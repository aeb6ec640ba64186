package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ResolveFromListing 抓取 granule 的 HTTP 目录索引页（HTML），从 <a href> 里
// 找到对应波段的栅格文件地址。只有资产表缺失波段时才会走到这里。
//
// 匹配规则：
// - 只认 .tif/.tiff/.jp2 后缀
// - 文件名里必须出现完整的波段标识（B02 不能匹配 B021）
// - 同波段多分辨率文件并存时优先 <res>m 的那个
func ResolveFromListing(ctx context.Context, c *http.Client, baseHref, band string, res int) (string, error) {
	base, err := url.Parse(baseHref)
	if err != nil {
		return "", fmt.Errorf("granule 地址无效：%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseHref, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("解析目录索引页失败：%w", err)
	}

	var fallback string
	wantRes := fmt.Sprintf("%dm", res)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		name := fileNameOf(href)
		if !isRaster(name) || !hasBandToken(name, band) {
			return true
		}
		resolved := resolveRef(base, href)
		if strings.Contains(strings.ToLower(name), wantRes) {
			fallback = resolved
			return false // 命中首选分辨率，停止遍历
		}
		if fallback == "" {
			fallback = resolved
		}
		return true
	})

	if fallback == "" {
		return "", fmt.Errorf("目录索引页里没有波段 %s 的栅格文件", band)
	}
	return fallback, nil
}

func fileNameOf(href string) string {
	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	return path.Base(href)
}

func isRaster(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".tif", ".tiff", ".jp2":
		return true
	}
	return false
}

// hasBandToken 判断文件名里出现了完整的波段标识（大小写不敏感，两侧必须是
// 非字母数字或字符串边界，避免 B02 误匹配 B021）。
func hasBandToken(name, band string) bool {
	upper := strings.ToUpper(name)
	band = strings.ToUpper(band)
	for i := 0; ; {
		j := strings.Index(upper[i:], band)
		if j < 0 {
			return false
		}
		j += i
		leftOK := j == 0 || !isAlnum(upper[j-1])
		r := j + len(band)
		rightOK := r == len(upper) || !isAlnum(upper[r])
		if leftOK && rightOK {
			return true
		}
		i = j + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func resolveRef(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(u).String()
}
