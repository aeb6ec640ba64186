package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/John-Robertt/S2DL/internal/domain"
)

// maxSearchPages 限定分页跟随的上限，防止坏的 next 链接造成死循环。
const maxSearchPages = 10

// SearchSTAC 对一个 STAC API 端点执行 POST /search 并跟随 rel=next 分页，
// 直到凑满 q.Limit 条或没有下一页。两个数据源共用这段协议代码，
// 差异（资产键名、签名）由各自的 normalize 与后处理承担。
func SearchSTAC(ctx context.Context, c *http.Client, endpoint, collection string, q domain.Query, normalize func(key string) string) ([]domain.Item, error) {
	body := map[string]any{
		"collections": []string{collection},
		"bbox":        []float64{q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3]},
		"datetime":    q.Start.Format("2006-01-02") + "/" + q.End.Format("2006-01-02"),
		"query": map[string]any{
			"eo:cloud_cover": map[string]any{"lt": q.MaxCloud},
		},
		"limit": q.Limit,
	}

	searchURL := endpoint + "/search"
	var features []stacFeature
	for page := 0; page < maxSearchPages; page++ {
		fc, err := postSearch(ctx, c, searchURL, body)
		if err != nil {
			return nil, err
		}
		features = append(features, fc.Features...)
		if len(features) >= q.Limit {
			features = features[:q.Limit]
			break
		}

		next, ok := fc.nextLink()
		if !ok {
			break
		}
		if next.Method == http.MethodGet {
			gfc, err := getSearch(ctx, c, next.Href)
			if err != nil {
				return nil, err
			}
			features = append(features, gfc.Features...)
			if len(features) >= q.Limit {
				features = features[:q.Limit]
			}
			// GET 型 next 只跟一页就够了：earthsearch 的 GET 链接仍带 next 参数，
			// 但这里统一按 POST 循环处理，GET 分支只是兼容兜底。
			break
		}
		searchURL = next.Href
		if next.Merge {
			for k, v := range next.Body {
				body[k] = v
			}
		} else if len(next.Body) > 0 {
			body = next.Body
		}
	}

	items, err := toItems(features, normalize)
	if err != nil {
		return nil, err
	}
	if q.Filter10mOnly {
		items = filter10m(items)
	}
	return items, nil
}

func postSearch(ctx context.Context, c *http.Client, url string, body map[string]any) (stacFeatureCollection, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return stacFeatureCollection{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return stacFeatureCollection{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")
	return doSearch(c, req)
}

func getSearch(ctx context.Context, c *http.Client, url string) (stacFeatureCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return stacFeatureCollection{}, err
	}
	req.Header.Set("Accept", "application/geo+json")
	return doSearch(c, req)
}

func doSearch(c *http.Client, req *http.Request) (stacFeatureCollection, error) {
	resp, err := c.Do(req)
	if err != nil {
		return stacFeatureCollection{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		prefix, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stacFeatureCollection{}, &HTTPStatusError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(prefix),
		}
	}

	var fc stacFeatureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return stacFeatureCollection{}, fmt.Errorf("解析检索响应失败：%w", err)
	}
	return fc, nil
}
