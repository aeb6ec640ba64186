// Package pick 提供对检索结果的纯函数挑选与排序。
// 所有函数不修改入参切片；排序一律返回拷贝。
package pick

import (
	"fmt"
	"sort"
	"time"

	"github.com/John-Robertt/S2DL/internal/domain"
)

// SelectionError 表示挑选条件无法满足（空列表、越界等）。
// 上层可把它映射为 error_code=selection_failed。
type SelectionError struct {
	Reason string
}

func (e *SelectionError) Error() string { return e.Reason }

func IsSelection(err error) bool {
	_, ok := err.(*SelectionError)
	return ok
}

func ensureItems(items []domain.Item) error {
	if len(items) == 0 {
		return &SelectionError{Reason: "没有可供挑选的条目"}
	}
	return nil
}

// ByIndex 返回第 index 条；支持负索引（-1 表示最后一条）。
func ByIndex(items []domain.Item, index int) (domain.Item, error) {
	if err := ensureItems(items); err != nil {
		return domain.Item{}, err
	}
	i := index
	if i < 0 {
		i += len(items)
	}
	if i < 0 || i >= len(items) {
		return domain.Item{}, &SelectionError{Reason: fmt.Sprintf("索引 %d 越界（items=%d）", index, len(items))}
	}
	return items[i], nil
}

// LeastCloudy 返回云量最低的一条；并列时取靠前的（保持输入顺序可复现）。
func LeastCloudy(items []domain.Item) (domain.Item, error) {
	if err := ensureItems(items); err != nil {
		return domain.Item{}, err
	}
	best := items[0]
	for _, it := range items[1:] {
		if it.CloudCover < best.CloudCover {
			best = it
		}
	}
	return best, nil
}

// ByDate 过滤出采集日期等于 date（YYYY-MM-DD）的条目；结果可以为空。
func ByDate(items []domain.Item, date string) ([]domain.Item, error) {
	if err := ensureItems(items); err != nil {
		return nil, err
	}
	var out []domain.Item
	for _, it := range items {
		if it.DateString() == date {
			out = append(out, it)
		}
	}
	return out, nil
}

// ByDateRange 过滤出采集日期落在 [start, end]（含两端）内的条目。
func ByDateRange(items []domain.Item, start, end time.Time) ([]domain.Item, error) {
	if err := ensureItems(items); err != nil {
		return nil, err
	}
	// 只比日期，不比时刻：条目时间截断到当日零点再落区间。
	var out []domain.Item
	for _, it := range items {
		d := it.Datetime.UTC().Truncate(24 * time.Hour)
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// SortByCloud 返回按云量排序的拷贝（ascending=true 为升序）。
func SortByCloud(items []domain.Item, ascending bool) ([]domain.Item, error) {
	if err := ensureItems(items); err != nil {
		return nil, err
	}
	out := append([]domain.Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].CloudCover < out[j].CloudCover
		}
		return out[i].CloudCover > out[j].CloudCover
	})
	return out, nil
}

// SortByDate 返回按采集时间排序的拷贝（ascending=true 为旧→新）。
func SortByDate(items []domain.Item, ascending bool) ([]domain.Item, error) {
	if err := ensureItems(items); err != nil {
		return nil, err
	}
	out := append([]domain.Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Datetime.Before(out[j].Datetime)
		}
		return out[i].Datetime.After(out[j].Datetime)
	})
	return out, nil
}

// TopLeastCloudy 返回云量最低的前 n 条（n 大于条目数时返回全部）。
// 并列时保持输入顺序，保证同一输入的选择结果可复现。
func TopLeastCloudy(items []domain.Item, n int) ([]domain.Item, error) {
	if err := ensureItems(items); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, &SelectionError{Reason: fmt.Sprintf("n 必须 >= 1，实际是 %d", n)}
	}
	sorted, err := SortByCloud(items, true)
	if err != nil {
		return nil, err
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n], nil
}

// Row 是面向展示/report 的条目摘要。
type Row struct {
	Index      int     `json:"index"`
	TileID     string  `json:"tile"`
	Date       string  `json:"date"`
	CloudCover float64 `json:"cloud_cover"`
}

// Metadata 返回条目的结构化摘要（打印与测试都走这里，不直接拼字符串）。
func Metadata(items []domain.Item) ([]Row, error) {
	if err := ensureItems(items); err != nil {
		return nil, err
	}
	rows := make([]Row, len(items))
	for i, it := range items {
		rows[i] = Row{Index: i, TileID: it.TileID, Date: it.DateString(), CloudCover: it.CloudCover}
	}
	return rows, nil
}
