package pick

import (
	"testing"
	"time"

	"github.com/John-Robertt/S2DL/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2023, 6, d, 10, 30, 0, 0, time.UTC)
}

func fixtures() []domain.Item {
	return []domain.Item{
		{ID: "a", TileID: "32TMR", Datetime: day(20), CloudCover: 12},
		{ID: "b", TileID: "32TMR", Datetime: day(15), CloudCover: 3},
		{ID: "c", TileID: "32TNR", Datetime: day(10), CloudCover: 3},
		{ID: "d", TileID: "32TNR", Datetime: day(5), CloudCover: 40},
	}
}

func TestByIndex(t *testing.T) {
	items := fixtures()

	it, err := ByIndex(items, 1)
	if err != nil || it.ID != "b" {
		t.Fatalf("期望 b，实际=%q err=%v", it.ID, err)
	}
	// 负索引从尾部数。
	it, err = ByIndex(items, -1)
	if err != nil || it.ID != "d" {
		t.Fatalf("期望 d，实际=%q err=%v", it.ID, err)
	}
	if _, err = ByIndex(items, 4); !IsSelection(err) {
		t.Fatalf("越界应返回 SelectionError，实际=%v", err)
	}
	if _, err = ByIndex(nil, 0); !IsSelection(err) {
		t.Fatalf("空列表应返回 SelectionError，实际=%v", err)
	}
}

func TestLeastCloudy_TieKeepsFirst(t *testing.T) {
	it, err := LeastCloudy(fixtures())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// b 与 c 并列 3%，取靠前的 b。
	if it.ID != "b" {
		t.Fatalf("期望 b，实际=%q", it.ID)
	}
}

func TestByDate(t *testing.T) {
	got, err := ByDate(fixtures(), "2023-06-15")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("期望 [b]，实际=%+v", got)
	}
	// 没有命中不是错误。
	got, err = ByDate(fixtures(), "2023-01-01")
	if err != nil || len(got) != 0 {
		t.Fatalf("期望空结果无错误，实际=%v %v", got, err)
	}
}

func TestByDateRange_Inclusive(t *testing.T) {
	start := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)

	got, err := ByDateRange(fixtures(), start, end)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// 两端都含：10 号（c）与 15 号（b）。
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("区间过滤不正确：%+v", got)
	}
}

func TestSortByCloud_DoesNotMutateInput(t *testing.T) {
	items := fixtures()
	got, err := SortByCloud(items, true)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got[0].ID != "b" || got[1].ID != "c" || got[3].ID != "d" {
		t.Fatalf("升序不正确：%+v", got)
	}
	if items[0].ID != "a" {
		t.Fatalf("入参被修改：%+v", items)
	}

	desc, _ := SortByCloud(items, false)
	if desc[0].ID != "d" {
		t.Fatalf("降序不正确：%+v", desc)
	}
}

func TestSortByDate(t *testing.T) {
	asc, err := SortByDate(fixtures(), true)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if asc[0].ID != "d" || asc[3].ID != "a" {
		t.Fatalf("时间升序不正确：%+v", asc)
	}
}

func TestTopLeastCloudy(t *testing.T) {
	got, err := TopLeastCloudy(fixtures(), 2)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("期望 [b c]，实际=%+v", got)
	}

	// n 超过条目数：返回全部。
	got, err = TopLeastCloudy(fixtures(), 99)
	if err != nil || len(got) != 4 {
		t.Fatalf("期望全部 4 条，实际=%d err=%v", len(got), err)
	}

	if _, err = TopLeastCloudy(fixtures(), 0); !IsSelection(err) {
		t.Fatalf("n<1 应返回 SelectionError，实际=%v", err)
	}
}

func TestMetadata(t *testing.T) {
	rows, err := Metadata(fixtures())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("期望 4 行，实际=%d", len(rows))
	}
	if rows[1].Index != 1 || rows[1].TileID != "32TMR" || rows[1].Date != "2023-06-15" || rows[1].CloudCover != 3 {
		t.Fatalf("摘要行不正确：%+v", rows[1])
	}
}
