package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const (
	BandStatusDownloaded = "downloaded"
	BandStatusSkipped    = "skipped"
	BandStatusFailed     = "failed"
)

const (
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
	ErrCodeSearchFailed      = "search_failed"
	ErrCodeSelectionFailed   = "selection_failed"
	ErrCodeFetchFailed       = "fetch_failed"
	ErrCodeStackFailed       = "stack_failed"
	ErrCodeRenderFailed      = "render_failed"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeTargetConflict    = "target_conflict"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	Path  string `json:"path"`
	RunID string `json:"run_id"`

	Preset string `json:"preset"`
	Mode   string `json:"mode"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Tiles   []TileResult  `json:"tiles"`
}

type ReportSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// TileResult 是单个瓦片的处理结果（一个 Item 对应一条）。
// ItemID=="" 的条目是合成失败项（config/search 等阶段性错误）。
type TileResult struct {
	ItemID     string  `json:"item_id"`
	TileID     string  `json:"tile_id"`
	Date       string  `json:"date"`
	CloudCover float64 `json:"cloud_cover"`
	Provider   string  `json:"provider"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Bands     []BandResult `json:"bands"`
	StackPath string       `json:"stack_path"`
	Renders   []string     `json:"renders"`
}

type BandResult struct {
	Band       string `json:"band"`
	Resolution int    `json:"resolution_m"`
	Path       string `json:"path"`
	Status     string `json:"status"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) tiles 稳定排序：按 item_id 字典序；item_id=="" 的合成条目排在最后
// 3) summary 由 tiles 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Tiles, func(i, j int) bool {
		a := r.Tiles[i].ItemID
		b := r.Tiles[j].ItemID
		if a == "" && b == "" {
			return false
		}
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Tiles {
		switch it.Status {
		case StatusProcessed:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
