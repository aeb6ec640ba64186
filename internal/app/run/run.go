package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/S2DL/internal/app/planner"
	"github.com/John-Robertt/S2DL/internal/catalog"
	"github.com/John-Robertt/S2DL/internal/config"
	"github.com/John-Robertt/S2DL/internal/domain"
	"github.com/John-Robertt/S2DL/internal/fetch"
	"github.com/John-Robertt/S2DL/internal/infra/fsx"
	"github.com/John-Robertt/S2DL/internal/infra/httpx"
	"github.com/John-Robertt/S2DL/internal/manifest"
	"github.com/John-Robertt/S2DL/internal/pick"
	"github.com/John-Robertt/S2DL/internal/raster"
	"github.com/John-Robertt/S2DL/internal/render"
)

// Execute 执行一次完整流水线（检索 → 选择 → 规划 → 下载/堆叠/渲染），
// 并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为瓦片级失败（单个瓦片失败不影响其他）。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg catalog.Registry) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg catalog.Registry, obs Observer) domain.RunReport {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		Path:      eff.Path,
		RunID:     uuid.NewString(),
		Preset:    eff.Preset,
		Mode:      eff.Mode.String(),
		StartedAt: started,
		Tiles:     make([]domain.TileResult, 0, eff.Tiles),
	}

	searchClient := httpx.NewSearchClient(httpx.DefaultPolicy())
	downloadClient := httpx.NewDownloadClient(httpx.DefaultPolicy())

	q := domain.Query{
		BBox:          eff.BBox,
		Start:         eff.Start,
		End:           eff.End,
		MaxCloud:      eff.MaxCloud,
		Limit:         eff.Limit,
		Filter10mOnly: eff.Filter10mOnly,
	}

	searchStarted := time.Now()
	items, providerUsed, attempts, err := catalog.SearchTrace(ctx, reg, eff.Provider, q, searchClient)
	searchDur := time.Since(searchStarted)
	if err != nil {
		rr.Tiles = append(rr.Tiles, syntheticFailed(domain.ErrCodeSearchFailed, fmt.Sprintf("目录检索失败：%v", err)))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	if obs != nil {
		obs.OnPhaseDone("search", map[string]any{
			"items":    len(items),
			"provider": providerUsed,
			"attempts": len(attempts),
		}, searchDur)
	}

	// 0 条结果不是失败：没有可处理的瓦片，正常收尾。
	if len(items) == 0 {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	selectStarted := time.Now()
	picked, err := pick.TopLeastCloudy(items, eff.Tiles)
	if err != nil {
		rr.Tiles = append(rr.Tiles, syntheticFailed(domain.ErrCodeSelectionFailed, fmt.Sprintf("瓦片选择失败：%v", err)))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	if obs != nil {
		obs.OnPhaseDone("select", map[string]any{
			"picked": len(picked),
			"from":   len(items),
		}, time.Since(selectStarted))
	}

	type tileJob struct {
		item domain.Item
		plan planner.TilePlan
	}

	planStarted := time.Now()
	jobsList := make([]tileJob, 0, len(picked))
	for _, it := range picked {
		st, e := planner.ReadTileState(eff.Path, it.ID)
		if e != nil {
			rr.Tiles = append(rr.Tiles, failedTile(it, providerUsed, domain.ErrCodeIOFailed, fmt.Sprintf("读取瓦片目录状态失败：%v", e)))
			continue
		}
		jobsList = append(jobsList, tileJob{item: it, plan: planner.PlanTile(it, eff, st)})
	}
	planDur := time.Since(planStarted)

	if obs != nil {
		var needStack, needRenders int
		for i := range jobsList {
			if jobsList[i].plan.NeedStack {
				needStack++
			}
			if jobsList[i].plan.NeedRenders {
				needRenders++
			}
		}
		obs.OnPhaseDone("plan", map[string]any{
			"tiles":        len(jobsList),
			"need_stack":   needStack,
			"need_renders": needRenders,
		}, planDur)
	}

	// 执行阶段：瓦片级并发（worker pool），瓦片内串行。
	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}

	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers":     workers,
			"total_tiles": len(jobsList),
		}, 0)
	}

	type execResult struct {
		itemID string
		res    domain.TileResult
		dur    time.Duration
	}

	jobs := make(chan tileJob)
	results := make(chan execResult, len(jobsList))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				oneStarted := time.Now()
				r := execOne(ctx, eff, j.item, j.plan, providerUsed, rr.RunID, downloadClient)
				results <- execResult{
					itemID: j.item.ID,
					res:    r,
					dur:    time.Since(oneStarted),
				}
			}
		}()
	}

	go func() {
		for _, j := range jobsList {
			jobs <- j
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	done := 0
	for r := range results {
		done++
		rr.Tiles = append(rr.Tiles, r.res)
		if obs != nil {
			obs.OnTileDone(done, len(jobsList), r.itemID, r.res, r.dur)
		}
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// execOne 串行处理单个瓦片：下载 → 堆叠 → 渲染 → manifest。
// 任何一步失败都在本条目内降级为 status=failed，不向外传播。
func execOne(ctx context.Context, eff config.EffectiveConfig, it domain.Item, plan planner.TilePlan, providerUsed, runID string, dl *http.Client) domain.TileResult {
	res := domain.TileResult{
		ItemID:     it.ID,
		TileID:     it.TileID,
		Date:       it.DateString(),
		CloudCover: it.CloudCover,
		Provider:   providerUsed,
		Status:     domain.StatusProcessed, // 失败时覆盖
		Bands:      []domain.BandResult{},
		Renders:    []string{},
	}

	fetcher := &fetch.Fetcher{
		Client:    dl,
		Presets:   eff.Presets,
		Overwrite: eff.Overwrite,
	}

	bands, err := fetcher.DownloadList(ctx, it, eff.Bands, plan.TileDir)
	res.Bands = relBands(eff.Path, bands)
	if err != nil {
		res.Status = domain.StatusFailed
		res.ErrorCode = classify(err, domain.ErrCodeFetchFailed)
		res.ErrorMsg = err.Error()
		return res
	}

	stackAbs := plan.StackPath()
	if plan.NeedStack {
		paths := make([]string, len(bands))
		for i := range bands {
			paths[i] = bands[i].Path
		}
		if _, err := raster.Stack(paths, stackAbs, eff.Mode); err != nil {
			res.Status = domain.StatusFailed
			res.ErrorCode = classify(err, domain.ErrCodeStackFailed)
			res.ErrorMsg = err.Error()
			return res
		}
	}
	res.StackPath = relTo(eff.Path, stackAbs)

	if plan.NeedRenders {
		if _, err := render.ForPreset(stackAbs, eff.Preset, render.Options{}); err != nil {
			res.Status = domain.StatusFailed
			res.ErrorCode = classify(err, domain.ErrCodeRenderFailed)
			res.ErrorMsg = err.Error()
			return res
		}
	}
	for _, n := range plan.RenderNames {
		res.Renders = append(res.Renders, relTo(eff.Path, filepath.Join(plan.TileDir, n)))
	}

	// manifest 只在 stack 重建时刷新（内容与既有 stack 一致时无需改写）。
	if plan.NeedStack {
		meta, err := raster.ReadMeta(stackAbs)
		if err != nil {
			res.Status = domain.StatusFailed
			res.ErrorCode = domain.ErrCodeIOFailed
			res.ErrorMsg = fmt.Sprintf("读取堆叠产物元数据失败：%v", err)
			return res
		}
		mf := manifest.Build(runID, it, providerUsed, eff.Mode.String(), bands, stackAbs, meta)
		if _, err := manifest.Write(mf, plan.TileDir); err != nil {
			res.Status = domain.StatusFailed
			res.ErrorCode = classify(err, domain.ErrCodeIOFailed)
			res.ErrorMsg = fmt.Sprintf("写入 manifest 失败：%v", err)
			return res
		}
	}

	// 全程没有新写任何产物：整条瓦片记为 skipped。
	if !plan.NeedStack && !plan.NeedRenders && allSkipped(bands) {
		res.Status = domain.StatusSkipped
	}
	return res
}

// classify 把底层错误映射为 report 的 error_code；无法识别时用 fallback。
func classify(err error, fallback string) string {
	if fsx.IsPathTypeConflict(err) {
		return domain.ErrCodeTargetConflict
	}
	var de *fetch.DownloadError
	if errors.As(err, &de) {
		return domain.ErrCodeFetchFailed
	}
	var re *render.Error
	if errors.As(err, &re) {
		return domain.ErrCodeRenderFailed
	}
	return fallback
}

func allSkipped(bands []domain.BandResult) bool {
	for _, b := range bands {
		if b.Status != domain.BandStatusSkipped {
			return false
		}
	}
	return true
}

// relBands 把波段落盘路径改写为相对 root 的形式（report 对外稳定，不泄漏绝对路径）。
func relBands(root string, bands []domain.BandResult) []domain.BandResult {
	out := make([]domain.BandResult, len(bands))
	copy(out, bands)
	for i := range out {
		if out[i].Path != "" {
			out[i].Path = relTo(root, out[i].Path)
		}
	}
	return out
}

func relTo(root, abs string) string {
	if rel, err := filepath.Rel(root, abs); err == nil {
		return rel
	}
	return abs
}

// failedTile 构造“还没进入执行阶段就失败”的瓦片条目（plan 阶段错误）。
func failedTile(it domain.Item, providerUsed, code, msg string) domain.TileResult {
	return domain.TileResult{
		ItemID:     it.ID,
		TileID:     it.TileID,
		Date:       it.DateString(),
		CloudCover: it.CloudCover,
		Provider:   providerUsed,
		Status:     domain.StatusFailed,
		ErrorCode:  code,
		ErrorMsg:   msg,
		Bands:      []domain.BandResult{},
		Renders:    []string{},
	}
}

// syntheticFailed 构造阶段级失败的合成条目（config/search/select 等无瓦片可归属的错误）。
func syntheticFailed(code, msg string) domain.TileResult {
	return domain.TileResult{
		ItemID:    "",
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Bands:     []domain.BandResult{},
		Renders:   []string{},
	}
}
