package raster

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
)

// ErrEmptyStack 表示堆叠请求的波段列表为空（配置错误，不可重试）。
var ErrEmptyStack = errors.New("stack: 波段列表为空")

var registerOnce sync.Once

// Register 确保 GDAL 驱动只注册一次（栅格入口与渲染层都先调用它）。
func Register() { registerOnce.Do(godal.RegisterAll) }

// Meta 是单个波段文件的栅格元数据（Raster Resolution Resolver 的输出）。
//
// 约束：
// - 只读消费：该结构描述磁盘上的既有文件，堆叠子系统绝不改写输入
// - 像元视为各向同性（Sentinel 系列恒为方形像元），PixelSize 取 Transform[1] 的绝对值
// - 多波段输入文件只取第 1 波段（本域的下载产物均为单波段文件）
type Meta struct {
	Width      int
	Height     int
	Transform  [6]float64
	Projection string
	DataType   godal.DataType
	NoData     *float64
}

// PixelSize 返回像元大小的绝对值（米或源 CRS 的单位）。
func (m Meta) PixelSize() float64 { return math.Abs(m.Transform[1]) }

// Grid 返回该波段自身的网格（native/highest 模式直接以此为目标网格）。
func (m Meta) Grid() Grid {
	return Grid{
		Width:      m.Width,
		Height:     m.Height,
		Transform:  m.Transform,
		Projection: m.Projection,
	}
}

// ReadMeta 打开波段文件并读取 {尺寸, 仿射变换, CRS, 数据类型, nodata}。
// 文件缺失/不可读直接返回错误（I/O 错误不在本层重试，重试属于下载层）。
func ReadMeta(path string) (Meta, error) {
	Register()

	ds, err := godal.Open(path)
	if err != nil {
		return Meta{}, fmt.Errorf("打开栅格失败 %q: %w", path, err)
	}
	defer ds.Close()

	return metaOf(ds, path)
}

func metaOf(ds *godal.Dataset, path string) (Meta, error) {
	st := ds.Structure()
	if st.NBands < 1 {
		return Meta{}, fmt.Errorf("栅格 %q 不含任何波段", path)
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return Meta{}, fmt.Errorf("读取 geotransform 失败 %q: %w", path, err)
	}

	band := ds.Bands()[0]
	m := Meta{
		Width:      st.SizeX,
		Height:     st.SizeY,
		Transform:  gt,
		Projection: ds.Projection(),
		DataType:   band.Structure().DataType,
	}
	if nd, ok := band.NoData(); ok {
		m.NoData = &nd
	}
	return m, nil
}
