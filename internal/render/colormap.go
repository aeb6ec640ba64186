package render

import "image/color"

// 小型固定色带：锚点取自常用制图配色（NDVI 用红黄绿，NDWI 用蓝色渐变），
// 锚点之间线性插值。输入 t ∈ [0,1]，越界截断。

type ramp []color.NRGBA

var rdYlGn = ramp{
	{R: 165, G: 0, B: 38, A: 255},
	{R: 215, G: 48, B: 39, A: 255},
	{R: 244, G: 109, B: 67, A: 255},
	{R: 253, G: 174, B: 97, A: 255},
	{R: 254, G: 224, B: 139, A: 255},
	{R: 255, G: 255, B: 191, A: 255},
	{R: 217, G: 239, B: 139, A: 255},
	{R: 166, G: 217, B: 106, A: 255},
	{R: 102, G: 189, B: 99, A: 255},
	{R: 26, G: 152, B: 80, A: 255},
	{R: 0, G: 104, B: 55, A: 255},
}

var blues = ramp{
	{R: 247, G: 251, B: 255, A: 255},
	{R: 222, G: 235, B: 247, A: 255},
	{R: 198, G: 219, B: 239, A: 255},
	{R: 158, G: 202, B: 225, A: 255},
	{R: 107, G: 174, B: 214, A: 255},
	{R: 66, G: 146, B: 198, A: 255},
	{R: 33, G: 113, B: 181, A: 255},
	{R: 8, G: 81, B: 156, A: 255},
	{R: 8, G: 48, B: 107, A: 255},
}

func (r ramp) at(t float64) color.NRGBA {
	if t <= 0 {
		return r[0]
	}
	if t >= 1 {
		return r[len(r)-1]
	}
	pos := t * float64(len(r)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := r[i], r[i+1]
	return color.NRGBA{
		R: uint8(float64(a.R) + f*(float64(b.R)-float64(a.R))),
		G: uint8(float64(a.G) + f*(float64(b.G)-float64(a.G))),
		B: uint8(float64(a.B) + f*(float64(b.B)-float64(a.B))),
		A: 255,
	}
}
