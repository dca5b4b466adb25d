// Package reconcile 把多个资源的解码结果归并为单一结果。
// 规则（全有或全无）：
// 1) 任一输入为多记录列表 → 仅拍平一层，不做轴归并；
// 2) 全部为单记录且坐标轴在容差内逐点一致 → 沿首轴纵向堆叠为
//    一个 2-D 谱系，逐行保留各来源的元数据；
// 3) 任一轴失配 → 退回拍平列表。轴失配不是错误，是形状信息。
package reconcile

import (
	"math"

	"github.com/Velocidex/ordereddict"
	vecmath "github.com/cwbudde/algo-vecmath"

	"specfmt/pkg/core"
)

// Merge 归并多份解码结果。tol 为坐标轴逐点绝对容差。
// 单输入也走堆叠路径：输出形状只由输入个数与兼容性决定，
// 调用方无须对 1 个文件与 N 个文件分别编码。
func Merge(inputs []core.Decoded, tol float64) core.Decoded {
	if len(inputs) == 0 {
		return core.Decoded{Spectra: []*core.Spectrum{}}
	}

	mergeable := true
	for _, in := range inputs {
		if in.IsList() || in.Spectrum == nil {
			mergeable = false
			break
		}
	}
	if mergeable {
		axis := inputs[0].Spectrum.Wavelength()
		for _, in := range inputs[1:] {
			if !axesClose(axis, in.Spectrum.Wavelength(), tol) {
				mergeable = false
				break
			}
		}
	}
	if !mergeable {
		return core.Decoded{Spectra: flatten(inputs)}
	}

	var rows [][]float64
	var metas []*ordereddict.Dict
	for _, in := range inputs {
		s := in.Spectrum
		rows = append(rows, s.Amplitudes()...)
		for i := 0; i < s.Items(); i++ {
			m, _ := s.ItemMeta(i)
			metas = append(metas, m)
		}
	}
	merged, err := core.NewSeriesWithMetas(rows, inputs[0].Spectrum.Wavelength(), metas)
	if err != nil {
		// 行长与轴长在各输入内部已校验过；跨输入轴长在 axesClose
		// 中比对过，此处失败只能是编程错误。
		return core.Decoded{Spectra: flatten(inputs)}
	}
	return core.Decoded{Spectrum: merged}
}

// axesClose 判定两轴逐点绝对偏差均不超过 tol（含边界）。长度失配即否。
func axesClose(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	diff := make([]float64, len(a))
	vecmath.ScaleBlock(diff, b, -1)
	vecmath.AddBlockInPlace(diff, a)
	for _, d := range diff {
		if math.Abs(d) > tol {
			return false
		}
	}
	return true
}

// flatten 拍平一层：列表取其元素，单记录原样保留——不归并就不改形状，
// 2-D 谱系不得被切成逐行记录。
func flatten(inputs []core.Decoded) []*core.Spectrum {
	out := make([]*core.Spectrum, 0, len(inputs))
	for _, in := range inputs {
		if in.IsList() {
			out = append(out, in.Spectra...)
			continue
		}
		if in.Spectrum != nil {
			out = append(out, in.Spectrum)
		}
	}
	return out
}
