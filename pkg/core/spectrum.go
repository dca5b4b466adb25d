package core

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
)

// MetaFilename: 元数据保留键，记录来源文件名。
const MetaFilename = "filename"

// Spectrum: 归一化解码单元（Record）。
// 约束：
// 1) amplitudes 为 1-D（单谱）或 2-D（n_items × n_coord）；
// 2) wavelength 为共享 1-D 坐标轴，长度等于 amplitudes 末维；
// 3) 轴长失配是构造错误，不是延迟失败；
// 4) 构造后不可变，由 Reader 产出、Reconciler 或调用方消费。
type Spectrum struct {
	amplitudes [][]float64
	oneDim     bool
	wavelength []float64
	meta       *ordereddict.Dict
	// metas: 逐条元数据（与 amplitudes 行对齐）。多行 CSV 与
	// 合并数据集使用；为 nil 表示仅有全局 meta。
	metas []*ordereddict.Dict
}

// NewSpectrum 构造 1-D 单谱。meta 为 nil 时使用空字典。
func NewSpectrum(amplitudes, wavelength []float64, meta *ordereddict.Dict) (*Spectrum, error) {
	if len(amplitudes) != len(wavelength) {
		return nil, fmt.Errorf("wavelength and amplitudes length mismatch: %d != %d",
			len(wavelength), len(amplitudes))
	}
	if meta == nil {
		meta = ordereddict.NewDict()
	}
	return &Spectrum{
		amplitudes: [][]float64{amplitudes},
		oneDim:     true,
		wavelength: wavelength,
		meta:       meta,
	}, nil
}

// NewSeries 构造 2-D 谱系（共享坐标轴）。每行长度必须等于轴长。
func NewSeries(amplitudes [][]float64, wavelength []float64, meta *ordereddict.Dict) (*Spectrum, error) {
	for i, row := range amplitudes {
		if len(row) != len(wavelength) {
			return nil, fmt.Errorf("wavelength and amplitudes length mismatch at row %d: %d != %d",
				i, len(wavelength), len(row))
		}
	}
	if meta == nil {
		meta = ordereddict.NewDict()
	}
	return &Spectrum{amplitudes: amplitudes, wavelength: wavelength, meta: meta}, nil
}

// NewSeriesWithMetas 构造带逐条元数据的 2-D 谱系。
// metas 与行对齐；长度失配是构造错误。
func NewSeriesWithMetas(amplitudes [][]float64, wavelength []float64, metas []*ordereddict.Dict) (*Spectrum, error) {
	if len(metas) != len(amplitudes) {
		return nil, fmt.Errorf("metas and amplitudes length mismatch: %d != %d",
			len(metas), len(amplitudes))
	}
	s, err := NewSeries(amplitudes, wavelength, nil)
	if err != nil {
		return nil, err
	}
	s.metas = metas
	return s, nil
}

// OneDim 返回是否为 1-D 单谱。
func (s *Spectrum) OneDim() bool { return s.oneDim }

// Items 返回条目数：1-D 为 1，2-D 为行数。
func (s *Spectrum) Items() int {
	if s.oneDim {
		return 1
	}
	return len(s.amplitudes)
}

// Values 返回 1-D 振幅；对 2-D 返回首行（调用方自行保证 1-D）。
func (s *Spectrum) Values() []float64 { return s.amplitudes[0] }

// Amplitudes 返回底层 2-D 视图（1-D 时为单行）。不复制。
func (s *Spectrum) Amplitudes() [][]float64 { return s.amplitudes }

// Wavelength 返回共享坐标轴。不复制。
func (s *Spectrum) Wavelength() []float64 { return s.wavelength }

// Meta 返回全局元数据。
func (s *Spectrum) Meta() *ordereddict.Dict { return s.meta }

// Metas 返回逐条元数据（可能为 nil）。
func (s *Spectrum) Metas() []*ordereddict.Dict { return s.metas }

// ItemMeta 返回第 i 条的元数据：有逐条元数据时取对应项，否则回落全局。
func (s *Spectrum) ItemMeta(i int) (*ordereddict.Dict, error) {
	if s.metas != nil {
		if i < 0 || i >= len(s.metas) {
			return nil, fmt.Errorf("%w: meta %d of %d", ErrIndex, i, len(s.metas))
		}
		return s.metas[i], nil
	}
	return s.meta, nil
}

// Row 返回第 i 条切片出的 1-D 谱。
// 与原始语义一致：1-D 谱对任意索引返回自身；2-D 越界返回索引错误。
func (s *Spectrum) Row(i int) (*Spectrum, error) {
	if s.oneDim {
		return s, nil
	}
	if i < 0 || i >= len(s.amplitudes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndex, i, len(s.amplitudes))
	}
	m := s.meta
	if s.metas != nil {
		m = s.metas[i]
	}
	return &Spectrum{
		amplitudes: [][]float64{s.amplitudes[i]},
		oneDim:     true,
		wavelength: s.wavelength,
		meta:       m,
	}, nil
}

// Decoded: 单资源整体解码结果。二者有且仅有一个非空：
// Spectrum 为自然单记录（可为 2-D 谱系）；Spectra 为天然多记录格式
// （如每扫描一条、各自坐标轴的质谱文件）。
type Decoded struct {
	Spectrum *Spectrum
	Spectra  []*Spectrum
}

// IsList 返回是否为多记录结果。
func (d Decoded) IsList() bool { return d.Spectra != nil }
