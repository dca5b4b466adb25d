// Package csvfmt 读写本项目的文本交换格式。
// 布局：首行为表头（索引列标签 + 坐标轴数值），随后每行一条记录
// （来源文件名 + 振幅）。单行文件产出 1-D 记录，多行产出共享轴的
// 2-D 谱系并为每行保留独立元数据。CLI 导出用同一布局回写。
package csvfmt

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/Velocidex/ordereddict"

	"specfmt/pkg/core"
)

// Options: CSV 无可配置项（分隔符固定为逗号）。
type Options struct{}

// Format 实现 CSV 交换格式。
type Format struct {
	core.Descriptor
}

// New 构造 CSV 格式描述符。
func New() *Format {
	return &Format{Descriptor: core.NewDescriptor(
		"CSV",
		"Spectra stored in CSV",
		".csv",
	)}
}

var _ core.Format = (*Format)(nil)

// CanRead 仅按扩展名识别（文本格式无魔数）。
func (f *Format) CanRead(res *core.Resource) (bool, error) {
	return f.MatchExtension(res.Filename()), nil
}

// OpenReader 整读资源并解码，返回绑定的 Reader。
func (f *Format) OpenReader(res *core.Resource, options json.RawMessage) (*core.Reader, error) {
	var opts Options
	if err := core.UnmarshalOptions(options, &opts); err != nil {
		return nil, err
	}
	stream, err := res.Stream()
	if err != nil {
		return nil, err
	}
	data, err := decode(stream, res.LocalFilename())
	if err != nil {
		return nil, err
	}
	return core.NewReader(f, res, data), nil
}

func decode(stream io.Reader, filename string) (core.Decoded, error) {
	cr := csv.NewReader(stream)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return core.Decoded{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	if len(records) < 2 {
		return core.Decoded{}, fmt.Errorf("%w: need a header and at least one row, got %d lines",
			core.ErrDecode, len(records))
	}

	header := records[0]
	if len(header) < 2 {
		return core.Decoded{}, fmt.Errorf("%w: header has no axis columns", core.ErrDecode)
	}
	wl := make([]float64, len(header)-1)
	for i, cell := range header[1:] {
		if wl[i], err = strconv.ParseFloat(cell, 64); err != nil {
			return core.Decoded{}, fmt.Errorf("%w: header column %d: %v", core.ErrDecode, i+1, err)
		}
	}

	rows := make([][]float64, 0, len(records)-1)
	names := make([]string, 0, len(records)-1)
	for li, rec := range records[1:] {
		if len(rec) != len(header) {
			return core.Decoded{}, fmt.Errorf("%w: row %d has %d columns, header has %d",
				core.ErrDecode, li+1, len(rec), len(header))
		}
		row := make([]float64, len(rec)-1)
		for i, cell := range rec[1:] {
			if row[i], err = strconv.ParseFloat(cell, 64); err != nil {
				return core.Decoded{}, fmt.Errorf("%w: row %d column %d: %v",
					core.ErrDecode, li+1, i+1, err)
			}
		}
		rows = append(rows, row)
		names = append(names, rec[0])
	}

	if len(rows) == 1 {
		meta := rowMeta(names[0], filename)
		s, err := core.NewSpectrum(rows[0], wl, meta)
		if err != nil {
			return core.Decoded{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
		}
		return core.Decoded{Spectrum: s}, nil
	}
	metas := make([]*ordereddict.Dict, len(rows))
	for i := range metas {
		metas[i] = rowMeta(names[i], filename)
	}
	s, err := core.NewSeriesWithMetas(rows, wl, metas)
	if err != nil {
		return core.Decoded{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	return core.Decoded{Spectrum: s}, nil
}

// rowMeta: 行内记录的来源名优先，空时回落资源文件名。
func rowMeta(name, filename string) *ordereddict.Dict {
	meta := ordereddict.NewDict()
	if name == "" && filename != "" {
		name = filepath.Base(filename)
	}
	meta.Set(core.MetaFilename, name)
	return meta
}

// Write 以读取的逆布局导出一条记录：表头（索引标签 + 轴），
// 每条目一行（来源文件名 + 振幅）。数值用最短往返十进制表示。
func Write(w io.Writer, s *core.Spectrum) error {
	cw := csv.NewWriter(w)
	header := make([]string, 1+len(s.Wavelength()))
	header[0] = "index"
	for i, x := range s.Wavelength() {
		header[i+1] = formatFloat(x)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, row := range s.Amplitudes() {
		rec := make([]string, 1+len(row))
		rec[0] = itemName(s, i)
		for j, v := range row {
			rec[j+1] = formatFloat(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func itemName(s *core.Spectrum, i int) string {
	m, err := s.ItemMeta(i)
	if err != nil || m == nil {
		return ""
	}
	v, ok := m.Get(core.MetaFilename)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}
