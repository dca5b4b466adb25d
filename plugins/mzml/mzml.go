// Package mzml 读取 HUPO-PSI mzML 质谱 XML 格式。
// 每个 <spectrum> 元素自带 m/z 与强度两个 base64 二进制数组
// （cvParam 受控词表标注精度与压缩），逐扫描产出独立的一维记录。
// indexedmzML 外层包装对流式遍历透明。
package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/Velocidex/ordereddict"

	"specfmt/pkg/core"
)

// 受控词表 accession。
const (
	accMZArray        = "MS:1000514" // m/z array
	accIntensityArray = "MS:1000515" // intensity array
	accFloat64        = "MS:1000523" // 64-bit float
	accFloat32        = "MS:1000521" // 32-bit float
	accZlib           = "MS:1000574" // zlib compression
	accNoCompression  = "MS:1000576" // no compression
)

// Options: mzML 无可配置项。
type Options struct{}

// Format 实现 mzML 格式。
type Format struct {
	core.Descriptor
}

// New 构造 mzML 格式描述符。
func New() *Format {
	return &Format{Descriptor: core.NewDescriptor(
		"MZML",
		"mzML mass spectrometry markup language format",
		".mzml",
	)}
}

var _ core.Format = (*Format)(nil)

// CanRead 仅按扩展名识别（XML 无定长魔数，嗅探成本不划算）。
func (f *Format) CanRead(res *core.Resource) (bool, error) {
	return f.MatchExtension(res.Filename()), nil
}

// OpenReader 流式解析资源并解码，返回绑定的 Reader。
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

type xmlCVParam struct {
	Accession string `xml:"accession,attr"`
	Name      string `xml:"name,attr"`
	Value     string `xml:"value,attr"`
}

type xmlBinaryArray struct {
	CVParams []xmlCVParam `xml:"cvParam"`
	Binary   string       `xml:"binary"`
}

type xmlSpectrum struct {
	ID                 string           `xml:"id,attr"`
	Index              int              `xml:"index,attr"`
	DefaultArrayLength int              `xml:"defaultArrayLength,attr"`
	CVParams           []xmlCVParam     `xml:"cvParam"`
	Arrays             []xmlBinaryArray `xml:"binaryDataArrayList>binaryDataArray"`
}

// decode 以 token 流遍历文档，仅在 <spectrum> 处整体反序列化。
// 空扫描（无数据点）丢弃；其余逐扫描转为一维记录列表。
func decode(stream io.Reader, filename string) (core.Decoded, error) {
	dec := xml.NewDecoder(stream)
	spectra := make([]*core.Spectrum, 0)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return core.Decoded{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "spectrum" {
			continue
		}
		var xs xmlSpectrum
		if err := dec.DecodeElement(&xs, &start); err != nil {
			return core.Decoded{}, fmt.Errorf("%w: spectrum element: %v", core.ErrDecode, err)
		}
		s, err := buildSpectrum(&xs, filename)
		if err != nil {
			return core.Decoded{}, err
		}
		if s != nil {
			spectra = append(spectra, s)
		}
	}
	return core.Decoded{Spectra: spectra}, nil
}

func buildSpectrum(xs *xmlSpectrum, filename string) (*core.Spectrum, error) {
	var mz, intensity []float64
	for i := range xs.Arrays {
		arr := &xs.Arrays[i]
		values, err := decodeArray(arr)
		if err != nil {
			return nil, fmt.Errorf("spectrum %q: %w", xs.ID, err)
		}
		switch {
		case hasAccession(arr.CVParams, accMZArray):
			mz = values
		case hasAccession(arr.CVParams, accIntensityArray):
			intensity = values
		}
	}
	// 空扫描：不产出记录（列表保持紧致，下游索引连续）。
	if len(intensity) == 0 {
		return nil, nil
	}
	if len(mz) != len(intensity) {
		return nil, fmt.Errorf("%w: spectrum %q has %d m/z values for %d intensities",
			core.ErrDecode, xs.ID, len(mz), len(intensity))
	}

	meta := ordereddict.NewDict().
		Set("id", xs.ID).
		Set("index", int64(xs.Index))
	for _, p := range xs.CVParams {
		meta.Set(p.Name, p.Value)
	}
	if filename != "" {
		meta.Set(core.MetaFilename, filepath.Base(filename))
	}
	s, err := core.NewSpectrum(intensity, mz, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: spectrum %q: %v", core.ErrDecode, xs.ID, err)
	}
	return s, nil
}

func hasAccession(params []xmlCVParam, acc string) bool {
	for _, p := range params {
		if p.Accession == acc {
			return true
		}
	}
	return false
}

// decodeArray 解一个二进制数组：base64 → 可选 zlib 解压 → f64/f32。
// 精度 cvParam 缺失按 64 位处理（词表允许省略默认项）。
func decodeArray(arr *xmlBinaryArray) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(arr.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", core.ErrDecode, err)
	}
	if hasAccession(arr.CVParams, accZlib) {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", core.ErrDecode, err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", core.ErrDecode, err)
		}
	}
	if hasAccession(arr.CVParams, accFloat32) {
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("%w: 32-bit array length %d not a multiple of 4", core.ErrDecode, len(raw))
		}
		values := make([]float64, len(raw)/4)
		for i := range values {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
		return values, nil
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%w: 64-bit array length %d not a multiple of 8", core.ErrDecode, len(raw))
	}
	values := make([]float64, len(raw)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return values, nil
}
