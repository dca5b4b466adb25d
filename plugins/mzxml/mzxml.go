// Package mzxml 读取 mzXML 质谱 XML 格式（mzML 的前身）。
// 与 mzML 不同，每个 <scan> 只带一个 <peaks> 数组：base64 编码的
// m/z-强度交错对，网络字节序（大端），精度 32/64 位，可选 zlib 压缩。
// scan 可嵌套（子扫描），逐扫描产出独立的一维记录。
package mzxml

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

// Options: mzXML 无可配置项。
type Options struct{}

// Format 实现 mzXML 格式。
type Format struct {
	core.Descriptor
}

// New 构造 mzXML 格式描述符。
func New() *Format {
	return &Format{Descriptor: core.NewDescriptor(
		"MZXML",
		"mzXML Mass Spectrometry data format",
		".mzxml",
	)}
}

var _ core.Format = (*Format)(nil)

// CanRead 仅按扩展名识别。
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

type xmlPeaks struct {
	Precision       string `xml:"precision,attr"`
	ByteOrder       string `xml:"byteOrder,attr"`
	CompressionType string `xml:"compressionType,attr"`
	Value           string `xml:",chardata"`
}

type xmlScan struct {
	Num           string    `xml:"num,attr"`
	MSLevel       string    `xml:"msLevel,attr"`
	PeaksCount    int       `xml:"peaksCount,attr"`
	RetentionTime string    `xml:"retentionTime,attr"`
	Polarity      string    `xml:"polarity,attr"`
	Peaks         xmlPeaks  `xml:"peaks"`
	Scans         []xmlScan `xml:"scan"` // 嵌套子扫描
}

// decode 以 token 流遍历文档，在顶层 <scan> 处整体反序列化
// （嵌套子扫描随外层一并取出，再展开）。空扫描丢弃。
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
		if !ok || start.Name.Local != "scan" {
			continue
		}
		var xs xmlScan
		if err := dec.DecodeElement(&xs, &start); err != nil {
			return core.Decoded{}, fmt.Errorf("%w: scan element: %v", core.ErrDecode, err)
		}
		if err := appendScans(&spectra, &xs, filename); err != nil {
			return core.Decoded{}, err
		}
	}
	return core.Decoded{Spectra: spectra}, nil
}

func appendScans(out *[]*core.Spectrum, xs *xmlScan, filename string) error {
	s, err := buildSpectrum(xs, filename)
	if err != nil {
		return err
	}
	if s != nil {
		*out = append(*out, s)
	}
	for i := range xs.Scans {
		if err := appendScans(out, &xs.Scans[i], filename); err != nil {
			return err
		}
	}
	return nil
}

func buildSpectrum(xs *xmlScan, filename string) (*core.Spectrum, error) {
	mz, intensity, err := decodePeaks(&xs.Peaks)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", xs.Num, err)
	}
	// 空扫描：不产出记录。
	if len(intensity) == 0 {
		return nil, nil
	}

	meta := ordereddict.NewDict().
		Set("num", xs.Num).
		Set("ms_level", xs.MSLevel).
		Set("peaks_count", int64(xs.PeaksCount)).
		Set("retention_time", xs.RetentionTime).
		Set("polarity", xs.Polarity)
	if filename != "" {
		meta.Set(core.MetaFilename, filepath.Base(filename))
	}
	s, err := core.NewSpectrum(intensity, mz, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", core.ErrDecode, xs.Num, err)
	}
	return s, nil
}

// decodePeaks 解交错峰数组：base64 → 可选 zlib → 大端 (m/z, 强度) 对。
// 精度缺省按 32 位处理（mzXML schema 的缺省值）。
func decodePeaks(p *xmlPeaks) (mz, intensity []float64, err error) {
	if p.Value == "" {
		return nil, nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(p.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: base64: %v", core.ErrDecode, err)
	}
	if p.CompressionType == "zlib" {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zlib: %v", core.ErrDecode, err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, nil, fmt.Errorf("%w: zlib: %v", core.ErrDecode, err)
		}
	}
	width := 4
	if p.Precision == "64" {
		width = 8
	}
	if len(raw)%(2*width) != 0 {
		return nil, nil, fmt.Errorf("%w: peaks length %d not a multiple of pair width %d",
			core.ErrDecode, len(raw), 2*width)
	}
	n := len(raw) / (2 * width)
	mz = make([]float64, n)
	intensity = make([]float64, n)
	for i := 0; i < n; i++ {
		off := i * 2 * width
		if width == 8 {
			mz[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[off:]))
			intensity[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[off+8:]))
		} else {
			mz[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[off:])))
			intensity[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[off+4:])))
		}
	}
	return mz, intensity, nil
}
