// Package spc 读取 Galactic/Thermo SPC 二进制格式（新 LSB 版式 0x4B）。
// 布局：512 字节定长主头 + 可选全局 X 数组（txvals）+ fnsub 个子文件
// （32 字节子头 + Y 块）。Y 为定点整数（按 2^(exp-32)/2^(exp-16) 缩放）
// 或 IEEE f32（指数字节 0x80）。可选日志块位于 flogoff。全文件小端。
package spc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/Velocidex/ordereddict"
	vecmath "github.com/cwbudde/algo-vecmath"

	"specfmt/pkg/core"
)

const (
	headerLen    = 512
	subHeaderLen = 32

	// 支持的版本字节（新格式、LSB 字序）。
	versionNewLSB = 0x4b

	// 指数字节 0x80：Y 为 IEEE f32 而非定点整数。
	expFloat = -128
)

// 主头标志位。
const (
	flagTSPREC = 1 << iota // Y 为 16 位定点
	flagTCGRAM
	flagTMULTI // 多子文件
	flagTRANDM
	flagTORDRD
	flagTALABS
	flagTXYXYS // 每子文件独立 X（不在支持范围内）
	flagTXVALS // 头后带全局 X 数组
)

// Options: SPC 无可配置项。
type Options struct{}

// Format 实现 SPC 格式。
type Format struct {
	core.Descriptor
}

// New 构造 SPC 格式描述符。
func New() *Format {
	return &Format{Descriptor: core.NewDescriptor(
		"SPC",
		"Galactic Industries Corporation binary format",
		".spc",
	)}
}

var _ core.Format = (*Format)(nil)

// CanRead 检查扩展名命中后验证版本字节。家族识别成功但子版本不受
// 支持时返回 ErrVersion（不折叠为 false——版本失配是可行动信息）。
func (f *Format) CanRead(res *core.Resource) (bool, error) {
	if !f.MatchExtension(res.Filename()) {
		return false, nil
	}
	fb, err := res.Firstbytes(2)
	if err != nil {
		return false, err
	}
	if len(fb) < 2 {
		return false, nil
	}
	if fb[1] != versionNewLSB {
		return false, fmt.Errorf("%w: spc version 0x%02x (supported: 0x%02x)",
			core.ErrVersion, fb[1], byte(versionNewLSB))
	}
	return true, nil
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
	content, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	data, err := decode(content, res.LocalFilename())
	if err != nil {
		return nil, err
	}
	return core.NewReader(f, res, data), nil
}

// header: 512 字节主头（新 LSB 版式）的展开。
type header struct {
	ftflg   byte
	fversn  byte
	fexper  byte
	fexp    int8
	fnpts   uint32
	ffirst  float64
	flast   float64
	fnsub   uint32
	fxtype  byte
	fytype  byte
	fztype  byte
	fpost   byte
	fdate   uint32
	fres    string
	fsource string
	fpeakpt uint16
	fcmnt   string
	fcatxt  string
	flogoff uint32
	fmods   uint32
	fprocs  byte
	flevel  byte
	fsampin uint16
	ffactor float32
	fmethod string
	fzinc   float32
	fwplane uint32
	fwinc   float32
	fwtype  byte
}

func parseHeader(b []byte) header {
	f32 := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
	}
	f64 := func(off int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
	}
	return header{
		ftflg:   b[0],
		fversn:  b[1],
		fexper:  b[2],
		fexp:    int8(b[3]),
		fnpts:   binary.LittleEndian.Uint32(b[4:]),
		ffirst:  f64(8),
		flast:   f64(16),
		fnsub:   binary.LittleEndian.Uint32(b[24:]),
		fxtype:  b[28],
		fytype:  b[29],
		fztype:  b[30],
		fpost:   b[31],
		fdate:   binary.LittleEndian.Uint32(b[32:]),
		fres:    cstring(b[36:45]),
		fsource: cstring(b[45:54]),
		fpeakpt: binary.LittleEndian.Uint16(b[54:]),
		fcmnt:   cstring(b[88:218]),
		fcatxt:  cstring(b[218:248]),
		flogoff: binary.LittleEndian.Uint32(b[248:]),
		fmods:   binary.LittleEndian.Uint32(b[252:]),
		fprocs:  b[256],
		flevel:  b[257],
		fsampin: binary.LittleEndian.Uint16(b[258:]),
		ffactor: f32(260),
		fmethod: cstring(b[264:312]),
		fzinc:   f32(312),
		fwplane: binary.LittleEndian.Uint32(b[316:]),
		fwinc:   f32(320),
		fwtype:  b[324],
	}
}

// cstring 去掉尾部 NUL/空白。
func cstring(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}

func decode(content []byte, filename string) (core.Decoded, error) {
	if len(content) < headerLen {
		return core.Decoded{}, fmt.Errorf("%w: truncated header (%d bytes)", core.ErrDecode, len(content))
	}
	h := parseHeader(content[:headerLen])
	if h.fversn != versionNewLSB {
		return core.Decoded{}, fmt.Errorf("%w: spc version 0x%02x", core.ErrVersion, h.fversn)
	}
	if h.ftflg&flagTXYXYS != 0 {
		return core.Decoded{}, fmt.Errorf("%w: per-subfile x arrays (txyxys) not supported", core.ErrDecode)
	}
	npts := int(h.fnpts)
	nsub := int(h.fnsub)
	if npts <= 0 {
		return core.Decoded{}, fmt.Errorf("%w: fnpts %d", core.ErrDecode, npts)
	}
	if nsub <= 0 {
		nsub = 1
	}

	meta := buildMeta(h, filename)

	off := headerLen
	var x []float64
	if h.ftflg&flagTXVALS != 0 {
		if off+4*npts > len(content) {
			return core.Decoded{}, fmt.Errorf("%w: x array truncated", core.ErrDecode)
		}
		x = make([]float64, npts)
		for i := range x {
			x[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(content[off+4*i:])))
		}
		off += 4 * npts
	} else {
		x = linspace(h.ffirst, h.flast, npts)
	}

	rows := make([][]float64, 0, nsub)
	for s := 0; s < nsub; s++ {
		if off+subHeaderLen > len(content) {
			return core.Decoded{}, fmt.Errorf("%w: subheader %d truncated", core.ErrDecode, s)
		}
		sub := content[off : off+subHeaderLen]
		subexp := int8(sub[1])
		subnpts := int(binary.LittleEndian.Uint32(sub[12:]))
		off += subHeaderLen
		if subnpts != 0 && subnpts != npts {
			return core.Decoded{}, fmt.Errorf("%w: subfile %d has %d points, header says %d",
				core.ErrDecode, s, subnpts, npts)
		}
		exp := h.fexp
		if h.ftflg&flagTMULTI != 0 && subexp != 0 {
			exp = subexp
		}
		y, n, err := decodeY(content[off:], npts, exp, h.ftflg&flagTSPREC != 0)
		if err != nil {
			return core.Decoded{}, fmt.Errorf("subfile %d: %w", s, err)
		}
		off += n
		rows = append(rows, y)
	}

	if h.flogoff > 0 {
		decodeLog(content, int(h.flogoff), meta)
	}

	var spec *core.Spectrum
	var err error
	if len(rows) == 1 {
		spec, err = core.NewSpectrum(rows[0], x, meta)
	} else {
		spec, err = core.NewSeries(rows, x, meta)
	}
	if err != nil {
		return core.Decoded{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	return core.Decoded{Spectrum: spec}, nil
}

// decodeY 解一个子文件的 Y 块，返回数据与消费的字节数。
// 指数 0x80 → IEEE f32；否则定点整数（tsprec: i16 × 2^(exp-16)，
// 其余 i32 × 2^(exp-32)），缩放经由块向量运算。
func decodeY(b []byte, npts int, exp int8, sixteenBit bool) ([]float64, int, error) {
	y := make([]float64, npts)
	switch {
	case exp == expFloat:
		if len(b) < 4*npts {
			return nil, 0, fmt.Errorf("%w: y block truncated (%d of %d bytes)",
				core.ErrDecode, len(b), 4*npts)
		}
		for i := range y {
			y[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
		}
		return y, 4 * npts, nil
	case sixteenBit:
		if len(b) < 2*npts {
			return nil, 0, fmt.Errorf("%w: y block truncated (%d of %d bytes)",
				core.ErrDecode, len(b), 2*npts)
		}
		raw := make([]float64, npts)
		for i := range raw {
			raw[i] = float64(int16(binary.LittleEndian.Uint16(b[2*i:])))
		}
		vecmath.ScaleBlock(y, raw, math.Pow(2, float64(exp)-16))
		return y, 2 * npts, nil
	default:
		if len(b) < 4*npts {
			return nil, 0, fmt.Errorf("%w: y block truncated (%d of %d bytes)",
				core.ErrDecode, len(b), 4*npts)
		}
		raw := make([]float64, npts)
		for i := range raw {
			raw[i] = float64(int32(binary.LittleEndian.Uint32(b[4*i:])))
		}
		vecmath.ScaleBlock(y, raw, math.Pow(2, float64(exp)-32))
		return y, 4 * npts, nil
	}
}

func linspace(first, last float64, n int) []float64 {
	x := make([]float64, n)
	if n == 1 {
		x[0] = first
		return x
	}
	step := (last - first) / float64(n-1)
	for i := range x {
		x[i] = first + float64(i)*step
	}
	return x
}

// decodeLog 解 flogoff 处的日志块：64 字节日志头 + "key = value"
// 文本行。日志损坏不致命——尽量提取，失败即放弃。
func decodeLog(content []byte, off int, meta *ordereddict.Dict) {
	if off+64 > len(content) {
		return
	}
	logsizd := int(binary.LittleEndian.Uint32(content[off:]))
	logsizm := int(binary.LittleEndian.Uint32(content[off+4:]))
	logtxto := int(binary.LittleEndian.Uint32(content[off+8:]))
	logbins := int(binary.LittleEndian.Uint32(content[off+12:]))
	logdsks := int(binary.LittleEndian.Uint32(content[off+16:]))
	meta.Set("logsizd", int64(logsizd)).
		Set("logsizm", int64(logsizm)).
		Set("logtxto", int64(logtxto)).
		Set("logbins", int64(logbins)).
		Set("logdsks", int64(logdsks))
	if logtxto <= 0 || logtxto >= logsizd || off+logsizd > len(content) {
		return
	}
	text := string(content[off+logtxto : off+logsizd])
	logDict := ordereddict.NewDict()
	for _, line := range strings.Split(text, "\r\n") {
		line = strings.Trim(line, "\x00 \t\n\r")
		if line == "" {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		logDict.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	meta.Set("log_dict", logDict)
}

func buildMeta(h header, filename string) *ordereddict.Dict {
	year := int64(h.fdate >> 20)
	month := int64(h.fdate >> 16 & 0x0f)
	day := int64(h.fdate >> 12 & 0x1f)
	hour := int64(h.fdate >> 6 & 0x3f)
	minute := int64(h.fdate & 0x3f)

	datFmt := "gx-y"
	if h.ftflg&flagTXVALS != 0 {
		datFmt = "x-y"
	}
	spacing := 0.0
	if h.fnpts > 1 {
		spacing = (h.flast - h.ffirst) / float64(h.fnpts-1)
	}

	meta := ordereddict.NewDict().
		Set("ftflg", int64(h.ftflg)).
		Set("fversn", int64(h.fversn)).
		Set("fexper", int64(h.fexper)).
		Set("fexp", int64(h.fexp)).
		Set("fnpts", int64(h.fnpts)).
		Set("ffirst", h.ffirst).
		Set("flast", h.flast).
		Set("fnsub", int64(h.fnsub)).
		Set("fxtype", int64(h.fxtype)).
		Set("fytype", int64(h.fytype)).
		Set("fztype", int64(h.fztype)).
		Set("fpost", int64(h.fpost)).
		Set("fdate", int64(h.fdate)).
		Set("year", year).
		Set("month", month).
		Set("day", day).
		Set("hour", hour).
		Set("minute", minute).
		Set("fres", h.fres).
		Set("fsource", h.fsource).
		Set("fpeakpt", int64(h.fpeakpt)).
		Set("cmnt", h.fcmnt).
		Set("fcatxt", h.fcatxt).
		Set("flogoff", int64(h.flogoff)).
		Set("fmods", int64(h.fmods)).
		Set("fprocs", int64(h.fprocs)).
		Set("flevel", int64(h.flevel)).
		Set("fsampin", int64(h.fsampin)).
		Set("ffactor", float64(h.ffactor)).
		Set("fmethod", h.fmethod).
		Set("fzinc", float64(h.fzinc)).
		Set("fwplanes", int64(h.fwplane)).
		Set("fwinc", float64(h.fwinc)).
		Set("fwtype", int64(h.fwtype)).
		Set("tsprec", h.ftflg&flagTSPREC != 0).
		Set("tcgram", h.ftflg&flagTCGRAM != 0).
		Set("tmulti", h.ftflg&flagTMULTI != 0).
		Set("trandm", h.ftflg&flagTRANDM != 0).
		Set("tordrd", h.ftflg&flagTORDRD != 0).
		Set("talabs", h.ftflg&flagTALABS != 0).
		Set("txyxys", h.ftflg&flagTXYXYS != 0).
		Set("txvals", h.ftflg&flagTXVALS != 0).
		Set("dat_fmt", datFmt).
		Set("spacing", spacing).
		Set("exp_type", axisLabel(expTypes, h.fexper)).
		Set("xlabel", axisLabel(xLabels, h.fxtype)).
		Set("ylabel", axisLabel(yLabels, h.fytype)).
		Set("zlabel", axisLabel(xLabels, h.fztype))
	if filename != "" {
		meta.Set(core.MetaFilename, filepath.Base(filename))
	}
	return meta
}

func axisLabel(table map[byte]string, t byte) string {
	if s, ok := table[t]; ok {
		return s
	}
	return "Unknown"
}

var expTypes = map[byte]string{
	0:  "General SPC",
	1:  "Gas Chromatogram",
	2:  "General Chromatogram",
	3:  "HPLC Chromatogram",
	4:  "FT-IR, FT-NIR, FT-Raman Spectrum",
	5:  "NIR Spectrum",
	7:  "UV-VIS Spectrum",
	8:  "X-ray Diffraction Spectrum",
	9:  "Mass Spectrum",
	10: "NMR Spectrum",
	11: "Raman Spectrum",
	12: "Fluorescence Spectrum",
	13: "Atomic Spectrum",
	14: "Chromatography Diode Array Spectra",
}

var xLabels = map[byte]string{
	0:  "Arbitrary",
	1:  "Wavenumber (cm-1)",
	2:  "Micrometers (um)",
	3:  "Nanometers (nm)",
	4:  "Seconds",
	5:  "Minutes",
	6:  "Hertz (Hz)",
	7:  "Kilohertz (KHz)",
	8:  "Megahertz (MHz)",
	9:  "Mass (M/z)",
	10: "Parts per million (PPM)",
	11: "Days",
	12: "Years",
	13: "Raman Shift (cm-1)",
	14: "eV",
}

var yLabels = map[byte]string{
	0:   "Arbitrary Intensity",
	1:   "Interferogram",
	2:   "Absorbance",
	3:   "Kubelka-Monk",
	4:   "Counts",
	5:   "Volts",
	6:   "Degrees",
	7:   "Milliamps",
	8:   "Millimeters",
	9:   "Millivolts",
	10:  "Log(1/R)",
	11:  "Percent",
	12:  "Intensity",
	13:  "Relative Intensity",
	14:  "Energy",
	16:  "Decibel",
	19:  "Temperature (F)",
	20:  "Temperature (C)",
	21:  "Temperature (K)",
	22:  "Index of Refraction [N]",
	23:  "Extinction Coeff. [K]",
	24:  "Real",
	25:  "Imaginary",
	26:  "Complex",
	128: "Transmission",
	129: "Reflectance",
	130: "Arbitrary or Single Beam with Valley Peaks",
	131: "Emission",
}
