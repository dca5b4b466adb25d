// Package fsm 读取 Perkin Elmer Spotlight IR 仪器的 FSM 二进制格式。
// 布局：4 字节魔数 "PEPE" + 40 字节自由文本描述，随后为连续的
// (u16 块ID, i32 块长, 载荷) 记录直至流尾。全文件小端。
package fsm

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/Velocidex/ordereddict"

	"specfmt/pkg/core"
)

var magic = []byte("PEPE")

const headerLen = 4 + 40

// 块 ID。未知 ID 静默跳过（不贡献元数据/数据，亦不报错）。
const (
	blockHeader = 5100 // 仪器头（扫描几何与范围）
	blockText   = 5104 // 标签化内联文本/整数字段
	blockData   = 5105 // 一行 f32 振幅
)

// Options: FSM 无可配置项；保留空结构以严格拒绝未知字段。
type Options struct{}

// Format 实现 FSM 格式。
type Format struct {
	core.Descriptor
}

// New 构造 FSM 格式描述符。
func New() *Format {
	return &Format{Descriptor: core.NewDescriptor(
		"FSM",
		"FSM Perkin Elmer Spotlight IR instrument binary format",
		".fsm",
	)}
}

var _ core.Format = (*Format)(nil)

// CanRead 检查扩展名命中且前 4 字节为魔数。
func (f *Format) CanRead(res *core.Resource) (bool, error) {
	if !f.MatchExtension(res.Filename()) {
		return false, nil
	}
	fb, err := res.Firstbytes(4)
	if err != nil {
		return false, err
	}
	return bytes.Equal(fb, magic), nil
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

// blockInfo 解出 6 字节块头：u16 ID + i32 块长。
func blockInfo(data []byte) (uint16, int, error) {
	if len(data) < 6 {
		return 0, 0, fmt.Errorf("%w: block info needs 6 bytes, got %d", core.ErrDecode, len(data))
	}
	id := binary.LittleEndian.Uint16(data)
	size := int32(binary.LittleEndian.Uint32(data[2:]))
	if size < 0 {
		return 0, 0, fmt.Errorf("%w: negative block size %d", core.ErrDecode, size)
	}
	return id, int(size), nil
}

func decode(content []byte, filename string) (core.Decoded, error) {
	if len(content) < headerLen {
		return core.Decoded{}, fmt.Errorf("%w: truncated header (%d bytes)", core.ErrDecode, len(content))
	}
	meta := ordereddict.NewDict().
		Set("signature", string(content[:4])).
		Set("description", string(content[4:headerLen]))
	if filename != "" {
		meta.Set(core.MetaFilename, filepath.Base(filename))
	}

	var rows [][]float64
	off := headerLen
	for off+6 <= len(content) {
		id, size, err := blockInfo(content[off : off+6])
		if err != nil {
			return core.Decoded{}, err
		}
		off += 6
		if off+size > len(content) {
			return core.Decoded{}, fmt.Errorf("%w: block %d declares %d bytes, %d remain",
				core.ErrDecode, id, size, len(content)-off)
		}
		payload := content[off : off+size]
		off += size
		switch id {
		case blockHeader:
			if err := decodeHeader(payload, meta); err != nil {
				return core.Decoded{}, err
			}
		case blockText:
			if err := decodeText(payload, meta); err != nil {
				return core.Decoded{}, err
			}
		case blockData:
			row, err := decodeRow(payload)
			if err != nil {
				return core.Decoded{}, err
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return core.Decoded{}, fmt.Errorf("%w: no data block (id %d)", core.ErrDecode, blockData)
	}

	wl, err := wavelength(meta, len(rows[0]))
	if err != nil {
		return core.Decoded{}, err
	}
	var s *core.Spectrum
	if len(rows) == 1 {
		s, err = core.NewSpectrum(rows[0], wl, meta)
	} else {
		s, err = core.NewSeries(rows, wl, meta)
	}
	if err != nil {
		return core.Decoded{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	return core.Decoded{Spectrum: s}, nil
}

// wavelength 依 5100 头的 z 范围构造坐标轴（端点含入）。
// 头缺失时退化为索引轴；头在场但范围点数与行长不符是解码失败——
// 坏头不得被编造的轴掩盖。
func wavelength(meta *ordereddict.Dict, n int) ([]float64, error) {
	start, ok1 := getFloat(meta, "z_start")
	end, ok2 := getFloat(meta, "z_end")
	delta, ok3 := getFloat(meta, "z_delta")
	wl := make([]float64, n)
	if ok1 && ok2 && ok3 && delta != 0 {
		m := int(math.Round((end-start)/delta)) + 1
		if m != n {
			return nil, fmt.Errorf("%w: 5100 z range yields %d points, data rows carry %d",
				core.ErrDecode, m, n)
		}
		for i := range wl {
			wl[i] = start + float64(i)*delta
		}
		return wl, nil
	}
	for i := range wl {
		wl[i] = float64(i)
	}
	return wl, nil
}

func getFloat(meta *ordereddict.Dict, key string) (float64, bool) {
	v, ok := meta.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// decodeHeader 解 5100 块：i16 名字长 + 名字 + 104 字节定长头
// （10×f64, 3×i32, 4×(i16,u8)，其中 i16 项除 resolution/transmission 外忽略）。
func decodeHeader(data []byte, meta *ordereddict.Dict) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: 5100 block too short", core.ErrDecode)
	}
	nameSize := int(int16(binary.LittleEndian.Uint16(data)))
	if nameSize < 0 || 2+nameSize+104 > len(data) {
		return fmt.Errorf("%w: 5100 block truncated (name %d bytes, %d total)",
			core.ErrDecode, nameSize, len(data))
	}
	meta.Set("name", string(data[2:2+nameSize]))
	h := data[2+nameSize:]
	f64 := func(off int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(h[off:]))
	}
	i32 := func(off int) int64 {
		return int64(int32(binary.LittleEndian.Uint32(h[off:])))
	}
	i16 := func(off int) int64 {
		return int64(int16(binary.LittleEndian.Uint16(h[off:])))
	}
	meta.Set("x_delta", f64(0)).
		Set("y_delta", f64(8)).
		Set("z_delta", f64(16)).
		Set("z_start", f64(24)).
		Set("z_end", f64(32)).
		Set("z_4d_start", f64(40)).
		Set("z_4d_end", f64(48)).
		Set("x_init", f64(56)).
		Set("y_init", f64(64)).
		Set("z_init", f64(72)).
		Set("n_x", i32(80)).
		Set("n_y", i32(84)).
		Set("n_z", i32(88)).
		Set("text1", int64(h[94])).
		Set("text2", int64(h[97])).
		Set("resolution", i16(98)).
		Set("text3", int64(h[100])).
		Set("transmission", i16(101)).
		Set("text4", int64(h[103]))
	return nil
}

// 5104 标签：第二字节统一为 'u'(0x75)。
var (
	tagText  = [2]byte{'#', 'u'} // 长度前缀文本，带 6 字节尾
	tagInt   = [2]byte{'$', 'u'} // 内联 i16，带 6 字节尾
	tagShort = [2]byte{',', 'u'} // 内联 i16，无尾
)

// 5104 输出 schema：固定索引 → 元数据键（次序即落盘次序）。
var textSchema = []struct {
	key   string
	index int
}{
	{"analyst", 0},
	{"date", 2},
	{"image_name", 4},
	{"instrument_model", 5},
	{"instrument_serial_number", 6},
	{"instrument_software_version", 7},
	{"accumulations", 9},
	{"detector", 11},
	{"source", 12},
	{"beam_splitter", 13},
	{"apodization", 15},
	{"spectrum_type", 16},
	{"beam_type", 17},
	{"phase_correction", 20},
	{"ir_accessory", 26},
	{"igram_type", 28},
	{"scan_direction", 29},
	{"background_scans", 32},
	{"ir_laser_wave_number_unit", 67},
}

// decodeText 解 5104 块：2 字节标签选择子解码，依次装配字段列表，
// 再按固定 schema 取值。字段数不足 schema 预期即快速失败。
func decodeText(data []byte, meta *ordereddict.Dict) error {
	var attrs []any
	off := 0
	for off+2 < len(data) {
		var tag [2]byte
		copy(tag[:], data[off:off+2])
		switch tag {
		case tagText:
			off += 2
			if off+2 > len(data) {
				return fmt.Errorf("%w: 5104 text length truncated", core.ErrDecode)
			}
			size := int(int16(binary.LittleEndian.Uint16(data[off:])))
			off += 2
			if size < 0 || off+size > len(data) {
				return fmt.Errorf("%w: 5104 text payload truncated (%d bytes)", core.ErrDecode, size)
			}
			attrs = append(attrs, string(data[off:off+size]))
			off += size + 6
		case tagInt:
			off += 2
			if off+2 > len(data) {
				return fmt.Errorf("%w: 5104 int field truncated", core.ErrDecode)
			}
			attrs = append(attrs, int64(int16(binary.LittleEndian.Uint16(data[off:]))))
			off += 2 + 6
		case tagShort:
			off += 2
			if off+2 > len(data) {
				return fmt.Errorf("%w: 5104 int field truncated", core.ErrDecode)
			}
			attrs = append(attrs, int64(int16(binary.LittleEndian.Uint16(data[off:]))))
			off += 2
		default:
			off++
		}
	}
	for _, field := range textSchema {
		if field.index >= len(attrs) {
			return fmt.Errorf("%w: 5104 schema expects field %d (%s), got %d fields",
				core.ErrDecode, field.index, field.key, len(attrs))
		}
		meta.Set(field.key, attrs[field.index])
	}
	return nil
}

// decodeRow 解 5105 块：紧致小端 f32 数组，一块一行。
func decodeRow(data []byte) ([]float64, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: 5105 block length %d not a multiple of 4", core.ErrDecode, len(data))
	}
	row := make([]float64, len(data)/4)
	for i := range row {
		row[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return row, nil
}
