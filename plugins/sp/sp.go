// Package sp 读取 Perkin Elmer IR 仪器的 SP 二进制格式。
// 布局：4 字节魔数 "PEPE" + 40 字节描述，随后为嵌套块树：
// 容器块载荷内含成员块，块头仍为 (u16 ID, i32 块长)。字节流借助
// 隐式"下一块指针"（块尾偏移）回溯——遇到同级延续标记（2 字节
// 类型标签，第二字节 'u'）时游标弹回父块记录的尾偏移，而非前进；
// 一步可能连弹多级。数据块（ID 122）为紧致小端 f64 数组，遇之终止。
package sp

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

// 块 ID。容器块下钻，元数据叶块取值后跳到块尾，未知 ID 静默跳过。
const (
	blockSet      = 25739 // 数据集容器
	blockRange    = 35699 // 横轴范围（2×f64: 起止）
	blockInterval = 35701 // 采样间隔（f64）
	blockNPoints  = 35702 // 点数（i32）
	blockXLabel   = 35704 // 横轴标签（文本）
	blockYLabel   = 35705 // 纵轴标签（文本）
	blockData     = 122   // 数据块（f64 数组），遍历终止哨兵
)

// 同级延续标记：成员标签第二字节。
const memberTag = 'u'

// Options: SP 无可配置项。
type Options struct{}

// Format 实现 SP 格式。
type Format struct {
	core.Descriptor
}

// New 构造 SP 格式描述符。
func New() *Format {
	return &Format{Descriptor: core.NewDescriptor(
		"SP",
		"SP Perkin Elmer binary format",
		".sp",
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

	// 显式待归偏移栈（绝不递归：深度由数据决定，可能一步弹多级）。
	var pending []int
	var y []float64
	off := headerLen
	for y == nil {
		if off+6 > len(content) {
			break // 流尾仍未遇数据块
		}
		// 同级延续标记：弹回父块尾偏移；空栈弹出是解码失败而非默认值。
		if content[off+3] == memberTag {
			if len(pending) == 0 {
				return core.Decoded{}, fmt.Errorf("%w: continuation marker with empty offset stack at %d",
					core.ErrDecode, off)
			}
			off = pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			for len(pending) > 0 && off >= pending[len(pending)-1] {
				pending = pending[:len(pending)-1]
			}
			continue
		}
		id, size, err := blockInfo(content[off : off+6])
		if err != nil {
			return core.Decoded{}, err
		}
		end := off + 6 + size
		if end > len(content) {
			return core.Decoded{}, fmt.Errorf("%w: block %d declares %d bytes, %d remain",
				core.ErrDecode, id, size, len(content)-off-6)
		}
		payload := content[off+6 : end]
		switch id {
		case blockData:
			if y, err = decodeF64(payload); err != nil {
				return core.Decoded{}, err
			}
		case blockRange:
			if len(payload) < 16 {
				return core.Decoded{}, fmt.Errorf("%w: range block needs 16 bytes, got %d",
					core.ErrDecode, len(payload))
			}
			meta.Set("x_start", math.Float64frombits(binary.LittleEndian.Uint64(payload))).
				Set("x_end", math.Float64frombits(binary.LittleEndian.Uint64(payload[8:])))
			off = end
		case blockInterval:
			if len(payload) < 8 {
				return core.Decoded{}, fmt.Errorf("%w: interval block needs 8 bytes, got %d",
					core.ErrDecode, len(payload))
			}
			meta.Set("interval", math.Float64frombits(binary.LittleEndian.Uint64(payload)))
			off = end
		case blockNPoints:
			if len(payload) < 4 {
				return core.Decoded{}, fmt.Errorf("%w: point count block needs 4 bytes, got %d",
					core.ErrDecode, len(payload))
			}
			meta.Set("n_points", int64(int32(binary.LittleEndian.Uint32(payload))))
			off = end
		case blockXLabel:
			meta.Set("x_label", string(payload))
			off = end
		case blockYLabel:
			meta.Set("y_label", string(payload))
			off = end
		case blockSet:
			pending = append(pending, end)
			off += 6
		default:
			off = end
		}
	}
	if y == nil {
		return core.Decoded{}, fmt.Errorf("%w: no data block (id %d)", core.ErrDecode, blockData)
	}

	s, err := core.NewSpectrum(y, wavelength(meta, len(y)), meta)
	if err != nil {
		return core.Decoded{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	return core.Decoded{Spectrum: s}, nil
}

// wavelength 依范围元数据等分构轴；范围缺失时退化为索引轴。
func wavelength(meta *ordereddict.Dict, n int) []float64 {
	wl := make([]float64, n)
	start, ok1 := getFloat(meta, "x_start")
	end, ok2 := getFloat(meta, "x_end")
	if ok1 && ok2 && n > 1 {
		step := (end - start) / float64(n-1)
		for i := range wl {
			wl[i] = start + float64(i)*step
		}
		return wl
	}
	for i := range wl {
		wl[i] = float64(i)
	}
	return wl
}

func getFloat(meta *ordereddict.Dict, key string) (float64, bool) {
	v, ok := meta.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func decodeF64(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: data block length %d not a multiple of 8", core.ErrDecode, len(data))
	}
	y := make([]float64, len(data)/8)
	for i := range y {
		y[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return y, nil
}
