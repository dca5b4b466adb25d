package core

import (
	"fmt"
	"runtime"

	"github.com/Velocidex/ordereddict"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Reader: 单资源上的有状态游标，产出零或多条归一化记录。
// 状态机：Open（构造后，解码已完成）→ Closed（终态，幂等）。
// 约束：
// 1) Close 之后任何数据操作返回 ErrClosedReader；
// 2) 随机访问与顺序迭代共享同一份解码结果；
// 3) 资源清理由 Close 保证；调用方遗忘时由 best-effort 终结器兜底
//    （终结器吞掉错误，避免在停机噪声上叠加干扰）。
type Reader struct {
	format    Format
	res       *Resource
	data      Decoded
	lastIndex int
	closed    bool
	closeHook func() error
	logger    log.Logger

	// 惰性条目访问（可选）：覆盖默认的按解码结果取条目。
	itemFn  func(int) (*Spectrum, error)
	itemLen int
}

// ReaderOption: Reader 构造选项。
type ReaderOption func(*Reader)

// WithCloseHook 设置格式专属清理钩子（先于资源回收执行）。
func WithCloseHook(h func() error) ReaderOption {
	return func(r *Reader) { r.closeHook = h }
}

// WithLogger 设置日志器（默认 nop）。
func WithLogger(l log.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// WithItems 设置惰性条目访问：长度为 n，第 i 条由 fn 按需产出。
// 支持随机访问失败按条暴露的格式（逐条解码而非整读）。
func WithItems(n int, fn func(int) (*Spectrum, error)) ReaderOption {
	return func(r *Reader) {
		r.itemLen = n
		r.itemFn = fn
	}
}

// NewReader 构造绑定 format 与 res 的 Reader，data 为整体解码结果。
func NewReader(f Format, res *Resource, data Decoded, opts ...ReaderOption) *Reader {
	r := &Reader{
		format:    f,
		res:       res,
		data:      data,
		lastIndex: -1,
		logger:    log.NewNopLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	runtime.SetFinalizer(r, func(r *Reader) { _ = r.Close() })
	return r
}

// SetLogger 供入口在构造后挂接日志器（仅影响告警输出）。
func (r *Reader) SetLogger(l log.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Format 返回本次读取对应的格式。
func (r *Reader) Format() Format { return r.format }

// Resource 返回本次读取的资源。
func (r *Reader) Resource() *Resource { return r.res }

// Closed 返回是否已关闭。
func (r *Reader) Closed() bool { return r.closed }

// Length 返回条目数：0（仅元数据）、1（单谱）或 N（谱系/列表）。
func (r *Reader) Length() int {
	if r.itemFn != nil {
		return r.itemLen
	}
	if r.data.IsList() {
		return len(r.data.Spectra)
	}
	if r.data.Spectrum == nil {
		return 0
	}
	return r.data.Spectrum.Items()
}

func (r *Reader) checkClosed() error {
	if r.closed {
		return fmt.Errorf("%w: %s", ErrClosedReader, r.res.Filename())
	}
	return nil
}

// All 返回整体解码结果（单记录或列表）。
func (r *Reader) All() (Decoded, error) {
	if err := r.checkClosed(); err != nil {
		return Decoded{}, err
	}
	return r.data, nil
}

// Get 返回第 i 条记录：2-D 沿首轴切片；1-D 返回整条；列表取第 i 项。
// 越界返回 ErrIndex 包装错误。
func (r *Reader) Get(i int) (*Spectrum, error) {
	if err := r.checkClosed(); err != nil {
		return nil, err
	}
	r.lastIndex = i
	return r.item(i)
}

func (r *Reader) item(i int) (*Spectrum, error) {
	if r.itemFn != nil {
		if i < 0 || i >= r.itemLen {
			return nil, fmt.Errorf("%w: %d of %d", ErrIndex, i, r.itemLen)
		}
		return r.itemFn(i)
	}
	if r.data.IsList() {
		if i < 0 || i >= len(r.data.Spectra) {
			return nil, fmt.Errorf("%w: %d of %d", ErrIndex, i, len(r.data.Spectra))
		}
		return r.data.Spectra[i], nil
	}
	if r.data.Spectrum == nil {
		return nil, fmt.Errorf("%w: %d of 0", ErrIndex, i)
	}
	return r.data.Spectrum.Row(i)
}

// Next 返回顺序游标的下一条（游标起于 -1）。
func (r *Reader) Next() (*Spectrum, error) {
	return r.Get(r.lastIndex + 1)
}

// Meta 返回第 i 条的元数据（逐条存储时取对应项，否则回落全局）。
func (r *Reader) Meta(i int) (*ordereddict.Dict, error) {
	if err := r.checkClosed(); err != nil {
		return nil, err
	}
	if r.data.IsList() {
		if i < 0 || i >= len(r.data.Spectra) {
			return nil, fmt.Errorf("%w: meta %d of %d", ErrIndex, i, len(r.data.Spectra))
		}
		return r.data.Spectra[i].Meta(), nil
	}
	if r.data.Spectrum == nil {
		return nil, fmt.Errorf("%w: meta %d of 0", ErrIndex, i)
	}
	return r.data.Spectrum.ItemMeta(i)
}

// GlobalMeta 返回文件级元数据；列表结果没有全局元数据时返回空字典。
func (r *Reader) GlobalMeta() (*ordereddict.Dict, error) {
	if err := r.checkClosed(); err != nil {
		return nil, err
	}
	if r.data.Spectrum != nil {
		return r.data.Spectrum.Meta(), nil
	}
	return ordereddict.NewDict(), nil
}

// Iterate 依序对 0..Length()-1 调用 yield，惰性、有限、不可重启。
// 末条失败降级为告警并提前终止（仪器常在尾帧截断文件，不应整系列作废）；
// 其余位置的失败原样向上传播。yield 返回错误即中止。
func (r *Reader) Iterate(yield func(*Spectrum) error) error {
	if err := r.checkClosed(); err != nil {
		return err
	}
	n := r.Length()
	for i := 0; i < n; i++ {
		s, err := r.item(i)
		if err != nil {
			if i == n-1 {
				level.Warn(r.logger).Log(
					"msg", "could not read last frame",
					"file", r.res.Filename(),
					"err", err)
				return nil
			}
			return err
		}
		if err := yield(s); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭 Reader：执行格式清理钩子，再回收资源。可重复调用。
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	runtime.SetFinalizer(r, nil)
	var err error
	if r.closeHook != nil {
		err = r.closeHook()
	}
	if ferr := r.res.Finish(); err == nil {
		err = ferr
	}
	return err
}
