package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	uriFile     = 2
	uriFilename = 3
)

// 签名预读默认长度。
const firstbytesLen = 256

// Resource: 插件与资源之间的请求上下文。
// 约束：
// 1) 一次读取操作对应一个 Resource，不跨读取复用；
// 2) 至多持有一个自开句柄；调用方提供的流从不被关闭；
// 3) 缓存首 N 字节用于魔数嗅探，预读不得扰动后续整读位置；
// 4) 底层流无法回退时，后续 Stream 必须以 ErrCannotSeek 显式失败，
//    绝不静默返回截断/错位数据——插件的魔数嗅探契约依赖于此。
type Resource struct {
	uriType  int
	filename string

	file    io.Reader // 当前流（自开文件或调用方流）
	ownFile *os.File  // 自开句柄（负责关闭）

	firstbytes []byte
	peeked     bool
	broken     bool // 预读后无法回退
}

// OpenResource 解析 uri 并构造 Resource。
// uri 为路径字符串（支持 file:// 前缀与 ~ 展开）或 io.Reader。
// 路径不存在返回 ErrResourceNotFound；其余类型返回 ErrResourceUnrecognized。
func OpenResource(uri any) (*Resource, error) {
	switch v := uri.(type) {
	case string:
		fn := v
		if strings.HasPrefix(fn, "file://") {
			fn = fn[len("file://"):]
		}
		if strings.HasPrefix(fn, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				fn = filepath.Join(home, fn[1:])
			}
		}
		abs, err := filepath.Abs(fn)
		if err == nil {
			fn = abs
		}
		if _, err := os.Stat(fn); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrResourceNotFound, fn)
		}
		return &Resource{uriType: uriFilename, filename: fn}, nil
	case io.Reader:
		return &Resource{uriType: uriFile, filename: "<file>", file: v}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrResourceUnrecognized, uri)
	}
}

// Filename 返回资源文件名（流资源为 "<file>"）。
func (r *Resource) Filename() string { return r.filename }

// LocalFilename 返回本地路径；流资源没有路径时返回空串。
func (r *Resource) LocalFilename() string {
	if r.uriType == uriFilename {
		return r.filename
	}
	return ""
}

// Stream 返回只读字节流（必要时打开），同一 Resource 生命周期内幂等。
// 预读破坏了流位置且无法回退时返回 ErrCannotSeek。
func (r *Resource) Stream() (io.Reader, error) {
	if r.broken {
		return nil, fmt.Errorf("%w: %q", ErrCannotSeek, r.filename)
	}
	if r.file != nil {
		return r.file, nil
	}
	f, err := os.Open(r.filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrResourceNotFound, r.filename)
	}
	r.ownFile = f
	r.file = f
	return r.file, nil
}

// Firstbytes 返回文件前 n 字节（n<=0 时为默认 256），用于签名嗅探。
// 结果缓存；不足 n 字节时返回实际长度。
func (r *Resource) Firstbytes(n int) ([]byte, error) {
	if n <= 0 || n > firstbytesLen {
		n = firstbytesLen
	}
	if !r.peeked {
		if err := r.readFirstbytes(); err != nil {
			return nil, err
		}
	}
	if n > len(r.firstbytes) {
		n = len(r.firstbytes)
	}
	return r.firstbytes[:n], nil
}

func (r *Resource) readFirstbytes() error {
	f, err := r.Stream()
	if err != nil {
		return err
	}
	var pos int64 = -1
	if s, ok := f.(io.Seeker); ok {
		if p, err := s.Seek(0, io.SeekCurrent); err == nil {
			pos = p
		}
	}
	r.firstbytes = readN(f, firstbytesLen)
	r.peeked = true
	if s, ok := f.(io.Seeker); ok && pos >= 0 {
		if _, err := s.Seek(pos, io.SeekStart); err == nil {
			return nil
		}
	}
	// 回退失败：丢弃当前流。自开文件可重开；调用方流标记为不可整读。
	if r.ownFile != nil {
		_ = r.ownFile.Close()
		r.ownFile = nil
		r.file = nil
		return nil
	}
	r.broken = true
	return nil
}

// Finish 释放自开句柄；调用方提供的流从不被关闭。可重复调用。
func (r *Resource) Finish() error {
	if r.ownFile != nil {
		err := r.ownFile.Close()
		r.ownFile = nil
		r.file = nil
		return err
	}
	return nil
}

// readN 从 f 读取至多 n 字节（短读循环补齐，EOF 提前返回已读部分）。
func readN(f io.Reader, n int) []byte {
	bb := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(bb) < n {
		m, err := f.Read(buf[:n-len(bb)])
		bb = append(bb, buf[:m]...)
		if err != nil || m == 0 {
			break
		}
	}
	return bb
}
