package core

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatalf("写临时文件失败: %v", err)
	}
	return p
}

// UT-RES-01: 路径资源——存在/不存在/file:// 前缀
func TestOpenResourcePath(t *testing.T) {
	p := writeTemp(t, "a.bin", []byte("hello"))
	res, err := OpenResource(p)
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	defer res.Finish()
	if res.LocalFilename() == "" || !filepath.IsAbs(res.Filename()) {
		t.Fatalf("路径应归一化为绝对路径: %q", res.Filename())
	}

	if _, err := OpenResource("file://" + p); err != nil {
		t.Fatalf("file:// 前缀应剥离: %v", err)
	}
	if _, err := OpenResource(p + ".missing"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("不存在路径应报 ErrResourceNotFound, got %v", err)
	}
}

// UT-RES-02: 非法 URI 类型
func TestOpenResourceUnrecognized(t *testing.T) {
	if _, err := OpenResource(42); !errors.Is(err, ErrResourceUnrecognized) {
		t.Fatalf("应报 ErrResourceUnrecognized, got %v", err)
	}
}

// UT-RES-03: 预读不扰动整读——自开文件
func TestFirstbytesThenStream(t *testing.T) {
	content := []byte("PEPEtrailing-data")
	p := writeTemp(t, "a.bin", content)
	res, err := OpenResource(p)
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	defer res.Finish()

	fb, err := res.Firstbytes(4)
	if err != nil || string(fb) != "PEPE" {
		t.Fatalf("firstbytes: %q %v", fb, err)
	}
	// 缓存幂等
	fb2, _ := res.Firstbytes(4)
	if string(fb2) != "PEPE" {
		t.Fatalf("二次预读应命中缓存: %q", fb2)
	}
	stream, err := res.Stream()
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	all, _ := io.ReadAll(stream)
	if !bytes.Equal(all, content) {
		t.Fatalf("整读应从头开始, got %q", all)
	}
}

// UT-RES-04: 调用方流可回退（bytes.Reader 实现 Seeker）
func TestFirstbytesCallerSeekable(t *testing.T) {
	res, err := OpenResource(bytes.NewReader([]byte("PEPE1234")))
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	if res.LocalFilename() != "" {
		t.Fatalf("流资源不应有本地路径")
	}
	if fb, _ := res.Firstbytes(4); string(fb) != "PEPE" {
		t.Fatalf("firstbytes: %q", fb)
	}
	stream, err := res.Stream()
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	all, _ := io.ReadAll(stream)
	if string(all) != "PEPE1234" {
		t.Fatalf("可回退流应完整重读, got %q", all)
	}
}

// UT-RES-05: 调用方流不可回退——预读后整读必须显式失败
func TestFirstbytesCallerUnseekable(t *testing.T) {
	// strings.Reader 可回退；包一层剥掉 Seeker
	res2, err := OpenResource(io.Reader(onlyReader{strings.NewReader("PEPE1234")}))
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	if fb, _ := res2.Firstbytes(4); string(fb) != "PEPE" {
		t.Fatalf("firstbytes: %q", fb)
	}
	if _, err := res2.Stream(); !errors.Is(err, ErrCannotSeek) {
		t.Fatalf("不可回退流整读应报 ErrCannotSeek, got %v", err)
	}
}

type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// UT-RES-06: Finish 幂等且不关闭调用方流
func TestFinish(t *testing.T) {
	p := writeTemp(t, "a.bin", []byte("x"))
	res, _ := OpenResource(p)
	if _, err := res.Stream(); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := res.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := res.Finish(); err != nil {
		t.Fatalf("重复 finish 应为空操作: %v", err)
	}
}
