package fsm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"specfmt/pkg/core"
)

// —— 二进制构造辅助 ——

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func lef32(v float32) []byte { return le32(math.Float32bits(v)) }

func lef64(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func block(id uint16, payload []byte) []byte {
	var b bytes.Buffer
	b.Write(le16(id))
	b.Write(le32(uint32(len(payload))))
	b.Write(payload)
	return b.Bytes()
}

func fileHeader() []byte {
	var b bytes.Buffer
	b.WriteString("PEPE")
	desc := make([]byte, 40)
	copy(desc, "test description")
	b.Write(desc)
	return b.Bytes()
}

func rowPayload(values ...float32) []byte {
	var b bytes.Buffer
	for _, v := range values {
		b.Write(lef32(v))
	}
	return b.Bytes()
}

// headerPayload 构造 5100 块：名字 + z 范围（z_start..z_end 步长 z_delta）。
func headerPayload(name string, zStart, zEnd, zDelta float64) []byte {
	var b bytes.Buffer
	b.Write(le16(uint16(len(name))))
	b.WriteString(name)
	h := make([]byte, 104)
	copy(h[0:], lef64(1))       // x_delta
	copy(h[8:], lef64(1))       // y_delta
	copy(h[16:], lef64(zDelta)) // z_delta
	copy(h[24:], lef64(zStart)) // z_start
	copy(h[32:], lef64(zEnd))   // z_end
	copy(h[80:], le32(1))       // n_x
	copy(h[84:], le32(1))       // n_y
	copy(h[88:], le32(3))       // n_z
	binary.LittleEndian.PutUint16(h[98:], 4) // resolution
	b.Write(h)
	return b.Bytes()
}

// textPayload 构造 5104 块：首字段为文本，其余 67 个为内联 i16。
func textPayload(analyst string) []byte {
	var b bytes.Buffer
	b.Write([]byte{'#', 'u'})
	b.Write(le16(uint16(len(analyst))))
	b.WriteString(analyst)
	b.Write(make([]byte, 6))
	for i := 1; i <= 67; i++ {
		b.Write([]byte{',', 'u'})
		b.Write(le16(uint16(i)))
	}
	return b.Bytes()
}

// UT-FSM-01: 最小文件——仅数据块，索引轴，1-D 记录
func TestDecodeMinimal(t *testing.T) {
	var f bytes.Buffer
	f.Write(fileHeader())
	f.Write(block(5105, rowPayload(1.0, 2.0)))

	d, err := decode(f.Bytes(), "/tmp/min.fsm")
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	s := d.Spectrum
	if s == nil || !s.OneDim() {
		t.Fatalf("单行应产出 1-D 记录: %+v", d)
	}
	if got := s.Values(); got[0] != 1.0 || got[1] != 2.0 {
		t.Fatalf("振幅错误: %v", got)
	}
	if wl := s.Wavelength(); wl[0] != 0 || wl[1] != 1 {
		t.Fatalf("头缺失应退化为索引轴: %v", wl)
	}
	if v, _ := s.Meta().Get(core.MetaFilename); v != "min.fsm" {
		t.Fatalf("filename 元数据: %v", v)
	}
}

// UT-FSM-02: 完整文件——头/文本/多行数据，共享 z 轴
func TestDecodeFull(t *testing.T) {
	var f bytes.Buffer
	f.Write(fileHeader())
	f.Write(block(5100, headerPayload("scan-1", 100, 104, 2)))
	f.Write(block(5104, textPayload("jane")))
	f.Write(block(5105, rowPayload(1, 2, 3)))
	f.Write(block(5105, rowPayload(4, 5, 6)))

	d, err := decode(f.Bytes(), "/tmp/full.fsm")
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	s := d.Spectrum
	if s.OneDim() || s.Items() != 2 {
		t.Fatalf("两行应产出 2-D 谱系: items=%d", s.Items())
	}
	wl := s.Wavelength()
	if wl[0] != 100 || wl[1] != 102 || wl[2] != 104 {
		t.Fatalf("z 轴错误: %v", wl)
	}
	if v, _ := s.Meta().Get("name"); v != "scan-1" {
		t.Fatalf("name 元数据: %v", v)
	}
	if v, _ := s.Meta().Get("analyst"); v != "jane" {
		t.Fatalf("analyst 元数据: %v", v)
	}
	if v, _ := s.Meta().Get("resolution"); v != int64(4) {
		t.Fatalf("resolution 元数据: %v", v)
	}
}

// UT-FSM-03: 5100 头在场但 z 范围点数与行长不符——解码失败
func TestDecodeAxisMismatch(t *testing.T) {
	var f bytes.Buffer
	f.Write(fileHeader())
	f.Write(block(5100, headerPayload("scan", 100, 104, 2))) // 预期 3 点
	f.Write(block(5105, rowPayload(1, 2)))                   // 实际 2 点

	if _, err := decode(f.Bytes(), ""); !errors.Is(err, core.ErrDecode) {
		t.Fatalf("头与行长失配应报 ErrDecode, got %v", err)
	}
}

// UT-FSM-04: 未知块静默跳过
func TestDecodeUnknownBlock(t *testing.T) {
	var f bytes.Buffer
	f.Write(fileHeader())
	f.Write(block(9999, []byte{1, 2, 3}))
	f.Write(block(5105, rowPayload(7)))

	d, err := decode(f.Bytes(), "")
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if d.Spectrum.Values()[0] != 7 {
		t.Fatalf("未知块不应影响数据: %v", d.Spectrum.Values())
	}
}

// UT-FSM-05: 快速失败——截断、无数据块、schema 不足、行长非 4 倍数
func TestDecodeErrors(t *testing.T) {
	cases := map[string][]byte{
		"截断头": []byte("PEPE"),
		"无数据块": fileHeader(),
		"块声明超限": append(fileHeader(), block(5105, nil)[:5]...),
	}
	// 块声明长度超过剩余字节
	var over bytes.Buffer
	over.Write(fileHeader())
	over.Write(le16(5105))
	over.Write(le32(100))
	over.Write([]byte{1, 2})
	cases["载荷截断"] = over.Bytes()

	var oddRow bytes.Buffer
	oddRow.Write(fileHeader())
	oddRow.Write(block(5105, []byte{1, 2, 3}))
	cases["行长非4倍数"] = oddRow.Bytes()

	var badText bytes.Buffer
	badText.Write(fileHeader())
	badText.Write(block(5104, []byte{',', 'u', 1, 0})) // 仅 1 个字段
	badText.Write(block(5105, rowPayload(1)))
	cases["schema不足"] = badText.Bytes()

	for name, content := range cases {
		if _, err := decode(content, ""); !errors.Is(err, core.ErrDecode) {
			t.Fatalf("%s: 应报 ErrDecode, got %v", name, err)
		}
	}
}

// UT-FSM-06: CanRead 与 OpenReader 端到端
func TestFormatOpenReader(t *testing.T) {
	var content bytes.Buffer
	content.Write(fileHeader())
	content.Write(block(5105, rowPayload(1, 2)))

	p := filepath.Join(t.TempDir(), "a.fsm")
	if err := os.WriteFile(p, content.Bytes(), 0o644); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	res, err := core.OpenResource(p)
	if err != nil {
		t.Fatalf("打开资源失败: %v", err)
	}
	defer res.Finish()

	f := New()
	ok, err := f.CanRead(res)
	if err != nil || !ok {
		t.Fatalf("CanRead: %v %v", ok, err)
	}
	r, err := f.OpenReader(res, nil)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if r.Length() != 1 {
		t.Fatalf("length: %d", r.Length())
	}

	// 选项严格拒绝未知字段
	if _, err := f.OpenReader(res, []byte(`{"nope":1}`)); err == nil {
		t.Fatalf("未知选项字段应报错")
	}
}

// UT-FSM-07: 扩展名命中但魔数不符
func TestCanReadBadMagic(t *testing.T) {
	p := filepath.Join(t.TempDir(), "b.fsm")
	if err := os.WriteFile(p, []byte("NOPE1234"), 0o644); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	res, err := core.OpenResource(p)
	if err != nil {
		t.Fatalf("打开资源失败: %v", err)
	}
	defer res.Finish()
	ok, err := New().CanRead(res)
	if err != nil || ok {
		t.Fatalf("魔数不符应返回 false: %v %v", ok, err)
	}
}
