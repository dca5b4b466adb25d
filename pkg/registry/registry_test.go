package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"specfmt/pkg/core"
)

// 测试桩格式：CanRead 结果可注入，记录探测次数。
type stubFormat struct {
	core.Descriptor
	canRead bool
	err     error
	probes  int
}

func newStub(name, ext string, canRead bool) *stubFormat {
	return &stubFormat{
		Descriptor: core.NewDescriptor(name, name+" stub", ext),
		canRead:    canRead,
	}
}

func (s *stubFormat) CanRead(res *core.Resource) (bool, error) {
	s.probes++
	return s.canRead, s.err
}

func (s *stubFormat) OpenReader(res *core.Resource, options json.RawMessage) (*core.Reader, error) {
	return nil, errors.New("stub has no reader")
}

func tempResource(t *testing.T, name string) *core.Resource {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	res, err := core.OpenResource(p)
	if err != nil {
		t.Fatalf("打开资源失败: %v", err)
	}
	t.Cleanup(func() { _ = res.Finish() })
	return res
}

// UT-REG-01: 注册——实例重复与同名冲突
func TestAdd(t *testing.T) {
	r := New()
	a := newStub("A", ".a", false)
	if err := r.Add(a, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(a, false); err == nil {
		t.Fatalf("同一实例重复注册应报错")
	}
	if err := r.Add(newStub("A", ".a2", false), false); err == nil {
		t.Fatalf("同名冲突应报错")
	}
	a2 := newStub("A", ".a2", false)
	if err := r.Add(a2, true); err != nil {
		t.Fatalf("覆盖注册失败: %v", err)
	}
	if len(r.Formats()) != 1 || r.Formats()[0] != core.Format(a2) {
		t.Fatalf("覆盖后应只剩新实例: %v", r.Names())
	}
}

// UT-REG-02: 选择——扩展名命中优先，未命中再全量探测
func TestSelectForRead(t *testing.T) {
	r := New()
	a := newStub("A", ".aaa", true)
	b := newStub("B", ".bbb", true)
	if err := r.Add(a, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(b, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	// 扩展名命中 b：a 注册在前也不先探测
	res := tempResource(t, "x.bbb")
	f, err := r.SelectForRead(res)
	if err != nil || f != core.Format(b) {
		t.Fatalf("应选中 B: %v %v", f, err)
	}
	if a.probes != 0 {
		t.Fatalf("扩展名未命中的 A 不应在第一趟被探测")
	}

	// 扩展名全不命中：第二趟按序全量探测
	a.probes, b.probes = 0, 0
	res2 := tempResource(t, "x.zzz")
	f, err = r.SelectForRead(res2)
	if err != nil || f != core.Format(a) {
		t.Fatalf("第二趟应选中 A: %v %v", f, err)
	}
}

// UT-REG-03: 选择——穷尽与版本错误传播
func TestSelectForReadErrors(t *testing.T) {
	r := New()
	if err := r.Add(newStub("A", ".aaa", false), false); err != nil {
		t.Fatalf("add: %v", err)
	}
	res := tempResource(t, "x.aaa")
	if _, err := r.SelectForRead(res); !errors.Is(err, core.ErrNoFormatMatched) {
		t.Fatalf("穷尽应报 ErrNoFormatMatched, got %v", err)
	}

	v := newStub("V", ".vvv", false)
	v.err = fmt.Errorf("%w: 0x4d", core.ErrVersion)
	if err := r.Add(v, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	res2 := tempResource(t, "x.vvv")
	if _, err := r.SelectForRead(res2); !errors.Is(err, core.ErrVersion) {
		t.Fatalf("版本错误应传播, got %v", err)
	}
}

// UT-REG-04: 按字符串解析——名字/家族前缀/扩展名/裸扩展名
func TestLookup(t *testing.T) {
	r := New()
	abc := newStub("ABC-2", ".abc", false)
	xyz := newStub("XYZ", ".xyz", false)
	if err := r.Add(abc, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(xyz, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	if f, err := r.Lookup("xyz"); err != nil || f != core.Format(xyz) {
		t.Fatalf("名字解析（大小写不敏感）: %v %v", f, err)
	}
	if f, err := r.Lookup("abc"); err != nil || f != core.Format(abc) {
		t.Fatalf("家族前缀解析: %v %v", f, err)
	}
	if f, err := r.Lookup("data.abc"); err != nil || f != core.Format(abc) {
		t.Fatalf("扩展名解析: %v %v", f, err)
	}
	if f, err := r.Lookup(".xyz"); err != nil || f != core.Format(xyz) {
		t.Fatalf("裸扩展名解析: %v %v", f, err)
	}
	if _, err := r.Lookup("nope"); !errors.Is(err, core.ErrUnknownFormatName) {
		t.Fatalf("未知名应报 ErrUnknownFormatName, got %v", err)
	}
	if _, err := r.Lookup(""); !errors.Is(err, core.ErrUnknownFormatName) {
		t.Fatalf("空串应报 ErrUnknownFormatName, got %v", err)
	}
}

// UT-REG-05: 按样例文件路径解析
func TestLookupSampleFile(t *testing.T) {
	r := New()
	a := newStub("A", ".smp", true)
	if err := r.Add(a, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	p := filepath.Join(t.TempDir(), "sample.smp")
	if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	if f, err := r.Lookup(p); err != nil || f != core.Format(a) {
		t.Fatalf("样例路径解析: %v %v", f, err)
	}
}

// UT-REG-06: 偏好排序——稳定、命中者前移、拒绝点/逗号
func TestSetPreference(t *testing.T) {
	r := New()
	for _, n := range []string{"AAA", "BBB", "CCC"} {
		if err := r.Add(newStub(n, "."+strings.ToLower(n), false), false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := r.SetPreference("ccc", "bbb"); err != nil {
		t.Fatalf("偏好设置失败: %v", err)
	}
	names := r.Names()
	if names[0] != "CCC" || names[1] != "BBB" || names[2] != "AAA" {
		t.Fatalf("偏好序错误: %v", names)
	}
	if err := r.SetPreference(".bad"); err == nil {
		t.Fatalf("含点的偏好名应报错")
	}
	if err := r.SetPreference("a,b"); err == nil {
		t.Fatalf("含逗号的偏好名应报错")
	}
}

// UT-REG-07: 清单输出与缺省注册表
func TestStringAndDefault(t *testing.T) {
	r := Default()
	out := r.String()
	for _, want := range []string{"FSM", "SP", "SPC", "MZML", "MZXML", "CSV"} {
		if !strings.Contains(out, want) {
			t.Fatalf("清单缺少 %s:\n%s", want, out)
		}
	}
	if len(r.Names()) != 6 {
		t.Fatalf("内建格式数量: %v", r.Names())
	}
}
