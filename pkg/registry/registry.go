// Package registry 维护全部已注册格式并执行读取格式选择。
// 注册表为显式构造值（无隐藏全局单例）：入口各自持有实例，
// 测试可随时构造全新注册表。
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"specfmt/pkg/core"
)

// Registry: 有序格式集合 + 独立维护的偏好排序视图。
// 不变量：任意两个格式不得同名；成员仅经显式 Add/覆盖变更。
// 并发：读多写少；Add/SetPreference 仅应在装配期调用，
// 与并发读取的互斥由调用方负责。
type Registry struct {
	formats []core.Format
	sorted  []core.Format
}

// New 构造空注册表。
func New() *Registry {
	return &Registry{}
}

// Add 注册格式 f。同一实例重复注册报错；同名冲突在 overwrite=false
// 时报错，overwrite=true 时先从基础表与偏好视图中移除旧条目。
func (r *Registry) Add(f core.Format, overwrite bool) error {
	for _, g := range r.formats {
		if g == f {
			return fmt.Errorf("format instance already registered: %s", f.Name())
		}
	}
	for i, g := range r.formats {
		if g.Name() != f.Name() {
			continue
		}
		if !overwrite {
			return fmt.Errorf("a format named %q is already registered", f.Name())
		}
		r.formats = append(r.formats[:i], r.formats[i+1:]...)
		for j, s := range r.sorted {
			if s == g {
				r.sorted = append(r.sorted[:j], r.sorted[j+1:]...)
				break
			}
		}
		break
	}
	r.formats = append(r.formats, f)
	r.sorted = append(r.sorted, f)
	return nil
}

// Formats 返回偏好排序视图（勿修改）。
func (r *Registry) Formats() []core.Format { return r.sorted }

// Names 返回偏好序格式名。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sorted))
	for _, f := range r.sorted {
		names = append(names, f.Name())
	}
	return names
}

// SelectForRead 两趟搜索可读格式：
// 第一趟仅限扩展名命中的格式（按偏好序），返回首个 CanRead 为真者；
// 第二趟对未尝试过的其余格式逐一探测——支持无可靠扩展名或错命名文件。
// CanRead 的版本错误向上传播（版本失配是可行动信息，不吞）。
// 穷尽返回 ErrNoFormatMatched。
func (r *Registry) SelectForRead(res *core.Resource) (core.Format, error) {
	fn := strings.ToLower(res.Filename())
	tried := make(map[core.Format]bool, len(r.sorted))
	for _, f := range r.sorted {
		if !matchExt(f, fn) {
			continue
		}
		tried[f] = true
		ok, err := f.CanRead(res)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	for _, f := range r.sorted {
		if tried[f] {
			continue
		}
		ok, err := f.CanRead(res)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", core.ErrNoFormatMatched, res.Filename())
}

func matchExt(f core.Format, lowerName string) bool {
	for _, e := range f.Extensions() {
		if strings.HasSuffix(lowerName, e) {
			return true
		}
	}
	return false
}

// Lookup 按字符串解析格式，依次尝试三种策略：
// (a) 字符串为既存文件路径 → 委托 SelectForRead；
// (b) 含点 → 视为扩展名做成员扫描；
// (c) 否则视为格式名：大小写不敏感精确匹配，再尝试 '-' 分隔的
// 版本化家族前缀，最后补点重试扩展名。
// 全部失败返回 ErrUnknownFormatName；版本错误原样传播。
func (r *Registry) Lookup(name string) (core.Format, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty string", core.ErrUnknownFormatName)
	}
	if st, err := os.Stat(name); err == nil && st.Mode().IsRegular() {
		res, err := core.OpenResource(name)
		if err == nil {
			defer func() { _ = res.Finish() }()
			f, serr := r.SelectForRead(res)
			if serr == nil {
				return f, nil
			}
			if errors.Is(serr, core.ErrVersion) {
				return nil, serr
			}
		}
	}
	if strings.Contains(name, ".") {
		ext := strings.ToLower(name)
		if e := filepath.Ext(ext); e != "" {
			ext = e
		}
		for _, f := range r.sorted {
			for _, e := range f.Extensions() {
				if e == ext {
					return f, nil
				}
			}
		}
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownFormatName, name)
	}
	upper := strings.ToUpper(name)
	for _, f := range r.sorted {
		if f.Name() == upper {
			return f, nil
		}
	}
	for _, f := range r.sorted {
		if i := strings.LastIndex(f.Name(), "-"); i >= 0 && f.Name()[:i] == upper {
			return f, nil
		}
	}
	if f, err := r.Lookup("." + strings.ToLower(name)); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownFormatName, name)
}

// SetPreference 以稳定排序调整偏好视图：给定名字优先，精确匹配高于
// 后缀匹配；逆序迭代插入实现多键决胜；大小写不敏感。
// 名字不得包含 '.' 或 ','。
func (r *Registry) SetPreference(names ...string) error {
	for _, n := range names {
		if strings.ContainsAny(n, ".,") {
			return fmt.Errorf("preference names should not contain dots or commas: %q", n)
		}
	}
	r.sorted = append([]core.Format(nil), r.formats...)
	for i := len(names) - 1; i >= 0; i-- {
		name := strings.ToUpper(strings.TrimSpace(names[i]))
		score := func(f core.Format) int {
			s := 0
			if f.Name() == name {
				s++
			}
			if strings.HasSuffix(f.Name(), name) {
				s++
			}
			return s
		}
		sort.SliceStable(r.sorted, func(a, b int) bool {
			return score(r.sorted[a]) > score(r.sorted[b])
		})
	}
	return nil
}

// String 返回逐行格式清单（名称 - 描述 [扩展名]）。
func (r *Registry) String() string {
	var b strings.Builder
	for i, f := range r.sorted {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s - %s [%s]", f.Name(), f.Description(),
			strings.Join(f.Extensions(), ", "))
	}
	return b.String()
}
