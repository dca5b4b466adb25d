// Package specread 是读取入口：按 URI 打开 Reader、整读单资源、
// 以及多文件/通配模式的批量读取与归并。
package specread

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"specfmt/internal/reconcile"
	"specfmt/pkg/core"
	"specfmt/pkg/registry"
)

// Open 打开 uri 上的 Reader。format 为空时自动探测，否则按名字/
// 扩展名/样例路径解析（见 registry.Lookup）。失败时资源已回收。
func Open(reg *registry.Registry, uri any, format string, options json.RawMessage) (*core.Reader, error) {
	res, err := core.OpenResource(uri)
	if err != nil {
		return nil, err
	}
	var f core.Format
	if format == "" {
		f, err = reg.SelectForRead(res)
	} else {
		f, err = reg.Lookup(format)
	}
	if err != nil {
		_ = res.Finish()
		return nil, err
	}
	reader, err := f.OpenReader(res, options)
	if err != nil {
		_ = res.Finish()
		return nil, err
	}
	return reader, nil
}

// Read 整读单个资源并立即关闭 Reader。
func Read(reg *registry.Registry, uri any, format string, options json.RawMessage) (core.Decoded, error) {
	reader, err := Open(reg, uri, format, options)
	if err != nil {
		return core.Decoded{}, err
	}
	defer func() { _ = reader.Close() }()
	return reader.All()
}

// ReadAll 批量读取并归并：先展开通配模式（匹配结果按名排序，
// 无匹配的模式按字面路径保留，让 not-found 错误指向用户写的名字），
// 再逐一整读，最后按容差 tol 归并（见 reconcile.Merge）。
// 任一资源失败即整体失败。
func ReadAll(reg *registry.Registry, patterns []string, format string, tol float64, options json.RawMessage) (core.Decoded, error) {
	paths, err := Expand(patterns)
	if err != nil {
		return core.Decoded{}, err
	}
	inputs := make([]core.Decoded, 0, len(paths))
	for _, p := range paths {
		d, err := Read(reg, p, format, options)
		if err != nil {
			return core.Decoded{}, fmt.Errorf("%s: %w", p, err)
		}
		inputs = append(inputs, d)
	}
	return reconcile.Merge(inputs, tol), nil
}

// Expand 展开通配模式为具体路径列表。
func Expand(patterns []string) ([]string, error) {
	var paths []string
	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pat, err)
		}
		if len(matches) == 0 {
			paths = append(paths, pat)
			continue
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}
