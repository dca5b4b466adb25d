package registry

import (
	"specfmt/pkg/core"
	"specfmt/plugins/csvfmt"
	"specfmt/plugins/fsm"
	"specfmt/plugins/mzml"
	"specfmt/plugins/mzxml"
	"specfmt/plugins/sp"
	"specfmt/plugins/spc"
)

// Default 构造注册全部内建格式的新注册表（显式清单，零反射）。
// 每次调用返回独立实例，测试之间互不泄漏状态。
func Default() *Registry {
	r := New()
	for _, f := range []core.Format{
		fsm.New(),
		sp.New(),
		spc.New(),
		mzml.New(),
		mzxml.New(),
		csvfmt.New(),
	} {
		// 内建名字互不冲突；失败属编程错误。
		if err := r.Add(f, false); err != nil {
			panic(err)
		}
	}
	return r
}
