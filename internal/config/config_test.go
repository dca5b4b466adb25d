package config

import (
	"os"
	"path/filepath"
	"testing"
)

// UT-CFG-01: 缺省值
func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.LogLevel != "info" || cfg.Tolerance != 1e-5 {
		t.Fatalf("缺省值错误: %+v", cfg)
	}
}

// UT-CFG-02: 文件加载与严格字段检查
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.json")
	body := `{"log_level":"debug","tolerance":0.1,"prefer":["SPC"],"options":{"k":1}}`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Tolerance != 0.1 || len(cfg.Prefer) != 1 {
		t.Fatalf("加载结果错误: %+v", cfg)
	}
	if string(cfg.Options) != `{"k":1}` {
		t.Fatalf("options 应原样保留: %s", cfg.Options)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"log_levle":"x"}`), 0o644); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("拼错的键应报错而非静默忽略")
	}
}

// UT-CFG-03: 环境变量定位配置文件
func TestLoadFromEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "env.json")
	if err := os.WriteFile(p, []byte(`{"log_level":"error"}`), 0o644); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	t.Setenv(EnvConfigFile, p)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("未读取 ENV 指定的文件: %+v", cfg)
	}
	// 未覆盖的键保持缺省
	if cfg.Tolerance != 1e-5 {
		t.Fatalf("缺省容差被破坏: %v", cfg.Tolerance)
	}
}

// UT-CFG-04: 无任何来源时返回缺省值
func TestLoadNone(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("应为缺省配置: %+v", cfg)
	}
}

// UT-CFG-05: 原样 JSON 解析
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON([]byte(`{"tolerance":2}`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if cfg.Tolerance != 2 || cfg.LogLevel != "info" {
		t.Fatalf("解析结果错误: %+v", cfg)
	}
	if _, err := LoadJSON([]byte(`{"nope":1}`)); err == nil {
		t.Fatalf("未知字段应报错")
	}
}
