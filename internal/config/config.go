// Package config 定义 CLI 配置：JSON 文件（严格拒绝未知字段）+
// 环境变量定位 + CLI 覆盖。优先级：CLI > JSON。
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
)

// EnvConfigFile 指定配置文件路径的环境变量。
const EnvConfigFile = "SPECFMT_CONFIG_FILE"

// 缺省配置文件名（工作目录下，存在才读取）。
const defaultFile = "specfmt.json"

// Config: CLI 可调参数。
type Config struct {
	// LogLevel: debug|info|warn|error。
	LogLevel string `json:"log_level"`
	// Tolerance: 多文件归并时坐标轴逐点绝对容差。
	Tolerance float64 `json:"tolerance"`
	// Prefer: 自动探测时优先尝试的格式名（偏好序）。
	Prefer []string `json:"prefer"`
	// Options: 原样传给格式 OpenReader 的选项 JSON。
	Options json.RawMessage `json:"options"`
}

// Defaults 返回安全默认值。
func Defaults() Config {
	return Config{
		LogLevel:  "info",
		Tolerance: 1e-5,
	}
}

// Load 解析配置：path 非空读该文件；否则依次尝试 SPECFMT_CONFIG_FILE
// 与工作目录下的 specfmt.json（均不存在即返回默认值）。
// 未知字段是错误——拼错的键静默生效比报错更昂贵。
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigFile))
	}
	if path == "" {
		if _, err := os.Stat(defaultFile); err == nil {
			path = defaultFile
		}
	}
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	if err := decodeStrict(f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadJSON 从原样 JSON 解析（测试与 SPECFMT_CONFIG_JSON 场景）。
func LoadJSON(raw []byte) (Config, error) {
	cfg := Defaults()
	if err := decodeStrict(bytes.NewReader(raw), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeStrict(r io.Reader, cfg *Config) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}
