package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log/level"

	cfgpkg "specfmt/internal/config"
	"specfmt/internal/diag"
	"specfmt/pkg/core"
	"specfmt/pkg/registry"
	"specfmt/pkg/specread"
	"specfmt/plugins/csvfmt"
)

// CLI：子命令 convert（读任意已注册格式，导出 CSV）与 formats
// （列出注册表）。退出码见 internal/diag。
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return diag.ExitUsage
	}
	switch args[0] {
	case "convert":
		return runConvert(args[1:])
	case "formats":
		return runFormats(args[1:])
	case "-h", "--help", "help":
		usage(os.Stdout)
		return diag.ExitOK
	default:
		fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage(os.Stderr)
		return diag.ExitUsage
	}
}

func usage(w *os.File) {
	fprintf(w, `usage: specfmt <command> [flags]

commands:
  convert [flags] <input>...   read spectra and export CSV
  formats                      list registered formats

convert flags:
  -o path          output file（缺省为首个输入去扩展名 + .csv；
                   多记录时为 <base>_<i>.csv 系列；"-" 写 stdout）
  -format name     强制格式（名称/扩展名/样例文件路径；缺省自动探测）
  -tolerance eps   多文件归并的坐标轴容差（覆盖配置）
  -config path     配置文件路径（JSON）；缺省读取 SPECFMT_CONFIG_FILE 或 ./specfmt.json
  -log-level lvl   debug|info|warn|error（覆盖配置）
`)
}

func runConvert(args []string) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		flagOutput    string
		flagFormat    string
		flagTolerance float64
		flagConfig    string
		flagLogLevel  string
	)
	fs.StringVar(&flagOutput, "o", "", "输出路径")
	fs.StringVar(&flagFormat, "format", "", "强制格式（缺省自动探测）")
	// -1 表示未覆盖（容差本身非负）。
	fs.Float64Var(&flagTolerance, "tolerance", -1, "坐标轴归并容差")
	fs.StringVar(&flagConfig, "config", "", "配置文件路径")
	fs.StringVar(&flagLogLevel, "log-level", "", "日志级别")
	if err := fs.Parse(args); err != nil {
		return diag.ExitUsage
	}
	inputs := fs.Args()
	if len(inputs) == 0 {
		fprintf(os.Stderr, "convert: no inputs\n")
		return diag.ExitUsage
	}
	// 缺省输出：首个输入去扩展名 + .csv。
	if flagOutput == "" {
		flagOutput = defaultOutput(inputs[0])
	}

	cfg, err := cfgpkg.Load(flagConfig)
	if err != nil {
		fprintf(os.Stderr, "convert: bad config: %v\n", err)
		return diag.ExitUsage
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagTolerance >= 0 {
		cfg.Tolerance = flagTolerance
	}
	logger := diag.NewLogger(os.Stderr, cfg.LogLevel)

	reg := registry.Default()
	if len(cfg.Prefer) > 0 {
		if err := reg.SetPreference(cfg.Prefer...); err != nil {
			fprintf(os.Stderr, "convert: bad preference: %v\n", err)
			return diag.ExitUsage
		}
	}

	data, err := specread.ReadAll(reg, inputs, flagFormat, cfg.Tolerance, cfg.Options)
	if err != nil {
		level.Error(logger).Log("msg", "read failed", "code", diag.Classify(err), "err", err)
		fprintf(os.Stderr, "convert: %v\n", err)
		return diag.ExitCode(err)
	}

	written, err := export(data, flagOutput)
	if err != nil {
		level.Error(logger).Log("msg", "write failed", "code", diag.Classify(err), "err", err)
		fprintf(os.Stderr, "convert: %v\n", err)
		return diag.ExitCode(err)
	}
	level.Info(logger).Log("msg", "converted", "inputs", len(inputs), "outputs", len(written))
	return diag.ExitOK
}

func defaultOutput(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".csv"
}

// export 写出解码结果：单记录（含 2-D 谱系）一个文件，
// 多记录列表按 <base>_<i><ext> 逐条落盘。返回写出的路径。
func export(data core.Decoded, output string) ([]string, error) {
	if !data.IsList() {
		if data.Spectrum == nil {
			return nil, fmt.Errorf("nothing to write")
		}
		if err := writeOne(output, data.Spectrum); err != nil {
			return nil, err
		}
		return []string{output}, nil
	}
	if output == "-" {
		return nil, fmt.Errorf("cannot write a record list to stdout, give a file path")
	}
	ext := filepath.Ext(output)
	base := strings.TrimSuffix(output, ext)
	if ext == "" {
		ext = ".csv"
	}
	written := make([]string, 0, len(data.Spectra))
	for i, s := range data.Spectra {
		path := fmt.Sprintf("%s_%d%s", base, i, ext)
		if err := writeOne(path, s); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeOne(path string, s *core.Spectrum) error {
	if path == "-" {
		return csvfmt.Write(os.Stdout, s)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := csvfmt.Write(f, s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func runFormats(args []string) int {
	if len(args) > 0 {
		fprintf(os.Stderr, "formats: unexpected arguments\n")
		return diag.ExitUsage
	}
	fprintf(os.Stdout, "%s\n", registry.Default().String())
	return diag.ExitOK
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }
