// Package diag 提供结构化日志与错误分类。
// 日志为 logfmt 单行输出到给定 writer（通常 stderr），级别过滤在
// 构造期决定；错误分类仅依赖哨兵错误与标准库错误类型，不做字符串
// 匹配，分类结果同时驱动日志字段与进程退出码。
package diag

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"specfmt/pkg/core"
)

// NewLogger 构造 logfmt 日志器：写 w，按 lvl 过滤（默认 info），
// 带时间戳与调用方。
func NewLogger(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, parseLevel(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func parseLevel(s string) level.Option {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// Code 是最小错误分类代码，仅用于日志汇总，与退出码解耦。
type Code string

const (
	CodeUnknown  Code = "unknown"
	CodeNotFound Code = "notfound"
	CodeNoFormat Code = "noformat"
	CodeVersion  Code = "version"
	CodeDecode   Code = "decode"
	CodeUsage    Code = "usage"
	CodeIO       Code = "io"
)

// Classify 将错误归为最小分类。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	switch {
	case errors.Is(err, core.ErrResourceNotFound):
		return CodeNotFound
	case errors.Is(err, core.ErrVersion):
		return CodeVersion
	case errors.Is(err, core.ErrNoFormatMatched),
		errors.Is(err, core.ErrUnknownFormatName):
		return CodeNoFormat
	case errors.Is(err, core.ErrDecode),
		errors.Is(err, core.ErrIndex):
		return CodeDecode
	case errors.Is(err, core.ErrResourceUnrecognized),
		errors.Is(err, core.ErrClosedReader):
		return CodeUsage
	}
	var perr *os.PathError
	if errors.As(err, &perr) || errors.Is(err, core.ErrCannotSeek) {
		return CodeIO
	}
	return CodeUnknown
}

// 进程退出码。0 为成功；2 为用法/配置错误（flag 包惯例）。
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitNotFound = 3
	ExitNoFormat = 4
	ExitVersion  = 5
	ExitDecode   = 6
)

// ExitCode 把错误映射为进程退出码。
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch Classify(err) {
	case CodeNotFound:
		return ExitNotFound
	case CodeNoFormat:
		return ExitNoFormat
	case CodeVersion:
		return ExitVersion
	case CodeDecode, CodeIO:
		return ExitDecode
	case CodeUsage:
		return ExitUsage
	default:
		return ExitDecode
	}
}
