package diag

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/go-kit/log/level"

	"specfmt/pkg/core"
)

// UT-DIAG-01: 错误分类——仅依赖哨兵，包装不影响归类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{core.ErrResourceNotFound, CodeNotFound},
		{fmt.Errorf("read %q: %w", "x", core.ErrResourceNotFound), CodeNotFound},
		{core.ErrNoFormatMatched, CodeNoFormat},
		{core.ErrUnknownFormatName, CodeNoFormat},
		{fmt.Errorf("%w: 0x4d", core.ErrVersion), CodeVersion},
		{core.ErrDecode, CodeDecode},
		{core.ErrIndex, CodeDecode},
		{core.ErrClosedReader, CodeUsage},
		{core.ErrResourceUnrecognized, CodeUsage},
		{core.ErrCannotSeek, CodeIO},
		{&os.PathError{Op: "open", Path: "x", Err: errors.New("denied")}, CodeIO},
		{errors.New("misc"), CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("classify(%v): got %s want %s", c.err, got, c.want)
		}
	}
}

// UT-DIAG-02: 退出码映射
func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{core.ErrResourceNotFound, ExitNotFound},
		{core.ErrNoFormatMatched, ExitNoFormat},
		{core.ErrVersion, ExitVersion},
		{core.ErrDecode, ExitDecode},
		{core.ErrCannotSeek, ExitDecode},
		{core.ErrClosedReader, ExitUsage},
		{errors.New("misc"), ExitDecode},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Fatalf("exitCode(%v): got %d want %d", c.err, got, c.want)
		}
	}
}

// UT-DIAG-03: 日志器级别过滤与 logfmt 输出
func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	l := NewLogger(&buf, "warn")
	_ = level.Info(l).Log("msg", "hidden")
	_ = level.Warn(l).Log("msg", "shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info 应被 warn 级别过滤:\n%s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "ts=") {
		t.Fatalf("缺少 warn 输出或时间戳:\n%s", out)
	}
}
