package core

import "errors"

// 错误分类（最小哨兵集）。调用方用 errors.Is 匹配；
// 具体上下文通过 fmt.Errorf("%w: ...") 包装补充。
var (
	// ErrResourceNotFound: URI 指向的路径不存在。
	ErrResourceNotFound = errors.New("resource not found")
	// ErrResourceUnrecognized: URI 既不是路径字符串也不是可读流。
	ErrResourceUnrecognized = errors.New("resource unrecognized")
	// ErrCannotSeek: 签名预读后底层流无法回退；后续整读必须显式失败。
	ErrCannotSeek = errors.New("cannot seek back after signature peek")
	// ErrNoFormatMatched: 注册表探测穷尽仍无格式可读。
	ErrNoFormatMatched = errors.New("no format matched")
	// ErrUnknownFormatName: 显式指定的格式名/扩展名不在注册表中。
	ErrUnknownFormatName = errors.New("unknown format name")
	// ErrVersion: 签名识别出格式家族但子版本不受支持。
	// 与 CanRead 返回 false 区分：版本失配是可行动信息，向上传播。
	ErrVersion = errors.New("format version unsupported")
	// ErrDecode: 载荷损坏/块截断/标签字段 schema 失配等解码失败。
	ErrDecode = errors.New("decode failure")
	// ErrIndex: 随机访问索引越界。
	ErrIndex = errors.New("index out of range")
	// ErrClosedReader: Close 之后调用任何数据操作。
	ErrClosedReader = errors.New("operation on closed reader")
)
