package core

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Format: 单一文件格式的能力接口。
// 约束：
// 1) Name 在注册表内唯一（大写）；
// 2) CanRead 为三态：可读(true,nil) / 不可读(false,nil) /
//    版本失配(false, ErrVersion 包装)——版本错误不得折叠为 false；
// 3) OpenReader 绑定本格式与资源并执行打开钩子，options 为原样 JSON。
type Format interface {
	Name() string
	Description() string
	Extensions() []string
	CanRead(res *Resource) (bool, error)
	OpenReader(res *Resource, options json.RawMessage) (*Reader, error)
}

// Descriptor: 格式身份（各插件内嵌）。
type Descriptor struct {
	name        string
	description string
	extensions  []string
}

// NewDescriptor 构造格式身份。name 统一大写。
// extensions 接受若干字符串，其中每个元素可为逗号/空格分隔的串；
// 规范化为小写、单个前导点，空片段丢弃，描述符内次序保留。
func NewDescriptor(name, description string, extensions ...string) Descriptor {
	var exts []string
	for _, chunk := range extensions {
		chunk = strings.ReplaceAll(chunk, ",", " ")
		for _, e := range strings.Fields(chunk) {
			e = strings.Trim(e, ".")
			if e == "" {
				continue
			}
			exts = append(exts, "."+strings.ToLower(e))
		}
	}
	return Descriptor{
		name:        strings.ToUpper(name),
		description: description,
		extensions:  exts,
	}
}

// Name 返回格式名（大写）。
func (d Descriptor) Name() string { return d.name }

// Description 返回一行描述。
func (d Descriptor) Description() string { return d.description }

// Extensions 返回规范化扩展名（含前导点）。
func (d Descriptor) Extensions() []string { return d.extensions }

// MatchExtension 返回文件名后缀是否命中本描述符的扩展名之一。
func (d Descriptor) MatchExtension(filename string) bool {
	fn := strings.ToLower(filename)
	for _, e := range d.extensions {
		if strings.HasSuffix(fn, e) {
			return true
		}
	}
	return false
}

// UnmarshalOptions: 严格解码插件 Options，拒绝未知字段。
// raw 为空保持零值（默认选项）。
func UnmarshalOptions(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
