package str

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Hashcode 计算字符串的hashcode，与 Java String.hashCode 一致（按 UTF-16 编码单元）
func Hashcode(s string) int32 {
	var hash int32 = 0
	for _, c := range s {
		if c >= 0x10000 {
			// 代理对
			c -= 0x10000
			hash = (0xD800 + (c >> 10)) + ((hash << 5) - hash)
			c = 0xDC00 + (c & 0x3FF)
		}
		hash = c + ((hash << 5) - hash)
	}
	return hash
}

// HashMode 计算字符串的hashcode后取余，结果非负
func HashMode(s string, num int32) int {
	mod := Hashcode(s) % num
	if mod < 0 {
		mod = -mod
	}
	return int(mod)
}

// ConvertStrToStruct 字符串转对象，v 为指针
func ConvertStrToStruct(str string, v any) error {
	if err := json.Unmarshal([]byte(str), v); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	return nil
}
