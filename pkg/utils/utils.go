// Package utils 配置装配用的小工具，不依赖 internal
package utils

// CoalesceString 返回第一个非空字符串
func CoalesceString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// PositiveInt 若 v 非正则返回 defaultVal
func PositiveInt(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

// PositiveInt64 同 PositiveInt，用于字节数限制
func PositiveInt64(v, defaultVal int64) int64 {
	if v <= 0 {
		return defaultVal
	}
	return v
}
