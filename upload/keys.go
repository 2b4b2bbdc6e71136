package upload

import (
	"path"
	"strings"
	"time"
)

// SplitName 拆分文件名的主名与扩展名（不含点）。
// 目录部分被丢弃；以点开头且无其他点的名字（如 .env）视为无扩展名。
func SplitName(name string) (base, ext string) {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return "", ""
	}
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return strings.TrimSuffix(name, "."), ""
	}
	return name[:i], name[i+1:]
}

// ObjectKey 计算对象存储路径 yyyy/MM/dd/<主名>_<指纹>.<扩展名>，无扩展名时省略后缀。
// 同一会话只在创建时计算一次，续传时沿用会话中保存的值。
func ObjectKey(fingerprint, name string, t time.Time) (key, ext string) {
	base, ext := SplitName(name)
	var b strings.Builder
	b.Grow(len(base) + len(fingerprint) + len(ext) + 13)
	b.WriteString(t.Format("2006/01/02"))
	b.WriteByte('/')
	b.WriteString(base)
	b.WriteByte('_')
	b.WriteString(fingerprint)
	if ext != "" {
		b.WriteByte('.')
		b.WriteString(ext)
	}
	return b.String(), ext
}
