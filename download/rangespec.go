package download

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnsatisfiable 区间语法错误或超出对象范围。
var ErrUnsatisfiable = errors.New("download: range not satisfiable")

const bytesUnit = "bytes="

// RangeSpec 本次响应的字节区间，End 为闭区间。
type RangeSpec struct {
	Start   int64
	End     int64
	Length  int64
	Partial bool
}

func fullRange(size int64) RangeSpec {
	return RangeSpec{Start: 0, End: size - 1, Length: size}
}

// ParseRange 解析 Range 请求头，支持 start-end、start- 与 -suffix 三种形式。
// 无请求头、单位不是 bytes 或对象为空时返回整个对象；多个区间只取第一个。
func ParseRange(header string, size int64) (RangeSpec, error) {
	header = strings.TrimSpace(header)
	if header == "" || size <= 0 || !strings.HasPrefix(header, bytesUnit) {
		return fullRange(size), nil
	}

	spec := header[len(bytesUnit):]
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	spec = strings.TrimSpace(spec)

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return RangeSpec{}, ErrUnsatisfiable
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		suffix, ok := parseOffset(endStr)
		if !ok || suffix == 0 {
			return RangeSpec{}, ErrUnsatisfiable
		}
		suffix = min(suffix, size)
		return RangeSpec{Start: size - suffix, End: size - 1, Length: suffix, Partial: true}, nil
	}

	start, ok := parseOffset(startStr)
	if !ok || start >= size {
		return RangeSpec{}, ErrUnsatisfiable
	}
	end := size - 1
	if endStr != "" {
		e, ok := parseOffset(endStr)
		if !ok || e < start {
			return RangeSpec{}, ErrUnsatisfiable
		}
		end = min(e, size-1)
	}
	return RangeSpec{Start: start, End: end, Length: end - start + 1, Partial: true}, nil
}

// parseOffset 只接受十进制数字，拒绝符号与空白。
func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
