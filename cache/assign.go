package cache

import (
	"encoding/json"
	"reflect"
)

// assign 将 src 写入指针 dst。类型一致时直接赋值，否则经 JSON 转换。
func assign(dst, src any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() == reflect.Pointer && !dv.IsNil() {
		sv := reflect.ValueOf(src)
		if sv.IsValid() {
			if sv.Type().AssignableTo(dv.Elem().Type()) {
				dv.Elem().Set(sv)
				return nil
			}
			if sv.Kind() == reflect.Pointer && !sv.IsNil() && sv.Elem().Type().AssignableTo(dv.Elem().Type()) {
				dv.Elem().Set(sv.Elem())
				return nil
			}
		}
	}
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
