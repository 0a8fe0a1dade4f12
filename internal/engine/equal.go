// internal/engine/equal.go
package engine

import (
	"encoding/json"
)

// toGeneric 把任意值转成 JSON 通用表示（map[string]any / []any / 基本类型），
// 便于字段间做结构比较
func toGeneric(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// StructurallyEqual 递归比较：数组逐元素比较，对象比较键集合与每个键的值，基本类型按值比较。
// 只有顶层的 null 与空容器视为相等，嵌套值按类型严格比较。
func StructurallyEqual(a, b any) bool {
	ga, gb := toGeneric(a), toGeneric(b)
	if isEmptyContainer(ga) && isEmptyContainer(gb) {
		return true
	}
	return genericEqual(ga, gb)
}

func genericEqual(a, b any) bool {
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !genericEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, value := range av {
			other, exists := bv[k]
			if !exists || !genericEqual(value, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func isEmptyContainer(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// cloneValue 深拷贝 JSON 通用值
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, value := range t {
			out[k] = cloneValue(value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, value := range t {
			out[i] = cloneValue(value)
		}
		return out
	default:
		return v
	}
}
