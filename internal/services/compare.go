package rewards

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Поддерживаемые операторы условий
const (
	OpEqual       = "=="
	OpNotEqual    = "!="
	OpGreater     = ">"
	OpLess        = "<"
	OpGreaterEq   = ">="
	OpLessEq      = "<="
	OpIn          = "IN"
	OpNotIn       = "NOT IN"
	OpContains    = "CONTAINS"
	OpNotContains = "NOT CONTAINS"
)

var supportedOperators = map[string]bool{
	OpEqual: true, OpNotEqual: true, OpGreater: true, OpLess: true, OpGreaterEq: true, OpLessEq: true,
	OpIn: true, OpNotIn: true, OpContains: true, OpNotContains: true,
}

// Проверка условия: field <operator> cond
func checkCondition(field any, operator string, cond any) (bool, error) {
	switch operator {
	case OpIn, OpNotIn:
		list, ok := toList(cond)
		if !ok {
			return false, fmt.Errorf("operator %s needs a list value", operator)
		}
		found := false
		for _, v := range list {
			if result, err := compareValues(field, v); err == nil && result == 0 {
				found = true
				break
			}
		}
		return found == (operator == OpIn), nil
	case OpContains, OpNotContains:
		found, err := contains(field, cond)
		if err != nil {
			return false, err
		}
		return found == (operator == OpContains), nil
	}

	result, err := compareValues(field, cond)
	if err != nil {
		return false, fmt.Errorf("condition is wrong: %w", err)
	}

	switch operator {
	case OpEqual:
		return result == 0, nil
	case OpNotEqual:
		return result != 0, nil
	case OpGreater:
		return result == 1, nil
	case OpLess:
		return result == -1, nil
	case OpGreaterEq:
		return result == 1 || result == 0, nil
	case OpLessEq:
		return result == -1 || result == 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", operator)
}

// Строка содержит подстроку или список содержит элемент
func contains(field any, cond any) (bool, error) {
	if s, ok := field.(string); ok {
		sub, ok := cond.(string)
		if !ok {
			return false, fmt.Errorf("CONTAINS on a string needs a string value")
		}
		return strings.Contains(s, sub), nil
	}
	list, ok := toList(field)
	if !ok {
		return false, fmt.Errorf("CONTAINS needs a string or list field")
	}
	for _, v := range list {
		if result, err := compareValues(v, cond); err == nil && result == 0 {
			return true, nil
		}
	}
	return false, nil
}

// Если равны возвращаем 0, если field больше cond возвращаем 1, если меньше -1
// Пробуем преобразовывать: в даты, в числа, в булеан, в строки
func compareValues(field, cond any) (int, error) {
	// даты
	if tField, ok := toTime(field); ok {
		tCond, ok := toTime(cond)
		if !ok {
			i, isNum := toFloat64(cond) // UNIX time в миллисекундах
			if !isNum {
				return 0, fmt.Errorf("date parsing error") // если в данных дата, а в правиле нет - ошибка
			}
			tCond = time.UnixMilli(int64(i))
		}
		switch {
		case tField.After(tCond):
			return 1, nil
		case tField.Before(tCond):
			return -1, nil
		default:
			return 0, nil
		}
	}

	// числа
	numField, fieldok := toFloat64(field)
	numCond, condok := toFloat64(cond)
	if fieldok && condok {
		switch {
		case numField > numCond:
			return 1, nil
		case numField < numCond:
			return -1, nil
		default:
			return 0, nil
		}
	}

	// bool
	boolField, fieldok := field.(bool)
	boolCond, condok := cond.(bool)
	if fieldok && condok {
		if boolField == boolCond {
			return 0, nil
		}
		return -1, nil
	}

	// string
	strField, fieldok := field.(string)
	strCond, condok := cond.(string)
	if fieldok && condok {
		return strings.Compare(strField, strCond), nil
	}

	return 0, fmt.Errorf("compare is impossible")
}

func toTime(a any) (time.Time, bool) {
	switch val := a.(type) {
	case time.Time:
		return val, true
	case *time.Time:
		if val != nil {
			return *val, true
		}
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// преобразование в float64
func toFloat64(a any) (float64, bool) {
	switch val := a.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	}
	return 0, false
}

func toList(a any) ([]any, bool) {
	switch val := a.(type) {
	case []any:
		return val, true
	case []string:
		list := make([]any, len(val))
		for i, v := range val {
			list[i] = v
		}
		return list, true
	case []int:
		list := make([]any, len(val))
		for i, v := range val {
			list[i] = v
		}
		return list, true
	case []float64:
		list := make([]any, len(val))
		for i, v := range val {
			list[i] = v
		}
		return list, true
	}
	return nil, false
}
