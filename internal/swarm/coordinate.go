package swarm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxCoordinate 限定坐标绝对值，保证相交检测中的叉积不会溢出 int64。
const MaxCoordinate = 1 << 30

// ValidCoordinate 判断坐标是否在可处理范围内。
func ValidCoordinate(v int) bool {
	return v >= -MaxCoordinate && v <= MaxCoordinate
}

// ParseCoordinate 接受整数或整数值的小数（如 "12.0"），超出 MaxCoordinate 的值视为非法。
func ParseCoordinate(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if v < -MaxCoordinate || v > MaxCoordinate {
			return 0, false
		}
		return int(v), true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > MaxCoordinate || f < -MaxCoordinate {
		return 0, false
	}
	return int(f), true
}

// decodeLooseInt 解析旧版 data.json 中的整数字段：旧服务直接保存查询参数，
// 同一字段可能是数字也可能是数字字符串。null 与空字符串按 0 处理。
func decodeLooseInt(raw json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, nil
	}
	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0, err
		}
		if strings.TrimSpace(text) == "" {
			return 0, nil
		}
	}
	v, ok := ParseCoordinate(text)
	if !ok {
		return 0, fmt.Errorf("非法的整数值 %s", trimmed)
	}
	return v, nil
}

// UnmarshalJSON 兼容数字与数字字符串两种坐标格式。
func (p *Point) UnmarshalJSON(data []byte) error {
	var aux struct {
		X json.RawMessage `json:"x"`
		Z json.RawMessage `json:"z"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	x, err := decodeLooseInt(aux.X)
	if err != nil {
		return fmt.Errorf("解析坐标 x 失败: %w", err)
	}
	z, err := decodeLooseInt(aux.Z)
	if err != nil {
		return fmt.Errorf("解析坐标 z 失败: %w", err)
	}
	p.X, p.Z = x, z
	return nil
}

// UnmarshalJSON 兼容旧版以字符串保存的 width 与 length。
func (s *Swarm) UnmarshalJSON(data []byte) error {
	type plain Swarm
	aux := struct {
		*plain
		Width  json.RawMessage `json:"width"`
		Length json.RawMessage `json:"length"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	width, err := decodeLooseInt(aux.Width)
	if err != nil {
		return fmt.Errorf("解析 width 失败: %w", err)
	}
	length, err := decodeLooseInt(aux.Length)
	if err != nil {
		return fmt.Errorf("解析 length 失败: %w", err)
	}
	s.Width, s.Length = width, length
	return nil
}
