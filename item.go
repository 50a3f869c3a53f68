// Package itempipe buffers structured items produced by a crawl pipeline and
// flushes them as batched writes into one or more relational destinations.
package itempipe

import (
	"fmt"
	"time"
)

// WriteMode 写入模式，决定冲突处理语句
type WriteMode int

const (
	// ModeInsert 普通插入
	ModeInsert WriteMode = iota
	// ModeInsertIgnore 忽略重复键插入
	ModeInsertIgnore
	// ModeUpsert 冲突时更新指定字段
	ModeUpsert
)

// String returns the string representation of WriteMode
func (m WriteMode) String() string {
	switch m {
	case ModeInsert:
		return "insert"
	case ModeInsertIgnore:
		return "ignore_insert"
	case ModeUpsert:
		return "update_insert"
	default:
		return "unknown"
	}
}

// ParseWriteMode 解析配置中的写入模式名称
func ParseWriteMode(s string) (WriteMode, error) {
	switch s {
	case "", "insert":
		return ModeInsert, nil
	case "ignore_insert":
		return ModeInsertIgnore, nil
	case "update_insert":
		return ModeUpsert, nil
	default:
		return ModeInsert, fmt.Errorf("%w: %q", ErrUnsupportedWriteMode, s)
	}
}

// DefaultAlias 未指定目标库时使用的连接池别名
const DefaultAlias = "default"

// Item 一条待持久化的数据，列按 Set 调用顺序排列。
// 表名、写入模式、更新字段、目标库别名是路由属性，不会作为列写入。
type Item struct {
	table        string
	mode         WriteMode
	updateFields []string
	aliases      []string
	fields       []string
	values       map[string]any
}

// NewItem 创建指向目标表的 Item
func NewItem(table string) *Item {
	return &Item{
		table:  table,
		values: make(map[string]any),
	}
}

// Set 设置列值；新列追加到列序尾部，重复设置只覆盖值
func (it *Item) Set(column string, value any) *Item {
	if _, exists := it.values[column]; !exists {
		it.fields = append(it.fields, column)
	}
	it.values[column] = value
	return it
}

// SetString 设置字符串列
func (it *Item) SetString(column string, value string) *Item {
	return it.Set(column, value)
}

// SetInt64 设置整型列
func (it *Item) SetInt64(column string, value int64) *Item {
	return it.Set(column, value)
}

// SetFloat64 设置浮点列
func (it *Item) SetFloat64(column string, value float64) *Item {
	return it.Set(column, value)
}

// SetBool 设置布尔列
func (it *Item) SetBool(column string, value bool) *Item {
	return it.Set(column, value)
}

// SetTime 设置时间列
func (it *Item) SetTime(column string, value time.Time) *Item {
	return it.Set(column, value)
}

// WithWriteMode 设置写入模式（默认 ModeInsert）
func (it *Item) WithWriteMode(mode WriteMode) *Item {
	it.mode = mode
	return it
}

// WithUpdateFields 设置 upsert 时更新的字段（为空则更新全部字段）
func (it *Item) WithUpdateFields(fields ...string) *Item {
	it.updateFields = fields
	return it
}

// WithAliases 设置目标连接池别名（默认 ["default"]）
func (it *Item) WithAliases(aliases ...string) *Item {
	it.aliases = aliases
	return it
}

// Table 目标表名
func (it *Item) Table() string {
	return it.table
}

// Mode 写入模式
func (it *Item) Mode() WriteMode {
	return it.mode
}

// UpdateFields upsert 更新字段
func (it *Item) UpdateFields() []string {
	return it.updateFields
}

// Aliases 目标连接池别名，未设置时返回 ["default"]
func (it *Item) Aliases() []string {
	if len(it.aliases) == 0 {
		return []string{DefaultAlias}
	}
	return it.aliases
}

// Fields 列名，按设置顺序
func (it *Item) Fields() []string {
	out := make([]string, len(it.fields))
	copy(out, it.fields)
	return out
}

// Value 读取列值
func (it *Item) Value(column string) (any, bool) {
	v, ok := it.values[column]
	return v, ok
}

// orderedValues 按给定列序取值
func (it *Item) orderedValues(fields []string) []any {
	values := make([]any, len(fields))
	for i, field := range fields {
		values[i] = it.values[field]
	}
	return values
}

// String returns a string representation of the item
func (it *Item) String() string {
	return fmt.Sprintf("Item{table: %s, mode: %s, fields: %v}", it.table, it.mode, it.fields)
}
