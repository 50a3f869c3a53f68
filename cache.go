package itempipe

import (
	"fmt"
	"strings"
)

// groupKeySep 拼接列名时使用的分隔符。
// SQL标识符中不可能出现该字节，["ab","c"] 与 ["a","bc"] 因此不会撞到同一分组。
const groupKeySep = "\x1f"

// GroupKey 分组标识：表名、列序、更新字段、写入模式的组合。
// 可比较的结构体，直接作为map键使用。
type GroupKey struct {
	Table        string
	Fields       string
	UpdateFields string
	Mode         WriteMode
}

func newGroupKey(table string, fields, updateFields []string, mode WriteMode) GroupKey {
	return GroupKey{
		Table:        table,
		Fields:       strings.Join(fields, groupKeySep),
		UpdateFields: strings.Join(updateFields, groupKeySep),
		Mode:         mode,
	}
}

// String returns a string representation of the key
func (k GroupKey) String() string {
	return fmt.Sprintf("GroupKey{table: %s, fields: %s, mode: %s}",
		k.Table, strings.ReplaceAll(k.Fields, groupKeySep, ","), k.Mode)
}

// Group 同一分组下所有item的缓冲与元数据。
// 表名、列序、别名、语句在创建后不再变化，只有行缓冲会追加和清空。
type Group struct {
	Key     GroupKey
	Table   string
	Fields  []string
	Aliases []string
	SQL     string

	rows [][]any
}

// Len 当前缓冲行数
func (g *Group) Len() int {
	return len(g.rows)
}

// Cache 按结构签名分组缓冲item。
// 本身不加锁，所有调用必须在Pipeline的互斥锁内进行。
type Cache struct {
	builder StatementBuilder
	groups  map[GroupKey]*Group
}

// NewCache 创建分组缓存
func NewCache(builder StatementBuilder) *Cache {
	return &Cache{
		builder: builder,
		groups:  make(map[GroupKey]*Group),
	}
}

// Admit 剥离路由属性、计算分组键、懒创建分组（语句只生成一次）、
// 追加行数据，返回分组键和追加后的缓冲行数。
// 缺少表名或写入模式不受支持时立即失败，不缓冲任何数据。
func (c *Cache) Admit(item *Item) (GroupKey, int, error) {
	table := item.Table()
	if table == "" {
		return GroupKey{}, 0, ErrMissingTable
	}

	fields := item.Fields()
	updateFields := item.UpdateFields()
	mode := item.Mode()
	key := newGroupKey(table, fields, updateFields, mode)

	group, exists := c.groups[key]
	if !exists {
		sql, err := c.builder.InsertSQL(table, fields, updateFields, mode)
		if err != nil {
			return GroupKey{}, 0, err
		}
		group = &Group{
			Key:     key,
			Table:   table,
			Fields:  fields,
			Aliases: item.Aliases(),
			SQL:     sql,
		}
		c.groups[key] = group
	}

	group.rows = append(group.rows, item.orderedValues(group.Fields))
	return key, len(group.rows), nil
}

// Group 按键查找分组，不存在时返回nil
func (c *Cache) Group(key GroupKey) *Group {
	return c.groups[key]
}

// Drain 取出并清空分组缓冲。分组不存在或已空时返回空切片。
// 缓冲只会整体清空，从不部分取出。
func (c *Cache) Drain(key GroupKey) [][]any {
	group, exists := c.groups[key]
	if !exists || len(group.rows) == 0 {
		return nil
	}
	rows := group.rows
	group.rows = nil
	return rows
}

// BufferedByTable 同一张表所有分组的缓冲行数之和
func (c *Cache) BufferedByTable(table string) int {
	total := 0
	for _, group := range c.groups {
		if group.Table == table {
			total += len(group.rows)
		}
	}
	return total
}

// Keys 所有分组键，供定时清扫遍历
func (c *Cache) Keys() []GroupKey {
	keys := make([]GroupKey, 0, len(c.groups))
	for key := range c.groups {
		keys = append(keys, key)
	}
	return keys
}
