package itempipe

import (
	"fmt"
	"strings"
)

// Dialect 目标数据库方言
type Dialect int

const (
	// DialectMySQL MySQL数据库
	DialectMySQL Dialect = iota
	// DialectPostgreSQL PostgreSQL数据库
	DialectPostgreSQL
	// DialectSQLite SQLite数据库
	DialectSQLite
	// DialectClickHouse ClickHouse数据库
	DialectClickHouse
	// DialectRedis Redis（语句由writer按行回放，见RedisBatchWriter）
	DialectRedis
)

// String returns the string representation of Dialect
func (d Dialect) String() string {
	switch d {
	case DialectMySQL:
		return "mysql"
	case DialectPostgreSQL:
		return "postgresql"
	case DialectSQLite:
		return "sqlite"
	case DialectClickHouse:
		return "clickhouse"
	case DialectRedis:
		return "redis"
	default:
		return "unknown"
	}
}

// ParseDialect 解析配置中的方言名称
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "mysql":
		return DialectMySQL, nil
	case "postgresql", "postgres":
		return DialectPostgreSQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "clickhouse":
		return DialectClickHouse, nil
	case "redis":
		return DialectRedis, nil
	default:
		return DialectMySQL, fmt.Errorf("%w: %q", ErrUnsupportedDialect, s)
	}
}

// StatementBuilder 语句生成器接口。
// 生成单行占位符形式的写入语句：语句在分组创建时生成一次，
// flush 时在同一事务内逐行执行。
type StatementBuilder interface {
	InsertSQL(table string, fields []string, updateFields []string, mode WriteMode) (string, error)
}

// NewStatementBuilder 按方言选择语句生成器
func NewStatementBuilder(dialect Dialect) (StatementBuilder, error) {
	switch dialect {
	case DialectMySQL:
		return &MySQLBuilder{}, nil
	case DialectPostgreSQL:
		return &PostgreSQLBuilder{}, nil
	case DialectSQLite:
		return &SQLiteBuilder{}, nil
	case DialectClickHouse:
		return &ClickHouseBuilder{}, nil
	case DialectRedis:
		return &RedisBuilder{}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDialect, dialect)
	}
}

// MySQLBuilder MySQL语句生成器
type MySQLBuilder struct{}

// InsertSQL 生成MySQL写入语句
func (b *MySQLBuilder) InsertSQL(table string, fields []string, updateFields []string, mode WriteMode) (string, error) {
	fieldsStr := strings.Join(fields, ", ")
	placeholders := questionPlaceholders(len(fields))
	baseSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, fieldsStr, placeholders)

	switch mode {
	case ModeInsert:
		return baseSQL, nil
	case ModeInsertIgnore:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, fieldsStr, placeholders), nil
	case ModeUpsert:
		if len(updateFields) == 0 {
			updateFields = fields
		}
		updatePairs := make([]string, len(updateFields))
		for i, field := range updateFields {
			updatePairs[i] = fmt.Sprintf("%s = VALUES(%s)", field, field)
		}
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", baseSQL, strings.Join(updatePairs, ", ")), nil
	default:
		return "", fmt.Errorf("%w: mysql_%s", ErrUnsupportedWriteMode, mode)
	}
}

// PostgreSQLBuilder PostgreSQL语句生成器
type PostgreSQLBuilder struct{}

// InsertSQL 生成PostgreSQL写入语句。
// upsert 以第一列作为冲突键。
func (b *PostgreSQLBuilder) InsertSQL(table string, fields []string, updateFields []string, mode WriteMode) (string, error) {
	fieldsStr := strings.Join(fields, ", ")
	placeholders := dollarPlaceholders(len(fields))
	baseSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, fieldsStr, placeholders)

	switch mode {
	case ModeInsert:
		return baseSQL, nil
	case ModeInsertIgnore:
		return baseSQL + " ON CONFLICT DO NOTHING", nil
	case ModeUpsert:
		if len(updateFields) == 0 {
			updateFields = fields
		}
		updatePairs := make([]string, len(updateFields))
		for i, field := range updateFields {
			updatePairs[i] = fmt.Sprintf("%s = EXCLUDED.%s", field, field)
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", baseSQL, fields[0], strings.Join(updatePairs, ", ")), nil
	default:
		return "", fmt.Errorf("%w: postgresql_%s", ErrUnsupportedWriteMode, mode)
	}
}

// SQLiteBuilder SQLite语句生成器
type SQLiteBuilder struct{}

// InsertSQL 生成SQLite写入语句。
// upsert 以第一列作为冲突键（SQLite的DO UPDATE必须带冲突目标）。
func (b *SQLiteBuilder) InsertSQL(table string, fields []string, updateFields []string, mode WriteMode) (string, error) {
	fieldsStr := strings.Join(fields, ", ")
	placeholders := questionPlaceholders(len(fields))
	baseSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, fieldsStr, placeholders)

	switch mode {
	case ModeInsert:
		return baseSQL, nil
	case ModeInsertIgnore:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, fieldsStr, placeholders), nil
	case ModeUpsert:
		if len(updateFields) == 0 {
			updateFields = fields
		}
		updatePairs := make([]string, len(updateFields))
		for i, field := range updateFields {
			updatePairs[i] = fmt.Sprintf("%s = excluded.%s", field, field)
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", baseSQL, fields[0], strings.Join(updatePairs, ", ")), nil
	default:
		return "", fmt.Errorf("%w: sqlite_%s", ErrUnsupportedWriteMode, mode)
	}
}

// ClickHouseBuilder ClickHouse语句生成器。
// 只生成不带占位符的语句头，行数据由writer作为结构化负载提交。
type ClickHouseBuilder struct{}

// InsertSQL 生成ClickHouse写入语句头
func (b *ClickHouseBuilder) InsertSQL(table string, fields []string, updateFields []string, mode WriteMode) (string, error) {
	if mode != ModeInsert {
		return "", fmt.Errorf("%w: clickhouse_%s", ErrUnsupportedWriteMode, mode)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(fields, ", ")), nil
}

// RedisBuilder Redis“语句”生成器。
// Redis没有语句文本；行数据作为命令参数由RedisBatchWriter逐行回放，
// 第一列必须是命令名。
type RedisBuilder struct{}

// InsertSQL 校验Redis分组结构，返回空语句
func (b *RedisBuilder) InsertSQL(table string, fields []string, updateFields []string, mode WriteMode) (string, error) {
	if mode != ModeInsert {
		return "", fmt.Errorf("%w: redis_%s", ErrUnsupportedWriteMode, mode)
	}
	if len(fields) < 2 {
		return "", fmt.Errorf("redis item must have at least 2 fields: cmd and key, got %v", fields)
	}
	return "", nil
}

// questionPlaceholders 生成 "?, ?, ?" 形式的占位符
func questionPlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.Repeat("?, ", count-1) + "?"
}

// dollarPlaceholders 生成 "$1, $2, $3" 形式的占位符
func dollarPlaceholders(count int) string {
	placeholders := make([]string, count)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(placeholders, ", ")
}
