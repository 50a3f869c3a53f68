package itempipe

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Settings 从配置文件解析出的完整管道设置
type Settings struct {
	Pipeline Config
	Aliases  map[string]PoolConfig
}

// aliasSectionPrefix 目标库配置段前缀，如 [alias.default]
const aliasSectionPrefix = "alias."

// LoadSettings 从INI文件读取设置，环境变量可覆盖管道参数。
//
//	[pipeline]
//	flush_limit = 500
//	flush_interval_seconds = 10
//	dialect = mysql
//
//	[alias.default]
//	driver = mysql
//	dsn = user:pass@tcp(127.0.0.1:3306)/crawl
//	max_open_conns = 16
func LoadSettings(path string) (*Settings, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	settings := &Settings{
		Pipeline: DefaultConfig(),
		Aliases:  make(map[string]PoolConfig),
	}

	section := file.Section("pipeline")
	settings.Pipeline.FlushLimit = section.Key("flush_limit").MustInt(settings.Pipeline.FlushLimit)
	intervalSeconds := section.Key("flush_interval_seconds").MustInt(int(settings.Pipeline.FlushInterval / time.Second))
	settings.Pipeline.FlushInterval = time.Duration(intervalSeconds) * time.Second

	dialectName := section.Key("dialect").MustString(settings.Pipeline.Dialect.String())

	// 环境变量覆盖
	if v := os.Getenv("ITEMPIPE_FLUSH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Pipeline.FlushLimit = n
		}
	}
	if v := os.Getenv("ITEMPIPE_FLUSH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Pipeline.FlushInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("ITEMPIPE_DIALECT"); v != "" {
		dialectName = v
	}

	dialect, err := ParseDialect(dialectName)
	if err != nil {
		return nil, err
	}
	settings.Pipeline.Dialect = dialect

	for _, section := range file.Sections() {
		name := section.Name()
		if !strings.HasPrefix(name, aliasSectionPrefix) {
			continue
		}
		alias := strings.TrimPrefix(name, aliasSectionPrefix)
		if alias == "" {
			continue
		}

		config := PoolConfig{
			DriverName:      section.Key("driver").MustString(defaultDriverName(dialect)),
			DSN:             section.Key("dsn").String(),
			MaxOpenConns:    section.Key("max_open_conns").MustInt(0),
			MaxIdleConns:    section.Key("max_idle_conns").MustInt(0),
			ConnMaxLifetime: time.Duration(section.Key("conn_max_lifetime_seconds").MustInt(0)) * time.Second,
		}
		if config.DriverName == "" {
			return nil, fmt.Errorf("alias %s has no driver for dialect %s", alias, dialect)
		}
		if config.DSN == "" {
			return nil, fmt.Errorf("alias %s has no dsn", alias)
		}
		settings.Aliases[alias] = config
	}

	return settings, nil
}

// defaultDriverName 方言对应的database/sql驱动名，无对应驱动时返回空
func defaultDriverName(dialect Dialect) string {
	switch dialect {
	case DialectMySQL:
		return "mysql"
	case DialectPostgreSQL:
		return "postgres"
	case DialectSQLite:
		return "sqlite3"
	default:
		return ""
	}
}

// NewPipelineFromSettings 按设置构建SQL管道与连接池
func NewPipelineFromSettings(settings *Settings) (*Pipeline, error) {
	pools := NewPoolManager()
	for alias, config := range settings.Aliases {
		pools.AddPool(alias, config)
	}
	return NewSQLPipeline(settings.Pipeline, pools)
}
