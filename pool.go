package itempipe

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// PoolConfig 单个连接池的配置
type PoolConfig struct {
	DriverName      string        `json:"driver_name"`
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// PoolManager 按别名管理数据库连接池。
// 连接池归它所有，flush期间按别名取用，管道自身不持有连接。
type PoolManager struct {
	mu      sync.RWMutex
	configs map[string]PoolConfig
	pools   map[string]*sql.DB
}

// NewPoolManager 创建连接池管理器
func NewPoolManager() *PoolManager {
	return &PoolManager{
		configs: make(map[string]PoolConfig),
		pools:   make(map[string]*sql.DB),
	}
}

// AddPool 注册别名对应的连接池配置
func (pm *PoolManager) AddPool(alias string, config PoolConfig) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.configs[alias] = config
}

// Open 打开全部已注册的连接池并探活
func (pm *PoolManager) Open(ctx context.Context) error {
	pm.mu.RLock()
	aliases := make([]string, 0, len(pm.configs))
	for alias := range pm.configs {
		aliases = append(aliases, alias)
	}
	pm.mu.RUnlock()

	for _, alias := range aliases {
		db, err := pm.Get(alias)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping pool %s: %w", alias, err)
		}
	}
	return nil
}

// Get 按别名取连接池，未打开时懒创建
func (pm *PoolManager) Get(alias string) (*sql.DB, error) {
	pm.mu.RLock()
	if db, exists := pm.pools[alias]; exists {
		pm.mu.RUnlock()
		return db, nil
	}
	pm.mu.RUnlock()

	return pm.openPool(alias)
}

func (pm *PoolManager) openPool(alias string) (*sql.DB, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	// 双重检查
	if db, exists := pm.pools[alias]; exists {
		return db, nil
	}

	config, exists := pm.configs[alias]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
	}

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool %s: %w", alias, err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	pm.pools[alias] = db
	return db, nil
}

// CloseAll 关闭全部连接池
func (pm *PoolManager) CloseAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var lastErr error
	for alias, db := range pm.pools {
		if err := db.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close pool %s: %w", alias, err)
		}
	}
	pm.pools = make(map[string]*sql.DB)
	return lastErr
}

// Aliases 已注册的别名
func (pm *PoolManager) Aliases() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	aliases := make([]string, 0, len(pm.configs))
	for alias := range pm.configs {
		aliases = append(aliases, alias)
	}
	return aliases
}
