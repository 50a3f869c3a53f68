package itempipe

import "errors"

var (
	// ErrMissingTable item缺少目标表名错误
	ErrMissingTable = errors.New("item has no target table")

	// ErrUnsupportedWriteMode 不支持的写入模式错误
	ErrUnsupportedWriteMode = errors.New("unsupported write mode")

	// ErrUnsupportedDialect 不支持的数据库方言错误
	ErrUnsupportedDialect = errors.New("unsupported dialect")

	// ErrPipelineClosed 管道已关闭错误
	ErrPipelineClosed = errors.New("pipeline is closed")

	// ErrUnknownAlias 未配置的连接池别名错误
	ErrUnknownAlias = errors.New("unknown destination alias")
)
