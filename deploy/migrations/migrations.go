package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，按方言分目录存放。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS
