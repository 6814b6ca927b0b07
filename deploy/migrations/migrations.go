// Package migrations 内嵌提案归档库的 SQL 迁移文件。
// 文件按数字前缀排序依次执行，每个文件只包含一条语句。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
