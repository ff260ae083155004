package dav

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ========================================
// SQL Builder - 方言感知的SQL构建器
// ========================================

// Dialect 数据库方言（决定占位符形式与upsert语法细节）
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// rebind 把'?'占位符改写为方言所需形式
// postgres用$1..$N；sqlite保持'?'
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SelectBuilder SELECT查询构建器
type SelectBuilder struct {
	dialect    Dialect
	table      string
	selectCols []string
	whereConds []string
	orderBy    []string
	limitVal   int
	args       []interface{}
}

// NewSelectBuilder 创建SELECT构建器；不给列名时查'*'
func NewSelectBuilder(d Dialect, table string, cols ...string) *SelectBuilder {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return &SelectBuilder{dialect: d, table: table, selectCols: cols}
}

// Where 追加WHERE条件（多个条件AND连接）
func (b *SelectBuilder) Where(condition string, args ...interface{}) *SelectBuilder {
	b.whereConds = append(b.whereConds, condition)
	b.args = append(b.args, args...)
	return b
}

// OrderBy 追加ORDER BY列
func (b *SelectBuilder) OrderBy(cols ...string) *SelectBuilder {
	b.orderBy = append(b.orderBy, cols...)
	return b
}

// Limit 设置LIMIT
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limitVal = n
	return b
}

// Args 获取绑定参数
func (b *SelectBuilder) Args() []interface{} { return b.args }

// Build 构建SQL语句
func (b *SelectBuilder) Build() string {
	var query strings.Builder
	query.WriteString("SELECT ")
	query.WriteString(strings.Join(b.selectCols, ", "))
	query.WriteString(" FROM " + b.table)
	if len(b.whereConds) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(b.whereConds, " AND "))
	}
	if len(b.orderBy) > 0 {
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limitVal > 0 {
		fmt.Fprintf(&query, " LIMIT %d", b.limitVal)
	}
	return rebind(b.dialect, query.String())
}

// Query 执行查询
func (b *SelectBuilder) Query(ctx context.Context, db *sql.DB) (*sql.Rows, error) {
	return db.QueryContext(ctx, b.Build(), b.args...)
}

// QueryRow 执行单行查询
func (b *SelectBuilder) QueryRow(ctx context.Context, db *sql.DB) *sql.Row {
	return db.QueryRowContext(ctx, b.Build(), b.args...)
}

// InsertBuilder INSERT查询构建器
type InsertBuilder struct {
	dialect      Dialect
	table        string
	cols         []string
	args         []interface{}
	conflictCols []string
	updateCols   []string
}

// NewInsertBuilder 创建INSERT构建器
func NewInsertBuilder(d Dialect, table string) *InsertBuilder {
	return &InsertBuilder{dialect: d, table: table}
}

// Columns 设置列
func (i *InsertBuilder) Columns(cols ...string) *InsertBuilder {
	i.cols = append(i.cols, cols...)
	return i
}

// Values 设置值（与列一一对应）
func (i *InsertBuilder) Values(vals ...interface{}) *InsertBuilder {
	i.args = append(i.args, vals...)
	return i
}

// OnConflictUpdate 冲突时改为更新指定列（upsert）
// sqlite与postgres的ON CONFLICT ... DO UPDATE语法一致
func (i *InsertBuilder) OnConflictUpdate(conflictCols []string, updateCols []string) *InsertBuilder {
	i.conflictCols = conflictCols
	i.updateCols = updateCols
	return i
}

// Args 获取绑定参数
func (i *InsertBuilder) Args() []interface{} { return i.args }

// Build 构建INSERT语句
func (i *InsertBuilder) Build() string {
	var query strings.Builder
	query.WriteString("INSERT INTO " + i.table)
	query.WriteString(" (" + strings.Join(i.cols, ", ") + ")")

	placeholders := make([]string, len(i.cols))
	for j := range placeholders {
		placeholders[j] = "?"
	}
	query.WriteString(" VALUES (" + strings.Join(placeholders, ", ") + ")")

	if len(i.conflictCols) > 0 {
		query.WriteString(" ON CONFLICT (" + strings.Join(i.conflictCols, ", ") + ") DO UPDATE SET ")
		sets := make([]string, len(i.updateCols))
		for j, col := range i.updateCols {
			sets[j] = col + " = excluded." + col
		}
		query.WriteString(strings.Join(sets, ", "))
	}
	return rebind(i.dialect, query.String())
}

// Exec 执行INSERT
func (i *InsertBuilder) Exec(ctx context.Context, db *sql.DB) (sql.Result, error) {
	return db.ExecContext(ctx, i.Build(), i.args...)
}

// DeleteBuilder DELETE查询构建器
type DeleteBuilder struct {
	dialect    Dialect
	table      string
	conditions []string
	args       []interface{}
}

// NewDeleteBuilder 创建DELETE构建器
func NewDeleteBuilder(d Dialect, table string) *DeleteBuilder {
	return &DeleteBuilder{dialect: d, table: table}
}

// Where 追加WHERE条件（AND连接）
func (d *DeleteBuilder) Where(condition string, args ...interface{}) *DeleteBuilder {
	d.conditions = append(d.conditions, condition)
	d.args = append(d.args, args...)
	return d
}

// Args 获取绑定参数
func (d *DeleteBuilder) Args() []interface{} { return d.args }

// Build 构建DELETE语句
func (d *DeleteBuilder) Build() string {
	var query strings.Builder
	query.WriteString("DELETE FROM " + d.table)
	if len(d.conditions) > 0 {
		query.WriteString(" WHERE " + strings.Join(d.conditions, " AND "))
	}
	return rebind(d.dialect, query.String())
}

// Exec 执行DELETE
func (d *DeleteBuilder) Exec(ctx context.Context, db *sql.DB) (sql.Result, error) {
	return db.ExecContext(ctx, d.Build(), d.args...)
}
