package dav

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{"sqlite保持问号", DialectSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres改写为序号占位符", DialectPostgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"无占位符原样返回", DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rebind(tt.dialect, tt.query))
		})
	}
}

func TestSelectBuilder(t *testing.T) {
	t.Run("完整查询", func(t *testing.T) {
		b := NewSelectBuilder(DialectSQLite, "dav_properties", "namespace", "name").
			Where("ref_url = ?", "/share/a").
			Where("namespace = ?", "urn:x").
			OrderBy("namespace", "name").
			Limit(10)

		assert.Equal(t,
			"SELECT namespace, name FROM dav_properties WHERE ref_url = ? AND namespace = ? ORDER BY namespace, name LIMIT 10",
			b.Build())
		assert.Equal(t, []interface{}{"/share/a", "urn:x"}, b.Args())
	})

	t.Run("缺省查全列", func(t *testing.T) {
		b := NewSelectBuilder(DialectSQLite, "dav_locks")
		assert.Equal(t, "SELECT * FROM dav_locks", b.Build())
	})

	t.Run("postgres占位符", func(t *testing.T) {
		b := NewSelectBuilder(DialectPostgres, "dav_locks", "token").
			Where("root = ?", "/share/a")
		assert.Equal(t, "SELECT token FROM dav_locks WHERE root = $1", b.Build())
	})
}

func TestInsertBuilder(t *testing.T) {
	t.Run("普通插入", func(t *testing.T) {
		b := NewInsertBuilder(DialectSQLite, "dav_locks").
			Columns("token", "root").
			Values("t1", "/share/a")
		assert.Equal(t, "INSERT INTO dav_locks (token, root) VALUES (?, ?)", b.Build())
	})

	t.Run("upsert两种方言语法一致", func(t *testing.T) {
		build := func(d Dialect) string {
			return NewInsertBuilder(d, "dav_properties").
				Columns("ref_url", "name", "value").
				Values("/share/a", "color", "red").
				OnConflictUpdate([]string{"ref_url", "name"}, []string{"value"}).
				Build()
		}
		assert.Equal(t,
			"INSERT INTO dav_properties (ref_url, name, value) VALUES (?, ?, ?)"+
				" ON CONFLICT (ref_url, name) DO UPDATE SET value = excluded.value",
			build(DialectSQLite))
		assert.Equal(t,
			"INSERT INTO dav_properties (ref_url, name, value) VALUES ($1, $2, $3)"+
				" ON CONFLICT (ref_url, name) DO UPDATE SET value = excluded.value",
			build(DialectPostgres))
	})
}

func TestDeleteBuilder(t *testing.T) {
	b := NewDeleteBuilder(DialectPostgres, "dav_locks").
		Where("token = ?", "t1")
	assert.Equal(t, "DELETE FROM dav_locks WHERE token = $1", b.Build())
	assert.Equal(t, []interface{}{"t1"}, b.Args())
}
