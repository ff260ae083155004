package dav

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/webdav-provider/internal/dav/validators"
	"github.com/webdav-provider/internal/types"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ========================================
// Property Manager - 死属性持久化管理器
// ========================================

// SQLPropertyManager 基于database/sql的死属性存储，
// 支持sqlite3与postgres。键为资源引用键，属性名按Clark记法
// 拆成 (namespace, name) 两列存储，值为序列化的XML片段。
type SQLPropertyManager struct {
	db          *sql.DB
	dialect     Dialect
	validator   *validators.CompositeValidator
	mu          sync.Mutex
	initialised bool
}

// NewSQLPropertyManager 打开属性存储
// driver取"sqlite3"或"postgres"，dsn为对应驱动的连接串
func NewSQLPropertyManager(driver, dsn string) (*SQLPropertyManager, error) {
	dialect := DialectSQLite
	if driver == "postgres" {
		dialect = DialectPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open property store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pm := &SQLPropertyManager{
		db:        db,
		dialect:   dialect,
		validator: validators.NewDefaultValidator(),
	}
	if err := pm.Initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return pm, nil
}

// Initialize 建表与索引，幂等
func (pm *SQLPropertyManager) Initialize(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.initialised {
		return nil
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS dav_properties (
			ref_url TEXT NOT NULL,
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE(ref_url, namespace, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dav_properties_ref_url ON dav_properties(ref_url)`,
	}
	for _, q := range queries {
		if _, err := pm.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init property store schema: %w", err)
		}
	}

	pm.initialised = true
	return nil
}

// PropertyNames 枚举refURL下的死属性名（Clark记法）
func (pm *SQLPropertyManager) PropertyNames(refURL string) ([]string, error) {
	builder := NewSelectBuilder(pm.dialect, "dav_properties", "namespace", "name").
		Where("ref_url = ?", refURL).
		OrderBy("namespace", "name")

	rows, err := builder.Query(context.Background(), pm.db)
	if err != nil {
		return nil, fmt.Errorf("list properties of %s: %w", refURL, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var namespace, name string
		if err := rows.Scan(&namespace, &name); err != nil {
			return nil, fmt.Errorf("scan property name: %w", err)
		}
		names = append(names, types.ClarkName(namespace, name))
	}
	return names, rows.Err()
}

// Property 读取单个死属性值；属性不存在时ok为false
func (pm *SQLPropertyManager) Property(refURL, name string) (string, bool, error) {
	namespace, local := types.SplitClark(name)
	builder := NewSelectBuilder(pm.dialect, "dav_properties", "value").
		Where("ref_url = ?", refURL).
		Where("namespace = ?", namespace).
		Where("name = ?", local)

	var value string
	err := builder.QueryRow(context.Background(), pm.db).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read property %s of %s: %w", name, refURL, err)
	}
	return value, true, nil
}

// WriteProperty 写入死属性（upsert）
// dryRun时只做校验不落盘；校验失败统一映射为Forbidden
func (pm *SQLPropertyManager) WriteProperty(refURL, name, value string, dryRun bool) error {
	if err := pm.validator.Validate(name, value); err != nil {
		return err
	}
	if dryRun {
		return nil
	}

	namespace, local := types.SplitClark(name)
	builder := NewInsertBuilder(pm.dialect, "dav_properties").
		Columns("ref_url", "namespace", "name", "value", "updated_at").
		Values(refURL, namespace, local, value, time.Now().Unix()).
		OnConflictUpdate([]string{"ref_url", "namespace", "name"}, []string{"value", "updated_at"})

	if _, err := builder.Exec(context.Background(), pm.db); err != nil {
		return fmt.Errorf("write property %s of %s: %w", name, refURL, err)
	}
	return nil
}

// RemoveProperty 移除单个死属性
// 移除不存在的属性不是错误
func (pm *SQLPropertyManager) RemoveProperty(refURL, name string) error {
	namespace, local := types.SplitClark(name)
	builder := NewDeleteBuilder(pm.dialect, "dav_properties").
		Where("ref_url = ?", refURL).
		Where("namespace = ?", namespace).
		Where("name = ?", local)

	if _, err := builder.Exec(context.Background(), pm.db); err != nil {
		return fmt.Errorf("remove property %s of %s: %w", name, refURL, err)
	}
	return nil
}

// RemoveProperties 移除refURL下的全部死属性
func (pm *SQLPropertyManager) RemoveProperties(refURL string) error {
	builder := NewDeleteBuilder(pm.dialect, "dav_properties").
		Where("ref_url = ?", refURL)

	if _, err := builder.Exec(context.Background(), pm.db); err != nil {
		return fmt.Errorf("remove properties of %s: %w", refURL, err)
	}
	return nil
}

// HealthCheck 存储健康检查
func (pm *SQLPropertyManager) HealthCheck(ctx context.Context) error {
	return pm.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (pm *SQLPropertyManager) Close() error {
	return pm.db.Close()
}
