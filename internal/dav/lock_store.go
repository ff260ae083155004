package dav

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/webdav-provider/internal/types"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ========================================
// Lock Store - 锁持久化存储
// ========================================

// LockStore 锁记录的持久化存储
// 供MemoryLockManager在重启后恢复存量锁
type LockStore interface {
	SaveLock(rec *types.LockRecord) error
	DeleteLock(token string) error
	// LoadAllLocks 返回全部未过期记录
	LoadAllLocks() ([]types.LockRecord, error)
	// CleanExpiredLocks 清理过期记录，返回清理条数
	CleanExpiredLocks(now time.Time) (int, error)
	Close() error
}

// SQLLockStore 基于database/sql的锁存储，支持sqlite3与postgres
type SQLLockStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLLockStore 打开锁存储并建表
// driver取"sqlite3"或"postgres"，dsn为对应驱动的连接串
func NewSQLLockStore(driver, dsn string) (*SQLLockStore, error) {
	dialect := DialectSQLite
	if driver == "postgres" {
		dialect = DialectPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open lock store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLLockStore{db: db, dialect: dialect}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init lock store schema: %w", err)
	}
	return store, nil
}

func (s *SQLLockStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dav_locks (
			token TEXT PRIMARY KEY,
			lock_type TEXT NOT NULL,
			scope TEXT NOT NULL,
			depth TEXT NOT NULL,
			owner TEXT NOT NULL,
			timeout BIGINT NOT NULL,
			root TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dav_locks_root ON dav_locks(root)`,
		`CREATE INDEX IF NOT EXISTS idx_dav_locks_timeout ON dav_locks(timeout)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SaveLock 写入或覆盖锁记录
func (s *SQLLockStore) SaveLock(rec *types.LockRecord) error {
	builder := NewInsertBuilder(s.dialect, "dav_locks").
		Columns("token", "lock_type", "scope", "depth", "owner", "timeout", "root").
		Values(rec.Token, rec.Type, rec.Scope, rec.Depth, rec.Owner, rec.Timeout, rec.Root).
		OnConflictUpdate([]string{"token"}, []string{"lock_type", "scope", "depth", "owner", "timeout", "root"})

	if _, err := builder.Exec(context.Background(), s.db); err != nil {
		return fmt.Errorf("save lock %s: %w", rec.Token, err)
	}
	return nil
}

// DeleteLock 按令牌删除；删除不存在的记录不是错误
func (s *SQLLockStore) DeleteLock(token string) error {
	builder := NewDeleteBuilder(s.dialect, "dav_locks").Where("token = ?", token)
	if _, err := builder.Exec(context.Background(), s.db); err != nil {
		return fmt.Errorf("delete lock %s: %w", token, err)
	}
	return nil
}

// LoadAllLocks 加载全部未过期记录
// timeout为负表示永不过期，一并返回
func (s *SQLLockStore) LoadAllLocks() ([]types.LockRecord, error) {
	builder := NewSelectBuilder(s.dialect, "dav_locks",
		"token", "lock_type", "scope", "depth", "owner", "timeout", "root").
		Where("timeout < 0 OR timeout > ?", time.Now().Unix()).
		OrderBy("token")

	rows, err := builder.Query(context.Background(), s.db)
	if err != nil {
		return nil, fmt.Errorf("load locks: %w", err)
	}
	defer rows.Close()

	var records []types.LockRecord
	for rows.Next() {
		var rec types.LockRecord
		if err := rows.Scan(&rec.Token, &rec.Type, &rec.Scope, &rec.Depth, &rec.Owner, &rec.Timeout, &rec.Root); err != nil {
			return nil, fmt.Errorf("scan lock record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CleanExpiredLocks 删除到期记录
func (s *SQLLockStore) CleanExpiredLocks(now time.Time) (int, error) {
	builder := NewDeleteBuilder(s.dialect, "dav_locks").
		Where("timeout >= 0").
		Where("timeout <= ?", now.Unix())

	result, err := builder.Exec(context.Background(), s.db)
	if err != nil {
		return 0, fmt.Errorf("clean expired locks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close 关闭数据库连接
func (s *SQLLockStore) Close() error {
	return s.db.Close()
}

// RedisLockStore 基于redis的锁存储
// 每条记录一个JSON键，有限期锁借助redis TTL自动过期；
// 另维护一个令牌集合用于全量加载
type RedisLockStore struct {
	client *redis.Client
	prefix string
}

const redisLockTokenSet = "dav:lock:tokens"

// NewRedisLockStore 创建redis锁存储
func NewRedisLockStore(client *redis.Client) *RedisLockStore {
	return &RedisLockStore{client: client, prefix: "dav:lock:"}
}

func (s *RedisLockStore) key(token string) string {
	return s.prefix + token
}

// SaveLock 写入锁记录；有限期锁设置与到期时间等长的TTL
func (s *RedisLockStore) SaveLock(rec *types.LockRecord) error {
	ctx := context.Background()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal lock %s: %w", rec.Token, err)
	}

	var ttl time.Duration
	if !rec.IsInfinite() {
		ttl = time.Until(time.Unix(rec.Timeout, 0))
		if ttl <= 0 {
			return nil
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.Token), data, ttl)
	pipe.SAdd(ctx, redisLockTokenSet, rec.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save lock %s: %w", rec.Token, err)
	}
	return nil
}

// DeleteLock 删除锁记录
func (s *RedisLockStore) DeleteLock(token string) error {
	ctx := context.Background()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(token))
	pipe.SRem(ctx, redisLockTokenSet, token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete lock %s: %w", token, err)
	}
	return nil
}

// LoadAllLocks 加载全部仍存活的记录
// 已被TTL淘汰的键顺带从令牌集合里摘除
func (s *RedisLockStore) LoadAllLocks() ([]types.LockRecord, error) {
	ctx := context.Background()
	tokens, err := s.client.SMembers(ctx, redisLockTokenSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list lock tokens: %w", err)
	}

	var records []types.LockRecord
	for _, token := range tokens {
		data, err := s.client.Get(ctx, s.key(token)).Bytes()
		if err == redis.Nil {
			s.client.SRem(ctx, redisLockTokenSet, token)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load lock %s: %w", token, err)
		}
		var rec types.LockRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal lock %s: %w", token, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// CleanExpiredLocks 清理已被TTL淘汰的集合残留
func (s *RedisLockStore) CleanExpiredLocks(now time.Time) (int, error) {
	ctx := context.Background()
	tokens, err := s.client.SMembers(ctx, redisLockTokenSet).Result()
	if err != nil {
		return 0, fmt.Errorf("list lock tokens: %w", err)
	}

	cleaned := 0
	for _, token := range tokens {
		exists, err := s.client.Exists(ctx, s.key(token)).Result()
		if err != nil {
			return cleaned, err
		}
		if exists == 0 {
			s.client.SRem(ctx, redisLockTokenSet, token)
			cleaned++
		}
	}
	return cleaned, nil
}

// Close 关闭redis客户端
func (s *RedisLockStore) Close() error {
	return s.client.Close()
}
