package dav

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/webdav-provider/internal/types"
)

// ========================================
// Lock Manager - 锁管理器实现
// ========================================

// 锁类型与范围取值
const (
	LockTypeWrite      = "write"
	LockScopeExclusive = "exclusive"
	LockScopeShared    = "shared"
)

// MemoryLockManager 内存锁管理器，支持可选的持久化存储
//
// 锁记录按引用键索引。Timeout字段存绝对到期时间（Unix秒），
// 负值表示永不过期。实现Provider所需的LockManager能力集，
// 另提供LOCK/UNLOCK方法层需要的完整生命周期操作。
type MemoryLockManager struct {
	locks       map[string]*types.LockRecord // token -> record
	tokensByURL map[string][]string          // lockKey(refURL) -> tokens（锁根）
	mu          sync.RWMutex

	maxTimeout    int64 // 秒
	allowInfinite bool

	store  LockStore // 可为nil
	logger *logrus.Logger
	stopCh chan struct{}
}

// NewMemoryLockManager 创建锁管理器
// store非nil时先恢复存量记录，再启动后台过期清理
func NewMemoryLockManager(store LockStore, logger *logrus.Logger) *MemoryLockManager {
	if logger == nil {
		logger = logrus.New()
	}
	lm := &MemoryLockManager{
		locks:       make(map[string]*types.LockRecord),
		tokensByURL: make(map[string][]string),
		maxTimeout:  86400,
		store:       store,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}

	if store != nil {
		if err := lm.restoreFromStore(); err != nil {
			logger.WithError(err).Warn("failed to restore locks from store")
		}
	}

	go lm.cleanupLoop()
	return lm
}

// SetMaxTimeout 设置超时上限（秒）
func (lm *MemoryLockManager) SetMaxTimeout(seconds int64) { lm.maxTimeout = seconds }

// SetAllowInfinite 允许客户端申请无限期锁
func (lm *MemoryLockManager) SetAllowInfinite(allow bool) { lm.allowInfinite = allow }

// generateToken 生成锁令牌（RFC4918 opaquelocktoken方案）
func generateToken() string {
	return fmt.Sprintf("opaquelocktoken:%s", uuid.New().String())
}

// normalizeTimeout 把请求超时换算为绝对到期时间
// requested<0为无限期请求；0表示用默认上限；正值会被上限截断
func (lm *MemoryLockManager) normalizeTimeout(requested int64, now time.Time) int64 {
	if requested < 0 {
		if lm.allowInfinite {
			return types.TimeoutInfinite
		}
		requested = lm.maxTimeout
	}
	if requested == 0 || requested > lm.maxTimeout {
		requested = lm.maxTimeout
	}
	return now.Unix() + requested
}

// expired 检查记录是否已过期
func expired(rec *types.LockRecord, now time.Time) bool {
	return rec.Timeout >= 0 && rec.Timeout <= now.Unix()
}

// CreateLock 在refURL上创建锁
//
// depth取"0"或"infinity"。冲突规则：同键已有排他锁、或新锁为排他
// 而同键已有任意锁时拒绝；深度锁还要对祖先与后代键做同样检查。
// owner是客户端提交的不透明XML片段，原样保存。
func (lm *MemoryLockManager) CreateLock(refURL, lockType, scope, depth, owner string, timeout int64) (*types.LockRecord, error) {
	if depth != Depth0 && depth != DepthInfinity {
		return nil, types.NewInternal("invalid lock depth %q", depth)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	if conflict := lm.findConflict(refURL, scope, depth, now); conflict != nil {
		return nil, types.NewForbidden("conflicting lock %s on %s", conflict.Token, conflict.Root)
	}

	rec := &types.LockRecord{
		Token:   generateToken(),
		Type:    lockType,
		Scope:   scope,
		Depth:   depth,
		Owner:   owner,
		Timeout: lm.normalizeTimeout(timeout, now),
		Root:    refURL,
	}

	key := lockKey(refURL)
	lm.locks[rec.Token] = rec
	lm.tokensByURL[key] = append(lm.tokensByURL[key], rec.Token)

	if lm.store != nil {
		if err := lm.store.SaveLock(rec); err != nil {
			lm.logger.WithField("token", rec.Token).WithError(err).Warn("failed to persist lock")
		}
	}

	out := *rec
	return &out, nil
}

// findConflict 查找与新锁冲突的现存记录（须持有锁）
func (lm *MemoryLockManager) findConflict(refURL, scope, depth string, now time.Time) *types.LockRecord {
	// 本键与祖先键：祖先上的深度锁覆盖本键
	self := lockKey(refURL)
	for url := self; ; url = parentRefURL(url) {
		for _, token := range lm.tokensByURL[url] {
			rec := lm.locks[token]
			if rec == nil || expired(rec, now) {
				continue
			}
			if url != self && rec.Depth != DepthInfinity {
				continue
			}
			if rec.Scope == LockScopeExclusive || scope == LockScopeExclusive {
				return rec
			}
		}
		if url == "" || url == "/" {
			break
		}
	}

	// 新锁为深度锁时，后代键上的锁也冲突
	if depth == DepthInfinity {
		prefix := strings.TrimSuffix(self, "/") + "/"
		for url, tokens := range lm.tokensByURL {
			if !strings.HasPrefix(url, prefix) {
				continue
			}
			for _, token := range tokens {
				rec := lm.locks[token]
				if rec == nil || expired(rec, now) {
					continue
				}
				if rec.Scope == LockScopeExclusive || scope == LockScopeExclusive {
					return rec
				}
			}
		}
	}
	return nil
}

// lockKey 索引键：去掉集合引用键的尾斜杠，使同一资源的
// 集合形与非集合形落到同一个槽位
func lockKey(refURL string) string {
	if refURL == "/" {
		return refURL
	}
	return strings.TrimSuffix(refURL, "/")
}

// parentRefURL 返回索引键的父键（""表示已到顶）
func parentRefURL(refURL string) string {
	trimmed := strings.TrimSuffix(refURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return ""
	}
	return trimmed[:idx]
}

// RefreshLock 刷新锁超时；令牌未知或已过期时报错
func (lm *MemoryLockManager) RefreshLock(token string, timeout int64) (*types.LockRecord, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	rec, ok := lm.locks[token]
	if !ok {
		return nil, types.NewNotFound("lock token %s not found", token)
	}
	now := time.Now()
	if expired(rec, now) {
		lm.removeLocked(token)
		return nil, types.NewNotFound("lock token %s has expired", token)
	}

	rec.Timeout = lm.normalizeTimeout(timeout, now)
	if lm.store != nil {
		if err := lm.store.SaveLock(rec); err != nil {
			lm.logger.WithField("token", token).WithError(err).Warn("failed to persist refreshed lock")
		}
	}

	out := *rec
	return &out, nil
}

// GetLock 查询锁记录；过期的记录视同不存在
func (lm *MemoryLockManager) GetLock(token string) (*types.LockRecord, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	rec, ok := lm.locks[token]
	if !ok || expired(rec, time.Now()) {
		return nil, false
	}
	out := *rec
	return &out, true
}

// RemoveLock 按令牌移除锁；返回是否确有移除
func (lm *MemoryLockManager) RemoveLock(token string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	removed := lm.removeLocked(token)
	if removed && lm.store != nil {
		if err := lm.store.DeleteLock(token); err != nil {
			lm.logger.WithField("token", token).WithError(err).Warn("failed to delete lock from store")
		}
	}
	return removed
}

// removeLocked 摘除内存索引（须持有锁）
func (lm *MemoryLockManager) removeLocked(token string) bool {
	rec, ok := lm.locks[token]
	if !ok {
		return false
	}
	key := lockKey(rec.Root)
	tokens := lm.tokensByURL[key]
	for i, t := range tokens {
		if t == token {
			lm.tokensByURL[key] = append(tokens[:i], tokens[i+1:]...)
			break
		}
	}
	if len(lm.tokensByURL[key]) == 0 {
		delete(lm.tokensByURL, key)
	}
	delete(lm.locks, token)
	return true
}

// URLLockList 返回覆盖refURL的全部有效锁记录
// 含根为本键的直接锁，以及根为祖先键的深度锁
func (lm *MemoryLockManager) URLLockList(refURL string) []types.LockRecord {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	now := time.Now()
	self := lockKey(refURL)
	var out []types.LockRecord
	for url := self; ; url = parentRefURL(url) {
		for _, token := range lm.tokensByURL[url] {
			rec := lm.locks[token]
			if rec == nil || expired(rec, now) {
				continue
			}
			if url != self && rec.Depth != DepthInfinity {
				continue
			}
			out = append(out, *rec)
		}
		if url == "" || url == "/" {
			break
		}
	}
	return out
}

// IsURLLocked 检查refURL是否被任何有效锁覆盖
func (lm *MemoryLockManager) IsURLLocked(refURL string) bool {
	return len(lm.URLLockList(refURL)) > 0
}

// RemoveAllLocksFromURL 移除根为refURL的全部锁（不含祖先的深度锁）
func (lm *MemoryLockManager) RemoveAllLocksFromURL(refURL string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	tokens := append([]string(nil), lm.tokensByURL[lockKey(refURL)]...)
	for _, token := range tokens {
		if lm.removeLocked(token) && lm.store != nil {
			if err := lm.store.DeleteLock(token); err != nil {
				lm.logger.WithField("token", token).WithError(err).Warn("failed to delete lock from store")
			}
		}
	}
}

// CheckWritePermission 检查写操作是否被锁阻挡
//
// refURL受某有效锁覆盖、而submittedTokens不含该锁令牌时拒绝。
// depth为infinity时后代键上的锁同样参与检查。
func (lm *MemoryLockManager) CheckWritePermission(refURL, depth string, submittedTokens []string) error {
	submitted := make(map[string]bool, len(submittedTokens))
	for _, t := range submittedTokens {
		submitted[t] = true
	}

	for _, rec := range lm.URLLockList(refURL) {
		if !submitted[rec.Token] {
			return types.NewForbidden("resource %s is locked by token %s", refURL, rec.Token)
		}
	}

	if depth == DepthInfinity {
		lm.mu.RLock()
		defer lm.mu.RUnlock()
		now := time.Now()
		prefix := strings.TrimSuffix(refURL, "/") + "/"
		for url, tokens := range lm.tokensByURL {
			if !strings.HasPrefix(url, prefix) {
				continue
			}
			for _, token := range tokens {
				rec := lm.locks[token]
				if rec == nil || expired(rec, now) || submitted[token] {
					continue
				}
				return types.NewForbidden("resource %s is locked by token %s", url, token)
			}
		}
	}
	return nil
}

// CleanExpiredLocks 清理过期记录，返回清理条数
func (lm *MemoryLockManager) CleanExpiredLocks() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	var tokens []string
	for token, rec := range lm.locks {
		if expired(rec, now) {
			tokens = append(tokens, token)
		}
	}
	for _, token := range tokens {
		lm.removeLocked(token)
	}

	if lm.store != nil {
		if count, err := lm.store.CleanExpiredLocks(now); err != nil {
			lm.logger.WithError(err).Warn("failed to clean expired locks from store")
		} else if count > 0 {
			lm.logger.WithField("count", count).Debug("cleaned expired locks from store")
		}
	}
	return len(tokens)
}

// cleanupLoop 后台过期清理任务
func (lm *MemoryLockManager) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lm.CleanExpiredLocks()
		case <-lm.stopCh:
			return
		}
	}
}

// restoreFromStore 启动时恢复存量记录
func (lm *MemoryLockManager) restoreFromStore() error {
	records, err := lm.store.LoadAllLocks()
	if err != nil {
		return err
	}
	for i := range records {
		rec := records[i]
		key := lockKey(rec.Root)
		lm.locks[rec.Token] = &rec
		lm.tokensByURL[key] = append(lm.tokensByURL[key], rec.Token)
	}
	lm.logger.WithField("count", len(records)).Info("restored locks from store")
	return nil
}

// Close 停止后台任务并关闭存储
func (lm *MemoryLockManager) Close() error {
	close(lm.stopCh)
	if lm.store != nil {
		return lm.store.Close()
	}
	return nil
}
