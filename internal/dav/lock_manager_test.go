package dav

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-provider/internal/types"
)

func newTestLockManager(t *testing.T) *MemoryLockManager {
	t.Helper()
	lm := NewMemoryLockManager(nil, nil)
	t.Cleanup(func() { lm.Close() })
	return lm
}

func TestCreateLock(t *testing.T) {
	lm := newTestLockManager(t)

	rec, err := lm.CreateLock("/share/a.txt", LockTypeWrite, LockScopeExclusive, Depth0, "<D:href>alice</D:href>", 3600)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rec.Token, "opaquelocktoken:"))
	assert.Equal(t, "/share/a.txt", rec.Root)
	assert.Equal(t, LockScopeExclusive, rec.Scope)
	assert.InDelta(t, time.Now().Unix()+3600, rec.Timeout, 2)

	got, ok := lm.GetLock(rec.Token)
	require.True(t, ok)
	assert.Equal(t, rec.Token, got.Token)
}

func TestCreateLockInvalidDepth(t *testing.T) {
	lm := newTestLockManager(t)
	_, err := lm.CreateLock("/share/a.txt", LockTypeWrite, LockScopeExclusive, Depth1, "", 3600)
	require.Error(t, err)
}

func TestLockTimeoutNormalization(t *testing.T) {
	lm := newTestLockManager(t)
	lm.SetMaxTimeout(600)

	t.Run("超过上限被截断", func(t *testing.T) {
		rec, err := lm.CreateLock("/share/x1", LockTypeWrite, LockScopeExclusive, Depth0, "", 99999)
		require.NoError(t, err)
		assert.InDelta(t, time.Now().Unix()+600, rec.Timeout, 2)
	})

	t.Run("零用默认上限", func(t *testing.T) {
		rec, err := lm.CreateLock("/share/x2", LockTypeWrite, LockScopeExclusive, Depth0, "", 0)
		require.NoError(t, err)
		assert.InDelta(t, time.Now().Unix()+600, rec.Timeout, 2)
	})

	t.Run("默认不允许无限期", func(t *testing.T) {
		rec, err := lm.CreateLock("/share/x3", LockTypeWrite, LockScopeExclusive, Depth0, "", types.TimeoutInfinite)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.Timeout, int64(0))
	})

	t.Run("放开后允许无限期", func(t *testing.T) {
		lm.SetAllowInfinite(true)
		rec, err := lm.CreateLock("/share/x4", LockTypeWrite, LockScopeExclusive, Depth0, "", types.TimeoutInfinite)
		require.NoError(t, err)
		assert.True(t, rec.IsInfinite())
	})
}

func TestLockConflicts(t *testing.T) {
	t.Run("同键排他锁互斥", func(t *testing.T) {
		lm := newTestLockManager(t)
		_, err := lm.CreateLock("/share/a", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
		require.NoError(t, err)
		_, err = lm.CreateLock("/share/a", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
		assert.True(t, types.IsForbidden(err))
	})

	t.Run("共享锁可并存", func(t *testing.T) {
		lm := newTestLockManager(t)
		_, err := lm.CreateLock("/share/a", LockTypeWrite, LockScopeShared, Depth0, "", 3600)
		require.NoError(t, err)
		_, err = lm.CreateLock("/share/a", LockTypeWrite, LockScopeShared, Depth0, "", 3600)
		assert.NoError(t, err)
	})

	t.Run("祖先深度锁覆盖后代", func(t *testing.T) {
		lm := newTestLockManager(t)
		_, err := lm.CreateLock("/share/dir/", LockTypeWrite, LockScopeExclusive, DepthInfinity, "", 3600)
		require.NoError(t, err)
		_, err = lm.CreateLock("/share/dir/a.txt", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
		assert.True(t, types.IsForbidden(err))
	})

	t.Run("祖先非深度锁不覆盖后代", func(t *testing.T) {
		lm := newTestLockManager(t)
		_, err := lm.CreateLock("/share/dir/", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
		require.NoError(t, err)
		_, err = lm.CreateLock("/share/dir/a.txt", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
		assert.NoError(t, err)
	})

	t.Run("新深度锁与后代锁冲突", func(t *testing.T) {
		lm := newTestLockManager(t)
		_, err := lm.CreateLock("/share/dir/a.txt", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
		require.NoError(t, err)
		_, err = lm.CreateLock("/share/dir", LockTypeWrite, LockScopeExclusive, DepthInfinity, "", 3600)
		assert.True(t, types.IsForbidden(err))
	})
}

// 集合引用键带尾斜杠，祖先回溯生成的是无斜杠键，两种形态必须命中同一条记录
func TestCollectionKeyLockCoverage(t *testing.T) {
	lm := newTestLockManager(t)

	deep, err := lm.CreateLock("/share/docs/", LockTypeWrite, LockScopeExclusive, DepthInfinity, "", 3600)
	require.NoError(t, err)

	t.Run("深度锁覆盖深层后代", func(t *testing.T) {
		records := lm.URLLockList("/share/docs/sub/b.txt")
		require.Len(t, records, 1)
		assert.Equal(t, deep.Token, records[0].Token)
		assert.True(t, lm.IsURLLocked("/share/docs/a.txt"))
	})

	t.Run("两种键形态等价", func(t *testing.T) {
		assert.True(t, lm.IsURLLocked("/share/docs"))
		assert.True(t, lm.IsURLLocked("/share/docs/"))
	})

	t.Run("后代建锁被拒", func(t *testing.T) {
		_, err := lm.CreateLock("/share/docs/a.txt", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
		assert.True(t, types.IsForbidden(err))
	})

	t.Run("未提交令牌的后代写入被拒", func(t *testing.T) {
		err := lm.CheckWritePermission("/share/docs/a.txt", Depth0, nil)
		assert.True(t, types.IsForbidden(err))
		assert.NoError(t, lm.CheckWritePermission("/share/docs/a.txt", Depth0, []string{deep.Token}))
	})

	t.Run("按集合键摘锁", func(t *testing.T) {
		lm.RemoveAllLocksFromURL("/share/docs/")
		assert.False(t, lm.IsURLLocked("/share/docs/sub/b.txt"))
	})
}

func TestRefreshLock(t *testing.T) {
	lm := newTestLockManager(t)

	rec, err := lm.CreateLock("/share/a", LockTypeWrite, LockScopeExclusive, Depth0, "", 60)
	require.NoError(t, err)

	refreshed, err := lm.RefreshLock(rec.Token, 3600)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix()+3600, refreshed.Timeout, 2)

	_, err = lm.RefreshLock("opaquelocktoken:unknown", 3600)
	assert.True(t, types.IsNotFound(err))
}

func TestRemoveLock(t *testing.T) {
	lm := newTestLockManager(t)

	rec, err := lm.CreateLock("/share/a", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
	require.NoError(t, err)

	assert.True(t, lm.RemoveLock(rec.Token))
	assert.False(t, lm.RemoveLock(rec.Token))
	_, ok := lm.GetLock(rec.Token)
	assert.False(t, ok)
	assert.False(t, lm.IsURLLocked("/share/a"))
}

func TestURLLockList(t *testing.T) {
	lm := newTestLockManager(t)

	deep, err := lm.CreateLock("/share/dir/", LockTypeWrite, LockScopeShared, DepthInfinity, "", 3600)
	require.NoError(t, err)
	direct, err := lm.CreateLock("/share/dir/a.txt", LockTypeWrite, LockScopeShared, Depth0, "", 3600)
	require.NoError(t, err)

	records := lm.URLLockList("/share/dir/a.txt")
	tokens := make([]string, 0, len(records))
	for _, r := range records {
		tokens = append(tokens, r.Token)
	}
	assert.Contains(t, tokens, direct.Token)
	assert.Contains(t, tokens, deep.Token)

	// 兄弟路径不受直接锁影响
	records = lm.URLLockList("/share/dir/b.txt")
	require.Len(t, records, 1)
	assert.Equal(t, deep.Token, records[0].Token)
}

func TestCheckWritePermission(t *testing.T) {
	lm := newTestLockManager(t)

	rec, err := lm.CreateLock("/share/dir/a.txt", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
	require.NoError(t, err)

	t.Run("未提交令牌被拒", func(t *testing.T) {
		err := lm.CheckWritePermission("/share/dir/a.txt", Depth0, nil)
		assert.True(t, types.IsForbidden(err))
	})

	t.Run("提交令牌放行", func(t *testing.T) {
		err := lm.CheckWritePermission("/share/dir/a.txt", Depth0, []string{rec.Token})
		assert.NoError(t, err)
	})

	t.Run("深度检查覆盖后代锁", func(t *testing.T) {
		err := lm.CheckWritePermission("/share/dir/", DepthInfinity, nil)
		assert.True(t, types.IsForbidden(err))
	})

	t.Run("无锁路径放行", func(t *testing.T) {
		err := lm.CheckWritePermission("/share/other", DepthInfinity, nil)
		assert.NoError(t, err)
	})
}

func TestExpiredLocks(t *testing.T) {
	lm := newTestLockManager(t)

	rec, err := lm.CreateLock("/share/a", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
	require.NoError(t, err)

	// 直接把到期时间拨到过去
	lm.mu.Lock()
	lm.locks[rec.Token].Timeout = time.Now().Unix() - 10
	lm.mu.Unlock()

	_, ok := lm.GetLock(rec.Token)
	assert.False(t, ok)
	assert.False(t, lm.IsURLLocked("/share/a"))

	// 过期后同键可重新上锁
	_, err = lm.CreateLock("/share/a", LockTypeWrite, LockScopeExclusive, Depth0, "", 3600)
	assert.NoError(t, err)

	assert.Equal(t, 1, lm.CleanExpiredLocks())
}

func TestLockPersistenceRoundTrip(t *testing.T) {
	store, err := NewSQLLockStore("sqlite3", t.TempDir()+"/locks.db")
	require.NoError(t, err)

	lm := NewMemoryLockManager(store, nil)
	rec, err := lm.CreateLock("/share/a", LockTypeWrite, LockScopeExclusive, Depth0, "<D:href>alice</D:href>", 3600)
	require.NoError(t, err)

	// 同一存储重建管理器，锁应当恢复
	lm2 := NewMemoryLockManager(store, nil)
	defer lm2.Close()
	got, ok := lm2.GetLock(rec.Token)
	require.True(t, ok)
	assert.Equal(t, rec.Root, got.Root)
	assert.Equal(t, rec.Owner, got.Owner)
}
