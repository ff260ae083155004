package dav

import (
	"fmt"
	"time"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Lock-Discovery Renderer - 锁发现渲染
// ========================================

// lockDiscovery 构造lockdiscovery属性值
// 对根为本资源引用键的每条锁记录构造一个activelock条目；
// owner不透明原样透传；超时渲染为"Infinite"或"Second-N"
// （N = 绝对到期时间 - now）；lockroot通过把记录的根引用键
// 解析回资源再取其href得到。
func (p *Provider) lockDiscovery(res Resource) (*types.LockDiscovery, error) {
	records := p.lockManager.URLLockList(res.RefURL())
	discovery := &types.LockDiscovery{}

	for _, rec := range records {
		active := types.ActiveLock{
			Depth:     rec.Depth,
			Owner:     types.OwnerXML{Inner: rec.Owner},
			Timeout:   formatLockTimeout(rec.Timeout, time.Now()),
			LockToken: types.LockTokenHref{Href: rec.Token},
		}
		if rec.Type == "write" {
			active.LockType.Write = &struct{}{}
		}
		switch rec.Scope {
		case "exclusive":
			active.LockScope.Exclusive = &struct{}{}
		case "shared":
			active.LockScope.Shared = &struct{}{}
		}

		lockPath := p.RefURLToPath(rec.Root)
		lockRes, err := p.GetResourceInst(lockPath)
		if err != nil {
			return nil, types.NewInternal("resolve lock root %s: %v", rec.Root, err)
		}
		if lockRes == nil {
			// 锁记录指向的根必须可解析，否则是锁管理器的数据损坏
			return nil, types.NewInternal("lock root %s does not resolve to a resource", rec.Root)
		}
		active.LockRoot = types.LockRootHref{Href: lockRes.Href()}

		discovery.ActiveLocks = append(discovery.ActiveLocks, active)
	}

	return discovery, nil
}

// formatLockTimeout 渲染锁超时
// 负值哨兵渲染为"Infinite"，否则"Second-N"，N为剩余秒数
func formatLockTimeout(timeout int64, now time.Time) string {
	if timeout < 0 {
		return "Infinite"
	}
	return fmt.Sprintf("Second-%d", timeout-now.Unix())
}
