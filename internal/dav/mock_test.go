package dav

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Test Fixtures - 内存虚拟树与内存管理器
// ========================================

// vfsNode 虚拟树节点
type vfsNode struct {
	isCollection bool
	content      string
	failDelete   bool
	failCopy     bool
}

// vfsResolver 内存虚拟树解析器
// 节点以去尾部斜杠的规范路径为键，根为"/"
type vfsResolver struct {
	mu    sync.Mutex
	nodes map[string]*vfsNode
}

func newVFSResolver(paths map[string]*vfsNode) *vfsResolver {
	nodes := map[string]*vfsNode{"/": {isCollection: true}}
	for p, n := range paths {
		nodes[p] = n
	}
	return &vfsResolver{nodes: nodes}
}

func canonical(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	return strings.TrimSuffix(path, "/")
}

func (rv *vfsResolver) Resolve(p *Provider, path string) (Resource, error) {
	rv.mu.Lock()
	defer rv.mu.Unlock()

	cpath := canonical(path)
	node, ok := rv.nodes[cpath]
	if !ok {
		return nil, nil
	}
	return &vfsResource{
		DefaultResource: NewDefaultResource(p, cpath, node.isCollection),
		resolver:        rv,
		node:            node,
		cpath:           cpath,
	}, nil
}

// childrenOf 动态计算直接成员名（须持有锁）
func (rv *vfsResolver) childrenOf(cpath string) []string {
	prefix := strings.TrimSuffix(cpath, "/") + "/"
	var names []string
	for p := range rv.nodes {
		if p == "/" || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names
}

// vfsResource 虚拟树资源
type vfsResource struct {
	DefaultResource
	resolver *vfsResolver
	node     *vfsNode
	cpath    string
}

var vfsEpoch = time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)

func (r *vfsResource) ContentLength() (int64, bool) {
	if r.IsCollection() {
		return 0, false
	}
	return int64(len(r.node.content)), true
}

func (r *vfsResource) ContentType() (string, bool) {
	if r.IsCollection() {
		return "", false
	}
	return "text/plain", true
}

func (r *vfsResource) CreationDate() (time.Time, bool) { return vfsEpoch, true }
func (r *vfsResource) LastModified() (time.Time, bool) { return vfsEpoch, true }
func (r *vfsResource) DisplayName() (string, bool)     { return r.Name(), true }

func (r *vfsResource) Etag() (string, bool) {
	if r.IsCollection() {
		return "", false
	}
	return "vfs-" + r.Name(), true
}

func (r *vfsResource) MemberNames() ([]string, error) {
	r.resolver.mu.Lock()
	defer r.resolver.mu.Unlock()
	return r.resolver.childrenOf(r.cpath), nil
}

func (r *vfsResource) Delete() ([]types.RefError, error) {
	if r.node.failDelete {
		return nil, types.NewInternal("simulated delete failure for %s", r.cpath)
	}
	r.resolver.mu.Lock()
	defer r.resolver.mu.Unlock()
	delete(r.resolver.nodes, r.cpath)
	return nil, nil
}

func (r *vfsResource) CopyMoveSingle(destPath string, isMove bool) error {
	if r.node.failCopy {
		return types.NewInternal("simulated copy failure for %s", r.cpath)
	}
	r.resolver.mu.Lock()
	defer r.resolver.mu.Unlock()
	r.resolver.nodes[canonical(destPath)] = &vfsNode{
		isCollection: r.node.isCollection,
		content:      r.node.content,
	}
	// 移动时只有非集合移走源；源集合留给协调器的删除趟
	if isMove && !r.node.isCollection {
		delete(r.resolver.nodes, r.cpath)
	}
	return nil
}

// hookResource 覆盖native钩子的资源，用于派发测试
type hookResource struct {
	*vfsResource
	deleteDispatch Dispatch
}

func (h *hookResource) HandleDelete() Dispatch { return h.deleteDispatch }

// recursiveMoveResource 宣告支持整树移动的集合，模拟文件系统rename
type recursiveMoveResource struct {
	*vfsResource
}

func (r *recursiveMoveResource) SupportRecursiveMove(destPath string) bool { return true }

func (r *recursiveMoveResource) MoveRecursive(destPath string) ([]types.RefError, error) {
	r.resolver.mu.Lock()
	defer r.resolver.mu.Unlock()

	src := r.cpath
	dst := canonical(destPath)
	moved := make(map[string]*vfsNode)
	for p, n := range r.resolver.nodes {
		if p == src {
			moved[dst] = n
		} else if strings.HasPrefix(p, src+"/") {
			moved[dst+strings.TrimPrefix(p, src)] = n
		} else {
			continue
		}
		delete(r.resolver.nodes, p)
	}
	for p, n := range moved {
		r.resolver.nodes[p] = n
	}
	return nil, nil
}

// memLockManager 内存锁管理器桩（只实现Provider能力集）
type memLockManager struct {
	mu      sync.Mutex
	records map[string][]types.LockRecord // refURL -> records
}

func newMemLockManager() *memLockManager {
	return &memLockManager{records: make(map[string][]types.LockRecord)}
}

func (lm *memLockManager) add(rec types.LockRecord) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.records[rec.Root] = append(lm.records[rec.Root], rec)
}

func (lm *memLockManager) URLLockList(refURL string) []types.LockRecord {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]types.LockRecord(nil), lm.records[refURL]...)
}

func (lm *memLockManager) IsURLLocked(refURL string) bool {
	return len(lm.URLLockList(refURL)) > 0
}

func (lm *memLockManager) RemoveAllLocksFromURL(refURL string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.records, refURL)
}

// memPropManager 内存死属性管理器桩
type memPropManager struct {
	mu        sync.Mutex
	props     map[string]map[string]string // refURL -> clarkName -> value
	failWrite bool
}

func newMemPropManager() *memPropManager {
	return &memPropManager{props: make(map[string]map[string]string)}
}

func (pm *memPropManager) PropertyNames(refURL string) ([]string, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var names []string
	for name := range pm.props[refURL] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (pm *memPropManager) Property(refURL, name string) (string, bool, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	value, ok := pm.props[refURL][name]
	return value, ok, nil
}

func (pm *memPropManager) WriteProperty(refURL, name, value string, dryRun bool) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.failWrite {
		return types.NewInternal("simulated write failure")
	}
	if dryRun {
		return nil
	}
	if pm.props[refURL] == nil {
		pm.props[refURL] = make(map[string]string)
	}
	pm.props[refURL][name] = value
	return nil
}

func (pm *memPropManager) RemoveProperty(refURL, name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.props[refURL], name)
	return nil
}

func (pm *memPropManager) RemoveProperties(refURL string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.props, refURL)
	return nil
}

// newTestProvider 构造带标准虚拟树的Provider
//
//	/
//	├── docs/
//	│   ├── a.txt
//	│   └── sub/
//	│       └── b.txt
//	└── readme.md
func newTestProvider() (*Provider, *vfsResolver) {
	rv := newVFSResolver(map[string]*vfsNode{
		"/docs":           {isCollection: true},
		"/docs/a.txt":     {content: "hello"},
		"/docs/sub":       {isCollection: true},
		"/docs/sub/b.txt": {content: "world"},
		"/readme.md":      {content: "readme"},
	})
	p := NewProvider(rv)
	p.SetMountPath("/dav")
	p.SetSharePath("/share")
	return p, rv
}

func mustResolve(p *Provider, path string) Resource {
	res, err := p.GetResourceInst(path)
	if err != nil || res == nil {
		panic("test fixture path does not resolve: " + path)
	}
	return res
}

func resourcePaths(members []Resource) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Path())
	}
	return out
}
