package dav

import (
	"io"
	"time"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Resource Model - 资源能力集
// ========================================

// Resource 单个已映射资源的句柄
//
// 句柄由Provider按路径解析，每次查找新建（廉价对象，不做长期缓存）。
// Path/IsCollection/Name 是廉价属性；各getter是昂贵属性，按需取值，
// 不适用时返回 (零值, false) 表示"缺失"，而不是返回错误。
//
// 后端只需实现自己支持的能力：嵌入 DefaultResource 即可获得规范默认行为
// （getter缺失、写原语Forbidden、native钩子NotHandled）。
type Resource interface {
	Path() string
	IsCollection() bool
	Name() string

	// --- 昂贵的元数据getter，(值, ok) 形式表达缺失 ---
	ContentLanguage() (string, bool)
	ContentLength() (int64, bool)
	ContentType() (string, bool)
	CreationDate() (time.Time, bool)
	DisplayName() (string, bool)
	Etag() (string, bool)
	LastModified() (time.Time, bool)

	SupportRanges() bool

	// --- 路径规范化（RefURL可被别名后端覆盖） ---
	PreferredPath() string
	RefURL() string
	Href() string

	// MemberNames 返回集合的直接成员名
	// 所有支持集合的后端必须实现
	MemberNames() ([]string, error)

	// PreventLocking 返回true时，该资源不在属性枚举中暴露锁属性
	PreventLocking() bool

	// --- 写原语，默认实现返回Forbidden ---
	CreateCollection(name string) error
	CreateEmptyResource(name string) (Resource, error)
	GetContent() (io.ReadCloser, error)
	OpenForWrite(contentType string) (io.WriteCloser, error)

	// Delete 删除本资源
	// 仅当 SupportRecursiveDelete 为true时才会在非空集合上调用，
	// 此时子项错误以 []RefError 返回
	Delete() ([]types.RefError, error)

	// CopyMoveSingle 非递归地复制/移动本资源到destPath
	// 不得复制集合成员，不得携带锁；死属性必须保留；
	// isMove时创建身份类活属性（如创建时间）应当保留
	CopyMoveSingle(destPath string, isMove bool) error

	SupportRecursiveDelete() bool
	SupportRecursiveMove(destPath string) bool

	// MoveRecursive 递归移动，仅当 SupportRecursiveMove 返回true时调用
	MoveRecursive(destPath string) ([]types.RefError, error)

	// --- Native钩子：后端可整体接管批量操作 ---
	HandleDelete() Dispatch
	HandleCopy(destPath string, depthInfinity bool) Dispatch
	HandleMove(destPath string) Dispatch
}

// DefaultResource 资源默认实现基座
// 后端资源类型嵌入该结构，只覆盖自己支持的能力
type DefaultResource struct {
	provider     *Provider
	path         string
	isCollection bool
	name         string
}

// NewDefaultResource 创建默认资源基座
// 约束：path == "" 或以 "/" 开头
func NewDefaultResource(provider *Provider, path string, isCollection bool) DefaultResource {
	if path != "" && path[0] != '/' {
		panic("dav: resource path must be empty or rooted: " + path)
	}
	return DefaultResource{
		provider:     provider,
		path:         path,
		isCollection: isCollection,
		name:         uriName(path),
	}
}

// Provider 返回所属的Provider
func (r *DefaultResource) Provider() *Provider { return r.provider }

func (r *DefaultResource) Path() string       { return r.path }
func (r *DefaultResource) IsCollection() bool { return r.isCollection }
func (r *DefaultResource) Name() string       { return r.name }

func (r *DefaultResource) ContentLanguage() (string, bool) { return "", false }
func (r *DefaultResource) ContentLength() (int64, bool)    { return 0, false }
func (r *DefaultResource) ContentType() (string, bool)     { return "", false }
func (r *DefaultResource) CreationDate() (time.Time, bool) { return time.Time{}, false }
func (r *DefaultResource) DisplayName() (string, bool)     { return "", false }
func (r *DefaultResource) Etag() (string, bool)            { return "", false }
func (r *DefaultResource) LastModified() (time.Time, bool) { return time.Time{}, false }

func (r *DefaultResource) SupportRanges() bool { return false }

// PreferredPath 返回规范路径：根为"/"，集合补尾部斜杠，其余原样
// 幂等：PreferredPath(PreferredPath(r)) == PreferredPath(r)
func (r *DefaultResource) PreferredPath() string {
	return preferredPath(r.path, r.isCollection)
}

// RefURL 返回引用键：quote(sharePath + preferredPath)
// 允许多路径映射同一逻辑资源的后端必须覆盖该方法，
// 使所有别名收敛到同一个键（锁和死属性都以该键存储）
func (r *DefaultResource) RefURL() string {
	return refURL(r.provider.SharePath(), r.PreferredPath())
}

// Href 返回面向客户端的href（挂载点+共享前缀，宽松转义）
func (r *DefaultResource) Href() string {
	return href(r.provider.MountPath(), r.provider.SharePath(), r.PreferredPath())
}

func (r *DefaultResource) MemberNames() ([]string, error) {
	return nil, types.NewInternal("MemberNames not implemented for %s", r.path)
}

func (r *DefaultResource) PreventLocking() bool { return false }

func (r *DefaultResource) CreateCollection(name string) error {
	return types.NewForbidden("createCollection not supported for %s", r.path)
}

func (r *DefaultResource) CreateEmptyResource(name string) (Resource, error) {
	return nil, types.NewForbidden("createEmptyResource not supported for %s", r.path)
}

func (r *DefaultResource) GetContent() (io.ReadCloser, error) {
	return nil, types.NewInternal("getContent not implemented for %s", r.path)
}

func (r *DefaultResource) OpenForWrite(contentType string) (io.WriteCloser, error) {
	return nil, types.NewForbidden("write not supported for %s", r.path)
}

func (r *DefaultResource) Delete() ([]types.RefError, error) {
	return nil, types.NewForbidden("delete not supported for %s", r.path)
}

func (r *DefaultResource) CopyMoveSingle(destPath string, isMove bool) error {
	return types.NewForbidden("copy/move not supported for %s", r.path)
}

func (r *DefaultResource) SupportRecursiveDelete() bool             { return false }
func (r *DefaultResource) SupportRecursiveMove(destPath string) bool { return false }

func (r *DefaultResource) MoveRecursive(destPath string) ([]types.RefError, error) {
	return nil, types.NewForbidden("recursive move not supported for %s", r.path)
}

func (r *DefaultResource) HandleDelete() Dispatch { return NotHandled() }

func (r *DefaultResource) HandleCopy(destPath string, depthInfinity bool) Dispatch {
	return NotHandled()
}

func (r *DefaultResource) HandleMove(destPath string) Dispatch { return NotHandled() }
