package dav

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/webdav-provider/internal/types"
)

// ========================================
// Provider Facade - 每共享一个的提供者门面
// ========================================

// LockManager 锁管理器能力集（外部协作者）
// 实现必须支持对同一引用键的并发访问
type LockManager interface {
	// URLLockList 返回根为refURL的全部锁记录
	URLLockList(refURL string) []types.LockRecord
	// IsURLLocked 检查refURL是否被锁定
	IsURLLocked(refURL string) bool
	// RemoveAllLocksFromURL 移除refURL上的全部锁
	RemoveAllLocksFromURL(refURL string)
}

// PropertyManager 死属性管理器能力集（外部协作者）
// 实现必须支持对同一引用键的并发访问
type PropertyManager interface {
	// PropertyNames 枚举refURL下的死属性名（Clark记法）
	PropertyNames(refURL string) ([]string, error)
	// Property 读取单个死属性值，absent时ok为false
	Property(refURL, name string) (value string, ok bool, err error)
	// WriteProperty 写入死属性；dryRun时只校验不落盘
	WriteProperty(refURL, name, value string, dryRun bool) error
	// RemoveProperty 移除死属性；移除不存在的属性不是错误
	RemoveProperty(refURL, name string) error
	// RemoveProperties 移除refURL下的全部死属性
	RemoveProperties(refURL string) error
}

// Resolver 后端资源解析器
// 路径未映射到存活资源时返回 (nil, nil)
type Resolver interface {
	Resolve(p *Provider, path string) (Resource, error)
}

// Provider 每个共享一个的提供者实例
//
// 生命周期：共享启动时构造，首个请求前通过setter配置，之后只读。
// 并发请求只读取其字段；并发正确性由注入的两个管理器自行保证。
type Provider struct {
	mountPath   string
	sharePath   string
	lockManager LockManager
	propManager PropertyManager
	resolver    Resolver
	logger      *logrus.Logger
	verbose     int
}

// NewProvider 创建Provider
func NewProvider(resolver Resolver) *Provider {
	return &Provider{
		resolver: resolver,
		logger:   logrus.New(),
		verbose:  1,
	}
}

// SetMountPath 设置服务端应用根（""或不以斜杠结尾）
func (p *Provider) SetMountPath(mountPath string) {
	if mountPath != "" && mountPath != "/" && strings.HasSuffix(mountPath, "/") {
		panic("dav: mountPath must be \"\" or not end with '/': " + mountPath)
	}
	if mountPath == "/" {
		mountPath = ""
	}
	p.mountPath = mountPath
}

// SetSharePath 设置共享根路径
// 根共享存储为""，便于 absPath = sharePath + path 拼接
func (p *Provider) SetSharePath(sharePath string) {
	if sharePath != "" && !strings.HasPrefix(sharePath, "/") {
		panic("dav: sharePath must be \"\" or rooted: " + sharePath)
	}
	if sharePath == "/" {
		sharePath = ""
	}
	if sharePath != "" && strings.HasSuffix(sharePath, "/") {
		panic("dav: sharePath must not end with '/': " + sharePath)
	}
	p.sharePath = sharePath
}

// SetLockManager 注入锁管理器（可为nil）
func (p *Provider) SetLockManager(lm LockManager) { p.lockManager = lm }

// SetPropManager 注入死属性管理器（可为nil）
func (p *Provider) SetPropManager(pm PropertyManager) { p.propManager = pm }

// SetLogger 注入日志
func (p *Provider) SetLogger(logger *logrus.Logger) { p.logger = logger }

// SetVerbose 设置诊断级别
func (p *Provider) SetVerbose(verbose int) { p.verbose = verbose }

func (p *Provider) MountPath() string            { return p.mountPath }
func (p *Provider) SharePath() string            { return p.sharePath }
func (p *Provider) LockManager() LockManager     { return p.lockManager }
func (p *Provider) PropManager() PropertyManager { return p.propManager }
func (p *Provider) Logger() *logrus.Logger       { return p.logger }

// PathToRefURL 把路径规范化后换算为引用键
// 后端在构造逐资源错误表时用它给尚无句柄的资源定键
func (p *Provider) PathToRefURL(path string, isCollection bool) string {
	return refURL(p.sharePath, preferredPath(path, isCollection))
}

// RefURLToPath 把引用键转换回路径：去掉共享前缀并补上前导斜杠
// 对非别名后端是 RefURL 的左逆
func (p *Provider) RefURLToPath(refURL string) string {
	unquoted := unquote(refURL)
	stripped := strings.TrimPrefix(unquoted, p.sharePath)
	return "/" + strings.TrimLeft(stripped, "/")
}

// GetResourceInst 解析路径为资源句柄
// 路径未映射时返回 (nil, nil)；每个请求每个资源只应调用一次
func (p *Provider) GetResourceInst(path string) (Resource, error) {
	if p.resolver == nil {
		return nil, types.NewInternal("provider has no resolver attached")
	}
	return p.resolver.Resolve(p, path)
}

// Exists 检查路径是否映射到存活资源
// 只在不需要资源其他信息时使用，否则应直接创建资源句柄
func (p *Provider) Exists(path string) bool {
	res, err := p.GetResourceInst(path)
	return err == nil && res != nil
}

// IsCollection 检查路径是否映射到集合资源
func (p *Provider) IsCollection(path string) bool {
	res, err := p.GetResourceInst(path)
	return err == nil && res != nil && res.IsCollection()
}
