package types

import (
	"encoding/xml"
	"strings"
)

// ========================================
// Property Types - 共享的属性类型定义
// ========================================

// 属性名统一使用Clark记法："{namespace}localname"，例如 "{DAV:}getetag"。

// NamespaceDAV DAV命名空间
const NamespaceDAV = "DAV:"

// 标准活属性（由资源getter派生，永不落盘）
const (
	PropResourceType    = "{DAV:}resourcetype"
	PropCreationDate    = "{DAV:}creationdate"
	PropDisplayName     = "{DAV:}displayname"
	PropContentLanguage = "{DAV:}getcontentlanguage"
	PropContentLength   = "{DAV:}getcontentlength"
	PropContentType     = "{DAV:}getcontenttype"
	PropLastModified    = "{DAV:}getlastmodified"
	PropEtag            = "{DAV:}getetag"
	PropLockDiscovery   = "{DAV:}lockdiscovery"
	PropSupportedLock   = "{DAV:}supportedlock"
)

// LockPropertyNames 锁属性名列表（只读，精确按此顺序枚举）
var LockPropertyNames = []string{PropLockDiscovery, PropSupportedLock}

// IsDAVName 检查Clark记法属性名是否属于{DAV:}命名空间
func IsDAVName(name string) bool {
	return strings.HasPrefix(name, "{DAV:}")
}

// IsLockPropertyName 检查是否为锁属性名
func IsLockPropertyName(name string) bool {
	return name == PropLockDiscovery || name == PropSupportedLock
}

// SplitClark 拆分Clark记法名为 (namespace, localname)
// 无命名空间前缀时返回空命名空间
func SplitClark(name string) (namespace, local string) {
	if strings.HasPrefix(name, "{") {
		if idx := strings.Index(name, "}"); idx > 0 {
			return name[1:idx], name[idx+1:]
		}
	}
	return "", name
}

// ClarkName 由 (namespace, localname) 组装Clark记法名
func ClarkName(namespace, local string) string {
	if namespace == "" {
		return local
	}
	return "{" + namespace + "}" + local
}

// PropEntry 单个属性条目 (name, value)
// Value 为以下之一：
//   - string：普通文本值
//   - 可XML序列化的结构（ResourceType / LockDiscovery / SupportedLock）
//   - RawXMLValue：死属性的原样存储值
//   - nil：propname模式下只枚举名字
//
// Err 非nil时表示该属性解析失败，条目级失败不会中止整个批量调用
type PropEntry struct {
	Name  string
	Value interface{}
	Err   *DAVError
}

// RawXMLValue 死属性的序列化值（内部XML原样透传）
type RawXMLValue string

// ========================================
// WebDAV XML Value Types - 结构化属性值
// ========================================

// ResourceType 资源类型属性值
// 非集合资源序列化为空元素，集合资源带<D:collection/>标记
type ResourceType struct {
	XMLName    xml.Name  `xml:"D:resourcetype"`
	Collection *struct{} `xml:"D:collection,omitempty"`
}

// LockScopeInfo 锁作用域（XML格式）
type LockScopeInfo struct {
	Exclusive *struct{} `xml:"D:exclusive,omitempty"`
	Shared    *struct{} `xml:"D:shared,omitempty"`
}

// LockTypeInfo 锁类型（XML格式）
type LockTypeInfo struct {
	Write *struct{} `xml:"D:write,omitempty"`
}

// LockTokenHref 锁令牌
type LockTokenHref struct {
	Href string `xml:"D:href"`
}

// LockRootHref 锁根
type LockRootHref struct {
	Href string `xml:"D:href"`
}

// ActiveLock 活跃锁条目
type ActiveLock struct {
	XMLName   xml.Name      `xml:"D:activelock"`
	LockType  LockTypeInfo  `xml:"D:locktype"`
	LockScope LockScopeInfo `xml:"D:lockscope"`
	Depth     string        `xml:"D:depth"`
	Owner     OwnerXML      `xml:"D:owner"`
	Timeout   string        `xml:"D:timeout"`
	LockToken LockTokenHref `xml:"D:locktoken"`
	LockRoot  LockRootHref  `xml:"D:lockroot"`
}

// OwnerXML 锁所有者（不透明内容，原样透传）
type OwnerXML struct {
	Inner string `xml:",innerxml"`
}

// LockDiscovery lockdiscovery属性值
type LockDiscovery struct {
	XMLName     xml.Name     `xml:"D:lockdiscovery"`
	ActiveLocks []ActiveLock `xml:"D:activelock"`
}

// LockEntry supportedlock中的能力条目
type LockEntry struct {
	XMLName   xml.Name      `xml:"D:lockentry"`
	LockScope LockScopeInfo `xml:"D:lockscope"`
	LockType  LockTypeInfo  `xml:"D:locktype"`
}

// SupportedLock supportedlock属性值（固定能力集：独占写+共享写）
type SupportedLock struct {
	XMLName xml.Name    `xml:"D:supportedlock"`
	Entries []LockEntry `xml:"D:lockentry"`
}

// NewSupportedLock 构造固定的supportedlock能力集
func NewSupportedLock() *SupportedLock {
	return &SupportedLock{
		Entries: []LockEntry{
			{
				LockScope: LockScopeInfo{Exclusive: &struct{}{}},
				LockType:  LockTypeInfo{Write: &struct{}{}},
			},
			{
				LockScope: LockScopeInfo{Shared: &struct{}{}},
				LockType:  LockTypeInfo{Write: &struct{}{}},
			},
		},
	}
}

// ========================================
// Lock Record - 锁记录（锁管理器所有，核心只读消费）
// ========================================

// TimeoutInfinite 无限超时哨兵值
const TimeoutInfinite int64 = -1

// LockRecord 单条锁记录
// Timeout 为绝对到期时间（epoch秒），负值表示永不过期
// Root 为被锁资源的引用键（refURL），即锁存储的键
type LockRecord struct {
	Token   string `json:"token"`
	Type    string `json:"type"`  // "write"
	Scope   string `json:"scope"` // "exclusive" | "shared"
	Depth   string `json:"depth"` // "0" | "infinity"
	Owner   string `json:"owner"` // 不透明XML片段
	Timeout int64  `json:"timeout"`
	Root    string `json:"root"`
}

// IsInfinite 检查锁是否为无限超时
func (r *LockRecord) IsInfinite() bool {
	return r.Timeout < 0
}
