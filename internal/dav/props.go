package dav

import (
	"fmt"
	"strconv"
	"time"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Property Resolution Engine - 属性解析引擎
// ========================================

// PropfindMode 批量属性获取模式
const (
	ModeAllProp  = "allprop"
	ModePropName = "propname"
	ModeNamed    = "named"
)

// rfc1123GMT getlastmodified的输出格式（RFC1123，GMT）
const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// PropertyNames 返回支持的属性名列表（Clark记法），顺序固定：
//
//  1. 标准活属性：resourcetype恒在；creationdate/getcontentlength/
//     getcontenttype/getlastmodified/displayname/getetag 按getter有值与否收录
//     （集合永不暴露getcontentlength）
//  2. 锁属性 lockdiscovery/supportedlock：挂接了锁管理器且资源未opt-out时收录
//  3. 死属性：挂接了属性管理器时按引用键原样追加
//
// 注意'allprop'尽管得名如此，并不返回所有属性，只返回死属性
// 加上RFC4918定义的活属性；对本实现两种枚举相等。
// 不做去重：死属性与活属性重名属于后端调用方约定违规，这里不强制。
func (p *Provider) PropertyNames(res Resource, isAllProp bool) ([]string, error) {
	names := []string{types.PropResourceType}

	if _, ok := res.CreationDate(); ok {
		names = append(names, types.PropCreationDate)
	}
	if _, ok := res.ContentLength(); ok && !res.IsCollection() {
		names = append(names, types.PropContentLength)
	}
	if _, ok := res.ContentType(); ok {
		names = append(names, types.PropContentType)
	}
	if _, ok := res.LastModified(); ok {
		names = append(names, types.PropLastModified)
	}
	if _, ok := res.DisplayName(); ok {
		names = append(names, types.PropDisplayName)
	}
	if _, ok := res.Etag(); ok {
		names = append(names, types.PropEtag)
	}

	if p.lockManager != nil && !res.PreventLocking() {
		names = append(names, types.LockPropertyNames...)
	}

	if p.propManager != nil {
		deadNames, err := p.propManager.PropertyNames(res.RefURL())
		if err != nil {
			return nil, fmt.Errorf("enumerate dead properties for %s: %w", res.RefURL(), err)
		}
		names = append(names, deadNames...)
	}

	return names, nil
}

// Properties 批量获取属性，返回 (name, value) 条目列表
//
// mode为propname时只枚举名字；allprop时名字来自PropertyNames；
// named时名字由调用方给出。每个名字独立解析：单个属性失败只记入
// 该条目的Err，绝不中止整个调用（10个属性里1个不支持，
// 其余9个仍须返回）。
func (p *Provider) Properties(res Resource, mode string, names []string) ([]types.PropEntry, error) {
	switch mode {
	case ModeAllProp, ModePropName:
		if names != nil {
			return nil, types.NewInternal("mode %q does not accept a name list", mode)
		}
		var err error
		names, err = p.PropertyNames(res, mode == ModeAllProp)
		if err != nil {
			return nil, err
		}
	case ModeNamed:
		if names == nil {
			return nil, types.NewInternal("mode %q requires a name list", mode)
		}
	default:
		return nil, types.NewInternal("unknown propfind mode %q", mode)
	}

	namesOnly := mode == ModePropName
	entries := make([]types.PropEntry, 0, len(names))
	for _, name := range names {
		if namesOnly {
			entries = append(entries, types.PropEntry{Name: name})
			continue
		}
		value, err := p.PropertyValue(res, name)
		if err != nil {
			entries = append(entries, types.PropEntry{Name: name, Err: types.AsDAVError(err)})
			if p.verbose >= 2 {
				p.logger.WithField("property", name).WithError(err).Debug("property resolution failed")
			}
			continue
		}
		entries = append(entries, types.PropEntry{Name: name, Value: value})
	}
	return entries, nil
}

// PropertyValue 解析单个属性值
//
// 检查顺序即优先级：锁属性 → {DAV:}活属性 → 死属性。
// 返回值类型：string、*types.ResourceType、*types.LockDiscovery、
// *types.SupportedLock 或 types.RawXMLValue；不可用时返回NotFound。
func (p *Provider) PropertyValue(res Resource, name string) (interface{}, error) {
	// 锁属性
	if p.lockManager != nil && name == types.PropLockDiscovery {
		return p.lockDiscovery(res)
	}
	if p.lockManager != nil && name == types.PropSupportedLock {
		return types.NewSupportedLock(), nil
	}

	// 标准活属性（不支持时返回NotFound）
	if types.IsDAVName(name) {
		switch name {
		case types.PropResourceType:
			// resourcetype永远成功：集合带collection标记，否则为空
			if res.IsCollection() {
				return &types.ResourceType{Collection: &struct{}{}}, nil
			}
			return "", nil
		case types.PropCreationDate:
			if t, ok := res.CreationDate(); ok {
				return t.UTC().Format(time.RFC3339), nil
			}
		case types.PropContentType:
			if ct, ok := res.ContentType(); ok {
				return ct, nil
			}
		case types.PropContentLanguage:
			if lang, ok := res.ContentLanguage(); ok {
				return lang, nil
			}
		case types.PropLastModified:
			if t, ok := res.LastModified(); ok {
				return t.UTC().Format(rfc1123GMT), nil
			}
		case types.PropContentLength:
			if n, ok := res.ContentLength(); ok {
				// 必须是十进制数字串
				return strconv.FormatInt(n, 10), nil
			}
		case types.PropEtag:
			if etag, ok := res.Etag(); ok {
				return etag, nil
			}
		case types.PropDisplayName:
			if dn, ok := res.DisplayName(); ok {
				return dn, nil
			}
		}
		return nil, types.NewNotFound("property %s not supported by %s", name, res.Path())
	}

	// 死属性
	if p.propManager != nil {
		value, ok, err := p.propManager.Property(res.RefURL(), name)
		if err != nil {
			return nil, types.NewInternal("read dead property %s: %v", name, err)
		}
		if ok {
			return types.RawXMLValue(value), nil
		}
	}

	// 无持久层，或属性不存在
	return nil, types.NewNotFound("property %s not found on %s", name, res.Path())
}

// SetPropertyValue 设置或移除属性；value为nil表示移除
//
// 检查顺序有意为之（锁 → 活 → 死）：客户端试图覆盖lockdiscovery时
// 必须得到protected-property原因，即使属性管理器恰好能存任意键。
//
//   - 锁属性永远只读：Forbidden + protected-property前置条件
//   - 任何{DAV:}活属性都是派生值，不落盘：Forbidden
//   - 其余作为死属性委托给属性管理器（honor dryRun）
//   - 无属性管理器时：Forbidden
//
// 移除不存在的属性不是错误。
func (p *Provider) SetPropertyValue(res Resource, name string, value *string, dryRun bool) error {
	if types.IsLockPropertyName(name) {
		return types.NewProtectedProperty(name)
	}
	if types.IsDAVName(name) {
		return types.NewForbidden("live property %s is read-only", name)
	}

	if p.propManager != nil {
		refURL := res.RefURL()
		if value == nil {
			if dryRun {
				return nil
			}
			return p.propManager.RemoveProperty(refURL, name)
		}
		return p.propManager.WriteProperty(refURL, name, *value, dryRun)
	}

	return types.NewForbidden("no property manager attached, cannot store %s", name)
}

// RemoveAllProperties 移除资源关联的全部死属性
func (p *Provider) RemoveAllProperties(res Resource) error {
	if p.propManager == nil {
		return nil
	}
	return p.propManager.RemoveProperties(res.RefURL())
}

// ========================================
// Locking helpers - 锁辅助
// ========================================

// IsLocked 检查资源是否被锁定
// 即使资源PreventLocking也照常咨询锁管理器：
// opt-out只抑制锁属性的枚举，不改变锁状态查询
func (p *Provider) IsLocked(res Resource) bool {
	if p.lockManager == nil {
		return false
	}
	return p.lockManager.IsURLLocked(res.RefURL())
}

// RemoveAllLocks 移除资源上的全部锁
func (p *Provider) RemoveAllLocks(res Resource) {
	if p.lockManager != nil {
		p.lockManager.RemoveAllLocksFromURL(res.RefURL())
	}
}
