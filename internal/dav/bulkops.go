package dav

import (
	"strings"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Bulk Operation Coordinator - 批量操作协调器
// ========================================

// DispatchKind native钩子的派发结果类别
type DispatchKind int

const (
	// DispatchNotHandled 钩子未处理，走通用回退路径
	DispatchNotHandled DispatchKind = iota
	// DispatchHandled 钩子已完整处理，成功
	DispatchHandled
	// DispatchHandledWithErrors 钩子已处理但部分失败，其余成功
	DispatchHandledWithErrors
	// DispatchRefused 钩子整体拒绝，错误原样上抛
	DispatchRefused
)

// Dispatch native钩子的带标签派发结果
// 四种形态分别对应：未处理 / 完整成功 / 部分失败(非空错误表) / 整体拒绝
type Dispatch struct {
	Kind   DispatchKind
	Errors []types.RefError
	Err    error
}

// NotHandled 钩子未处理
func NotHandled() Dispatch { return Dispatch{Kind: DispatchNotHandled} }

// Handled 钩子已完整处理
func Handled() Dispatch { return Dispatch{Kind: DispatchHandled} }

// HandledWithErrors 钩子已处理但部分失败
func HandledWithErrors(errs []types.RefError) Dispatch {
	return Dispatch{Kind: DispatchHandledWithErrors, Errors: errs}
}

// Refused 钩子整体拒绝
func Refused(err error) Dispatch { return Dispatch{Kind: DispatchRefused, Err: err} }

// DeleteTree 删除资源（集合则连同整棵子树）
//
// 两级派发：先把整个操作交给后端的HandleDelete钩子；未处理时
// 走通用回退——按子在父前的顺序对每个成员调用删除原语，逐项
// 收集 (引用键, 错误)，不因单项失败中止遍历。
// 返回的错误表为空表示完整成功；部分失败是一等结果而非需要回滚的
// 异常状态。
func (p *Provider) DeleteTree(res Resource) ([]types.RefError, error) {
	switch d := res.HandleDelete(); d.Kind {
	case DispatchHandled:
		return nil, nil
	case DispatchHandledWithErrors:
		return d.Errors, nil
	case DispatchRefused:
		return nil, d.Err
	}

	// 子在父前：内容必须先于容器移除
	members, err := p.Descendants(res, true, true, true, DepthInfinity, true)
	if err != nil {
		return nil, err
	}

	// 后端宣告支持递归删除时，整棵树交给根的删除原语
	if res.IsCollection() && res.SupportRecursiveDelete() {
		errs, err := res.Delete()
		if err != nil {
			return nil, err
		}
		failed := make(map[string]bool, len(errs))
		for _, re := range errs {
			failed[re.RefURL] = true
		}
		for _, m := range members {
			if !failed[m.RefURL()] {
				p.cleanupAfterDelete(m)
			}
		}
		return errs, nil
	}

	var errs []types.RefError
	var failedPaths []string
	for _, m := range members {
		// 有子项删除失败的容器无法删除；跳过且不重复记错
		if m.IsCollection() && anyUnder(failedPaths, m.Path()) {
			continue
		}
		childErrs, err := m.Delete()
		errs = append(errs, childErrs...)
		if err != nil {
			errs = append(errs, types.RefError{RefURL: m.RefURL(), Err: types.AsDAVError(err)})
			failedPaths = append(failedPaths, m.Path())
			continue
		}
		p.cleanupAfterDelete(m)
	}
	return errs, nil
}

// CopyTree 复制资源到destPath
//
// 两级派发同DeleteTree。通用回退按父在子前的顺序逐项调用
// CopyMoveSingle（容器先于内容创建）；死属性随每个成功条目
// 一并复制到目的键；锁永不复制。复制失败的集合，其后代静默
// 跳过（容器未建成，无处可放），只记录原始错误。
// depthInfinity为false时只复制集合自身，不含成员。
func (p *Provider) CopyTree(res Resource, destPath string, depthInfinity bool) ([]types.RefError, error) {
	switch d := res.HandleCopy(destPath, depthInfinity); d.Kind {
	case DispatchHandled:
		return nil, nil
	case DispatchHandledWithErrors:
		return d.Errors, nil
	case DispatchRefused:
		return nil, d.Err
	}

	depth := DepthInfinity
	if !depthInfinity {
		depth = Depth0
	}
	// 父在子前：容器必须先于内容创建
	members, err := p.Descendants(res, true, true, false, depth, true)
	if err != nil {
		return nil, err
	}

	var errs []types.RefError
	var failedPrefixes []string
	for _, m := range members {
		if pathUnderAny(failedPrefixes, m.Path()) {
			continue
		}
		dest := replacePathPrefix(m.Path(), res.Path(), destPath)
		if err := m.CopyMoveSingle(dest, false); err != nil {
			errs = append(errs, types.RefError{RefURL: m.RefURL(), Err: types.AsDAVError(err)})
			if m.IsCollection() {
				failedPrefixes = append(failedPrefixes, m.Path())
			}
			continue
		}
		p.copyDeadProperties(m, dest)
	}
	return errs, nil
}

// MoveTree 移动资源到destPath
//
// 两级派发同上。后端宣告SupportRecursiveMove时调用其MoveRecursive
// 原语；否则通用回退分两趟：先自上而下CopyMoveSingle(isMove=true)，
// 再自下而上删除已成功移走的源。创建身份类活属性（如创建时间）
// 应当随移动保留（由CopyMoveSingle约定保证）；死属性必须保留；
// 锁绝不携带到目的地——留在（可能已删除的）源键上，在删除趟里
// 单独清理。
func (p *Provider) MoveTree(res Resource, destPath string) ([]types.RefError, error) {
	switch d := res.HandleMove(destPath); d.Kind {
	case DispatchHandled:
		return nil, nil
	case DispatchHandledWithErrors:
		return d.Errors, nil
	case DispatchRefused:
		return nil, d.Err
	}

	if res.SupportRecursiveMove(destPath) {
		// 先收集源树成员，移动后用于死属性搬迁与锁清理
		members, err := p.Descendants(res, true, true, true, DepthInfinity, true)
		if err != nil {
			return nil, err
		}
		errs, err := res.MoveRecursive(destPath)
		if err != nil {
			return nil, err
		}
		failed := make(map[string]bool, len(errs))
		for _, re := range errs {
			failed[re.RefURL] = true
		}
		for _, m := range members {
			if failed[m.RefURL()] {
				continue
			}
			// 死属性跟到目的键；锁留在源键上清掉
			dest := replacePathPrefix(m.Path(), res.Path(), destPath)
			p.copyDeadProperties(m, dest)
			p.cleanupAfterDelete(m)
		}
		return errs, nil
	}

	// 第一趟：父在子前，复制语义但isMove=true
	members, err := p.Descendants(res, true, true, false, DepthInfinity, true)
	if err != nil {
		return nil, err
	}

	var errs []types.RefError
	var failedPrefixes []string
	moved := make(map[string]bool, len(members))
	for _, m := range members {
		if pathUnderAny(failedPrefixes, m.Path()) {
			continue
		}
		dest := replacePathPrefix(m.Path(), res.Path(), destPath)
		if err := m.CopyMoveSingle(dest, true); err != nil {
			errs = append(errs, types.RefError{RefURL: m.RefURL(), Err: types.AsDAVError(err)})
			if m.IsCollection() {
				failedPrefixes = append(failedPrefixes, m.Path())
			}
			continue
		}
		p.copyDeadProperties(m, dest)
		moved[m.Path()] = true
	}

	// 第二趟：子在父前，清理源侧
	// 非集合的源已随isMove移除，只需清掉遗留的锁与死属性；
	// 集合在第一趟只按复制语义建了目的容器，源容器在这里删除
	var failedDeletes []string
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if !moved[m.Path()] {
			continue
		}
		if !m.IsCollection() {
			p.cleanupAfterDelete(m)
			continue
		}
		if anyUnder(failedDeletes, m.Path()) || anyUnder(failedPrefixes, m.Path()) {
			// 子树有成员留在源侧，容器须保留
			continue
		}
		childErrs, err := m.Delete()
		errs = append(errs, childErrs...)
		if err != nil {
			errs = append(errs, types.RefError{RefURL: m.RefURL(), Err: types.AsDAVError(err)})
			failedDeletes = append(failedDeletes, m.Path())
			continue
		}
		p.cleanupAfterDelete(m)
	}
	return errs, nil
}

// cleanupAfterDelete 成功删除后清理源键上的锁与死属性
func (p *Provider) cleanupAfterDelete(res Resource) {
	p.RemoveAllLocks(res)
	if err := p.RemoveAllProperties(res); err != nil {
		p.logger.WithField("refURL", res.RefURL()).WithError(err).
			Warn("failed to remove dead properties after delete")
	}
}

// copyDeadProperties 把源资源的死属性复制到目的键
// 目的地解析失败或无属性管理器时静默跳过（native后端自行负责）
func (p *Provider) copyDeadProperties(src Resource, destPath string) {
	if p.propManager == nil {
		return
	}
	destRes, err := p.GetResourceInst(destPath)
	if err != nil || destRes == nil {
		return
	}
	srcURL := src.RefURL()
	destURL := destRes.RefURL()
	names, err := p.propManager.PropertyNames(srcURL)
	if err != nil {
		p.logger.WithField("refURL", srcURL).WithError(err).Warn("failed to enumerate dead properties for copy")
		return
	}
	for _, name := range names {
		value, ok, err := p.propManager.Property(srcURL, name)
		if err != nil || !ok {
			continue
		}
		if err := p.propManager.WriteProperty(destURL, name, value, false); err != nil {
			p.logger.WithField("refURL", destURL).WithField("property", name).
				WithError(err).Warn("failed to copy dead property")
		}
	}
}

// anyUnder 检查是否有failed路径位于集合collectionPath之下
func anyUnder(failed []string, collectionPath string) bool {
	prefix := strings.TrimSuffix(collectionPath, "/") + "/"
	for _, f := range failed {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

// pathUnderAny 检查path是否位于任一失败前缀之下
func pathUnderAny(prefixes []string, path string) bool {
	for _, pre := range prefixes {
		if strings.HasPrefix(path, strings.TrimSuffix(pre, "/")+"/") {
			return true
		}
	}
	return false
}

// replacePathPrefix 把path的srcRoot前缀替换为destRoot
func replacePathPrefix(path, srcRoot, destRoot string) string {
	src := strings.TrimSuffix(srcRoot, "/")
	dst := strings.TrimSuffix(destRoot, "/")
	if path == srcRoot || path == src {
		return dst
	}
	rest := strings.TrimPrefix(path, src)
	return dst + rest
}
