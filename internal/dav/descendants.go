package dav

import (
	"github.com/webdav-provider/internal/types"
)

// ========================================
// Resource Tree Walker - 资源树遍历
// ========================================

// 深度取值
const (
	Depth0        = "0"
	Depth1        = "1"
	DepthInfinity = "infinity"
)

// Descendants 枚举集合资源的后代（子、孙……）
//
// depthFirst为false时成员先于其后代入列（父在子前，
// 复制/移动分支时用，容器必须先于内容创建）；为true时后代先于
// 成员本身入列（子在父前，递归删除时用，内容必须先于容器移除）。
// addSelf控制是否包含资源自身：非深度优先在队首，深度优先在队尾，
// 与父子顺序规则一致。
//
// collections/resources过滤逐节点独立生效：被过滤掉的集合在
// depth为infinity时仍会被递归展开。
//
// 后端列出的每个成员名都必须解析为存活资源；解析失败说明后端
// 违反了自身的列表约定，按内部一致性错误整体中止，不做逐项降级。
func (p *Provider) Descendants(res Resource, collections, resources, depthFirst bool, depth string, addSelf bool) ([]Resource, error) {
	if depth != Depth0 && depth != Depth1 && depth != DepthInfinity {
		return nil, types.NewInternal("invalid depth %q", depth)
	}

	var out []Resource
	if addSelf && !depthFirst {
		out = append(out, res)
	}
	if depth != Depth0 && res.IsCollection() {
		names, err := res.MemberNames()
		if err != nil {
			return nil, types.NewInternal("list members of %s: %v", res.Path(), err)
		}
		for _, name := range names {
			childPath := joinURI(res.Path(), name)
			child, err := p.GetResourceInst(childPath)
			if err != nil {
				return nil, types.NewInternal("resolve member %s: %v", childPath, err)
			}
			if child == nil {
				return nil, types.NewInternal("member %s listed but does not resolve", childPath)
			}
			want := (collections && child.IsCollection()) || (resources && !child.IsCollection())
			if want && !depthFirst {
				out = append(out, child)
			}
			if child.IsCollection() && depth == DepthInfinity {
				sub, err := p.Descendants(child, collections, resources, depthFirst, depth, false)
				if err != nil {
					return nil, err
				}
				out = append(out, sub...)
			}
			if want && depthFirst {
				out = append(out, child)
			}
		}
	}
	if addSelf && depthFirst {
		out = append(out, res)
	}
	return out, nil
}
