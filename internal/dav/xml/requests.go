package xml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Request Parsers - DAV请求体解析
// ========================================

// PROPFIND模式
const (
	ModeAllProp  = "allprop"
	ModePropName = "propname"
	ModeNamed    = "named"
)

// rawProp prop容器内的任意属性元素
// encoding/xml已把前缀解析为完整命名空间URI
type rawProp struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
}

// clark 组装Clark记法名
func (p rawProp) clark() string {
	return types.ClarkName(p.XMLName.Space, p.XMLName.Local)
}

type propContainer struct {
	Props []rawProp `xml:",any"`
}

type propfindDoc struct {
	XMLName  xml.Name       `xml:"DAV: propfind"`
	AllProp  *struct{}      `xml:"DAV: allprop"`
	PropName *struct{}      `xml:"DAV: propname"`
	Prop     *propContainer `xml:"DAV: prop"`
}

// ParsePropfind 解析PROPFIND请求体
// 空请求体等价于allprop；named模式返回Clark记法属性名列表
func ParsePropfind(r io.Reader) (mode string, names []string, err error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("read propfind body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ModeAllProp, nil, nil
	}

	var doc propfindDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", nil, fmt.Errorf("parse propfind body: %w", err)
	}

	switch {
	case doc.PropName != nil:
		return ModePropName, nil, nil
	case doc.Prop != nil:
		// 空prop容器是合法请求，返回非nil空名单
		names = make([]string, 0, len(doc.Prop.Props))
		for _, p := range doc.Prop.Props {
			names = append(names, p.clark())
		}
		return ModeNamed, names, nil
	default:
		return ModeAllProp, nil, nil
	}
}

// PatchOp PROPPATCH中的单个属性操作
type PatchOp struct {
	// Remove 为true时是remove操作，Value无意义
	Remove bool
	// Name Clark记法属性名
	Name string
	// Value 属性元素的内部XML，原样保存
	Value string
}

type updateBlock struct {
	XMLName xml.Name
	Prop    propContainer `xml:"DAV: prop"`
}

type propertyUpdateDoc struct {
	XMLName xml.Name      `xml:"DAV: propertyupdate"`
	Blocks  []updateBlock `xml:",any"`
}

// ParsePropertyUpdate 解析PROPPATCH请求体
// set/remove块按文档顺序展开为操作列表，RFC4918要求按序执行
func ParsePropertyUpdate(r io.Reader) ([]PatchOp, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read proppatch body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("proppatch body must not be empty")
	}

	var doc propertyUpdateDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse proppatch body: %w", err)
	}

	var ops []PatchOp
	for _, block := range doc.Blocks {
		var remove bool
		switch block.XMLName.Local {
		case "set":
			remove = false
		case "remove":
			remove = true
		default:
			continue
		}
		for _, p := range block.Prop.Props {
			ops = append(ops, PatchOp{Remove: remove, Name: p.clark(), Value: p.Inner})
		}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("proppatch body contains no set or remove operations")
	}
	return ops, nil
}

// LockInfo LOCK请求体的解析结果
type LockInfo struct {
	// Scope "exclusive"或"shared"
	Scope string
	// Type 目前恒为"write"
	Type string
	// Owner 客户端提交的不透明XML片段
	Owner string
}

type lockInfoDoc struct {
	XMLName   xml.Name `xml:"DAV: lockinfo"`
	LockScope struct {
		Exclusive *struct{} `xml:"DAV: exclusive"`
		Shared    *struct{} `xml:"DAV: shared"`
	} `xml:"DAV: lockscope"`
	LockType struct {
		Write *struct{} `xml:"DAV: write"`
	} `xml:"DAV: locktype"`
	Owner *struct {
		Inner string `xml:",innerxml"`
	} `xml:"DAV: owner"`
}

// ParseLockInfo 解析LOCK请求体
// 空请求体返回nil（锁刷新请求没有请求体）
func ParseLockInfo(r io.Reader) (*LockInfo, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read lockinfo body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var doc lockInfoDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse lockinfo body: %w", err)
	}

	info := &LockInfo{Type: "write"}
	switch {
	case doc.LockScope.Exclusive != nil:
		info.Scope = "exclusive"
	case doc.LockScope.Shared != nil:
		info.Scope = "shared"
	default:
		return nil, fmt.Errorf("lockinfo is missing a lock scope")
	}
	if doc.LockType.Write == nil {
		return nil, fmt.Errorf("only write locks are supported")
	}
	if doc.Owner != nil {
		info.Owner = doc.Owner.Inner
	}
	return info, nil
}
