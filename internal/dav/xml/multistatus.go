package xml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Multistatus Serializer - 207响应渲染
// ========================================

// HTTP状态行
const (
	StatusOK                  = "HTTP/1.1 200 OK"
	StatusForbidden           = "HTTP/1.1 403 Forbidden"
	StatusNotFound            = "HTTP/1.1 404 Not Found"
	StatusConflict            = "HTTP/1.1 409 Conflict"
	StatusFailedDependency    = "HTTP/1.1 424 Failed Dependency"
	StatusInternalServerError = "HTTP/1.1 500 Internal Server Error"
)

// StatusForError 把领域错误映射为HTTP状态行
func StatusForError(err *types.DAVError) string {
	if err == nil {
		return StatusOK
	}
	switch err.Kind {
	case types.ErrNotFound:
		return StatusNotFound
	case types.ErrForbidden:
		return StatusForbidden
	default:
		return StatusInternalServerError
	}
}

// Propstat 一组同状态的属性
type Propstat struct {
	Status string
	// Props 渲染好的属性元素片段
	Props []string
	// Precondition 非空时输出<D:error>前置条件元素
	Precondition string
}

// Response multistatus中的单个response
// Propstats为空时退化为 href + status 形式（批量操作的逐资源结果）
type Response struct {
	Href      string
	Status    string
	Propstats []Propstat
}

// Serializer multistatus序列化器
type Serializer struct {
	indent string
}

// NewSerializer 创建序列化器
func NewSerializer() *Serializer {
	return &Serializer{indent: "  "}
}

// RenderMultistatus 渲染完整的multistatus文档
func (s *Serializer) RenderMultistatus(responses []Response) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<D:multistatus xmlns:D="DAV:">` + "\n")
	for _, resp := range responses {
		s.renderResponse(&buf, resp)
	}
	buf.WriteString("</D:multistatus>\n")
	return buf.Bytes()
}

func (s *Serializer) renderResponse(buf *bytes.Buffer, resp Response) {
	in := s.indent
	buf.WriteString(in + "<D:response>\n")
	buf.WriteString(in + in + "<D:href>" + EscapeXML(resp.Href) + "</D:href>\n")

	if len(resp.Propstats) == 0 {
		buf.WriteString(in + in + "<D:status>" + EscapeXML(resp.Status) + "</D:status>\n")
	}
	for _, ps := range resp.Propstats {
		buf.WriteString(in + in + "<D:propstat>\n")
		buf.WriteString(in + in + in + "<D:prop>\n")
		for _, prop := range ps.Props {
			buf.WriteString(in + in + in + in + prop + "\n")
		}
		buf.WriteString(in + in + in + "</D:prop>\n")
		buf.WriteString(in + in + in + "<D:status>" + EscapeXML(ps.Status) + "</D:status>\n")
		if ps.Precondition != "" {
			buf.WriteString(in + in + in + "<D:error><D:" + ps.Precondition + "/></D:error>\n")
		}
		buf.WriteString(in + in + "</D:propstat>\n")
	}
	buf.WriteString(in + "</D:response>\n")
}

// GroupEntries 把属性条目按状态分组为propstat列表
// 同状态的条目合并进同一个propstat；成功组恒排在最前
func GroupEntries(entries []types.PropEntry, namesOnly bool) ([]Propstat, error) {
	grouped := make(map[string]*Propstat)
	var order []string

	for _, entry := range entries {
		status := StatusForError(entry.Err)
		fragment, err := RenderPropElement(entry, namesOnly)
		if err != nil {
			return nil, err
		}
		ps, ok := grouped[status]
		if !ok {
			ps = &Propstat{Status: status}
			grouped[status] = ps
			order = append(order, status)
		}
		ps.Props = append(ps.Props, fragment)
		if entry.Err != nil && entry.Err.Precondition != "" {
			ps.Precondition = entry.Err.Precondition
		}
	}

	var out []Propstat
	if ps, ok := grouped[StatusOK]; ok {
		out = append(out, *ps)
	}
	for _, status := range order {
		if status == StatusOK {
			continue
		}
		out = append(out, *grouped[status])
	}
	return out, nil
}

// RenderPropElement 渲染单个属性元素片段
//
// 失败条目与namesOnly模式渲染为空元素；值按类型分派：
// 纯文本转义后内联，死属性的原样XML直接透传，结构化值
// （resourcetype/lockdiscovery/supportedlock）交给encoding/xml，
// 其D:前缀由multistatus根上的xmlns:D声明兜底。
func RenderPropElement(entry types.PropEntry, namesOnly bool) (string, error) {
	namespace, local := types.SplitClark(entry.Name)

	if namesOnly || entry.Err != nil || entry.Value == nil {
		return emptyElement(namespace, local), nil
	}

	switch v := entry.Value.(type) {
	case string:
		if v == "" {
			return emptyElement(namespace, local), nil
		}
		open, closing := elementTags(namespace, local)
		return open + EscapeXML(v) + closing, nil
	case types.RawXMLValue:
		open, closing := elementTags(namespace, local)
		return open + string(v) + closing, nil
	default:
		data, err := xml.Marshal(entry.Value)
		if err != nil {
			return "", fmt.Errorf("marshal property %s: %w", entry.Name, err)
		}
		return string(data), nil
	}
}

// elementTags 构造属性元素的开闭标签
// DAV:命名空间用文档级D:前缀；其他命名空间就地声明默认xmlns
func elementTags(namespace, local string) (open, closing string) {
	if namespace == types.NamespaceDAV {
		return "<D:" + local + ">", "</D:" + local + ">"
	}
	if namespace == "" {
		return "<" + local + ">", "</" + local + ">"
	}
	return fmt.Sprintf("<%s xmlns=%q>", local, namespace), "</" + local + ">"
}

func emptyElement(namespace, local string) string {
	if namespace == types.NamespaceDAV {
		return "<D:" + local + "/>"
	}
	if namespace == "" {
		return "<" + local + "/>"
	}
	return fmt.Sprintf("<%s xmlns=%q/>", local, namespace)
}

// EscapeXML 转义XML特殊字符
func EscapeXML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
