package dav

import (
	"net/url"
	"strings"
)

// ========================================
// Path Canonicalizer - 路径规范化
// ========================================

// hrefSafe href转义时额外保留的字符
// 部分客户端（如Nautilus）无法处理'('被转义为'%28'，
// 因此href不转义 rfc2068 3.2.1 的 extra/safe 字符
const hrefSafe = "/" + "!*'()," + "$-_|."

// preferredPath 计算首选路径
// 根资源返回"/"；集合缺尾部斜杠时补上；其余原样返回
func preferredPath(path string, isCollection bool) string {
	if path == "" || path == "/" {
		return "/"
	}
	if isCollection && !strings.HasSuffix(path, "/") {
		return path + "/"
	}
	return path
}

// refURL 计算引用键：quote(sharePath + preferredPath)
// 引用键是锁和死属性的唯一存储键
func refURL(sharePath, preferred string) string {
	return quote(sharePath+preferred, "/")
}

// href 计算面向客户端的URL：quote(mountPath + sharePath + preferredPath)
func href(mountPath, sharePath, preferred string) string {
	return quote(mountPath+sharePath+preferred, hrefSafe)
}

// quote 百分号转义，safe中的字节不转义
// 字母、数字与 "_.-~" 永不转义
func quote(s, safe string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlwaysSafe(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
		} else {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0x0f])
		}
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

func isAlwaysSafe(c byte) bool {
	return ('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9') ||
		c == '_' || c == '.' || c == '-' || c == '~'
}

// unquote 反转义，非法转义序列原样保留
func unquote(s string) string {
	u, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return u
}

// uriName 返回路径的最后一个segment
func uriName(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// uriParent 返回父路径（带尾部斜杠），根的父为空串
func uriParent(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return ""
	}
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// joinURI 拼接集合路径与成员名
func joinURI(collectionPath, name string) string {
	return strings.TrimSuffix(collectionPath, "/") + "/" + name
}
