package dav

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	davxml "github.com/webdav-provider/internal/dav/xml"
	"github.com/webdav-provider/internal/types"
)

// ========================================
// WebDAV Handler - HTTP方法层
// ========================================

// Handler 把DAV方法映射到Provider语义层
type Handler struct {
	provider    *Provider
	lockManager *MemoryLockManager // 可为nil：锁方法返回405
	serializer  *davxml.Serializer
	logger      *logrus.Logger
}

// NewHandler 创建处理器
func NewHandler(provider *Provider, lockManager *MemoryLockManager) *Handler {
	return &Handler{
		provider:    provider,
		lockManager: lockManager,
		serializer:  davxml.NewSerializer(),
		logger:      provider.Logger(),
	}
}

// Register 把DAV方法挂到路由组
func (h *Handler) Register(rg *gin.RouterGroup) {
	methods := map[string]gin.HandlerFunc{
		"OPTIONS":   h.HandleOptions,
		"PROPFIND":  h.HandlePropfind,
		"PROPPATCH": h.HandleProppatch,
		"GET":       h.HandleGet,
		"HEAD":      h.HandleHead,
		"PUT":       h.HandlePut,
		"DELETE":    h.HandleDelete,
		"MKCOL":     h.HandleMkcol,
		"COPY":      h.HandleCopy,
		"MOVE":      h.HandleMove,
		"LOCK":      h.HandleLock,
		"UNLOCK":    h.HandleUnlock,
	}
	for method, fn := range methods {
		rg.Handle(method, "/*path", fn)
	}
}

// requestPath 提取并规整请求路径
func requestPath(c *gin.Context) string {
	p := c.Param("path")
	if p == "" {
		p = "/"
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// statusForError 把领域错误映射为HTTP状态码
func statusForError(err error) int {
	davErr := types.AsDAVError(err)
	switch davErr.Kind {
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 按领域错误中止请求
func (h *Handler) abortWithError(c *gin.Context, err error) {
	h.logger.WithField("path", c.Request.URL.Path).WithError(err).Warn("dav request failed")
	c.Status(statusForError(err))
}

// writeMultistatus 写207响应
func (h *Handler) writeMultistatus(c *gin.Context, responses []davxml.Response) {
	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Status(http.StatusMultiStatus)
	c.Writer.Write(h.serializer.RenderMultistatus(responses))
}

// refURLToHref 把引用键换算为面向客户端的href
func (h *Handler) refURLToHref(refURL string) string {
	return h.provider.MountPath() + refURL
}

// refErrorResponses 把批量操作错误表渲染为逐资源response
func (h *Handler) refErrorResponses(errs []types.RefError) []davxml.Response {
	responses := make([]davxml.Response, 0, len(errs))
	for _, re := range errs {
		responses = append(responses, davxml.Response{
			Href:   h.refURLToHref(re.RefURL),
			Status: davxml.StatusForError(re.Err),
		})
	}
	return responses
}

// HandleOptions 通告DAV能力
func (h *Handler) HandleOptions(c *gin.Context) {
	c.Header("DAV", "1, 2")
	c.Header("MS-Author-Via", "DAV")
	c.Header("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND, PROPPATCH, MKCOL, COPY, MOVE, LOCK, UNLOCK")
	c.Status(http.StatusOK)
}

// HandlePropfind 属性查询
func (h *Handler) HandlePropfind(c *gin.Context) {
	path := requestPath(c)

	depth := c.GetHeader("Depth")
	if depth == "" {
		depth = DepthInfinity
	}
	if depth != Depth0 && depth != Depth1 && depth != DepthInfinity {
		c.Status(http.StatusBadRequest)
		return
	}

	mode, names, err := davxml.ParsePropfind(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res == nil {
		c.Status(http.StatusNotFound)
		return
	}

	members, err := h.provider.Descendants(res, true, true, false, depth, true)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	responses := make([]davxml.Response, 0, len(members))
	for _, m := range members {
		entries, err := h.provider.Properties(m, mode, names)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		propstats, err := davxml.GroupEntries(entries, mode == ModePropName)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		// 空名单请求也要有一个propstat，响应才良构
		if len(propstats) == 0 {
			propstats = []davxml.Propstat{{Status: davxml.StatusOK}}
		}
		responses = append(responses, davxml.Response{Href: m.Href(), Propstats: propstats})
	}
	h.writeMultistatus(c, responses)
}

// HandleProppatch 属性修改
//
// 两趟执行保证原子性：先对每个操作做dryRun校验，任一失败则
// 全部不落盘——失败项带自身状态，其余项424 Failed Dependency；
// 全部通过后再按文档顺序真正执行。
func (h *Handler) HandleProppatch(c *gin.Context) {
	path := requestPath(c)

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res == nil {
		c.Status(http.StatusNotFound)
		return
	}

	if !h.checkWriteAccess(c, res.RefURL(), Depth0) {
		return
	}

	ops, err := davxml.ParsePropertyUpdate(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	// 第一趟：dryRun
	errs := make([]*types.DAVError, len(ops))
	anyFailed := false
	for i, op := range ops {
		value := &op.Value
		if op.Remove {
			value = nil
		}
		if err := h.provider.SetPropertyValue(res, op.Name, value, true); err != nil {
			errs[i] = types.AsDAVError(err)
			anyFailed = true
		}
	}

	// 第二趟：全部通过才执行
	if !anyFailed {
		for i, op := range ops {
			value := &op.Value
			if op.Remove {
				value = nil
			}
			if err := h.provider.SetPropertyValue(res, op.Name, value, false); err != nil {
				errs[i] = types.AsDAVError(err)
				anyFailed = true
			}
		}
	}

	var propstats []davxml.Propstat
	for i, op := range ops {
		entry := types.PropEntry{Name: op.Name}
		fragment, _ := davxml.RenderPropElement(entry, true)
		var ps davxml.Propstat
		switch {
		case errs[i] != nil:
			ps.Status = davxml.StatusForError(errs[i])
			ps.Precondition = errs[i].Precondition
		case anyFailed:
			ps.Status = davxml.StatusFailedDependency
		default:
			ps.Status = davxml.StatusOK
		}
		ps.Props = []string{fragment}
		propstats = append(propstats, ps)
	}

	h.writeMultistatus(c, []davxml.Response{{Href: res.Href(), Propstats: propstats}})
}

// HandleGet 读取资源内容
func (h *Handler) HandleGet(c *gin.Context) {
	h.serveResource(c, true)
}

// HandleHead 读取资源元数据
func (h *Handler) HandleHead(c *gin.Context) {
	h.serveResource(c, false)
}

func (h *Handler) serveResource(c *gin.Context, withBody bool) {
	path := requestPath(c)

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res == nil {
		c.Status(http.StatusNotFound)
		return
	}
	if res.IsCollection() {
		// 不提供目录浏览
		c.Status(http.StatusForbidden)
		return
	}

	if ct, ok := res.ContentType(); ok {
		c.Header("Content-Type", ct)
	}
	if n, ok := res.ContentLength(); ok {
		c.Header("Content-Length", strconv.FormatInt(n, 10))
	}
	if t, ok := res.LastModified(); ok {
		c.Header("Last-Modified", t.UTC().Format(http.TimeFormat))
	}
	if etag, ok := res.Etag(); ok {
		c.Header("ETag", fmt.Sprintf("%q", etag))
	}
	if res.SupportRanges() {
		c.Header("Accept-Ranges", "bytes")
	}

	if !withBody {
		c.Status(http.StatusOK)
		return
	}

	content, err := res.GetContent()
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	defer content.Close()

	c.Status(http.StatusOK)
	io.Copy(c.Writer, content)
}

// HandlePut 写入资源内容
func (h *Handler) HandlePut(c *gin.Context) {
	path := requestPath(c)

	if !h.checkWriteAccess(c, h.provider.PathToRefURL(path, false), Depth0) {
		return
	}

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res != nil && res.IsCollection() {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	created := false
	if res == nil {
		parent, err := h.provider.GetResourceInst(uriParent(path))
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		if parent == nil || !parent.IsCollection() {
			c.Status(http.StatusConflict)
			return
		}
		res, err = parent.CreateEmptyResource(uriName(path))
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		created = true
	}

	writer, err := res.OpenForWrite(c.GetHeader("Content-Type"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if _, err := io.Copy(writer, c.Request.Body); err != nil {
		writer.Close()
		c.Status(http.StatusInternalServerError)
		return
	}
	if err := writer.Close(); err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	if created {
		c.Status(http.StatusCreated)
	} else {
		c.Status(http.StatusNoContent)
	}
}

// HandleMkcol 创建集合
func (h *Handler) HandleMkcol(c *gin.Context) {
	path := requestPath(c)

	if h.provider.Exists(path) {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	if !h.checkWriteAccess(c, h.provider.PathToRefURL(path, true), Depth0) {
		return
	}

	parent, err := h.provider.GetResourceInst(uriParent(path))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if parent == nil || !parent.IsCollection() {
		c.Status(http.StatusConflict)
		return
	}
	if err := parent.CreateCollection(uriName(path)); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// HandleDelete 删除资源（整树）
func (h *Handler) HandleDelete(c *gin.Context) {
	path := requestPath(c)

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res == nil {
		c.Status(http.StatusNotFound)
		return
	}
	if !h.checkWriteAccess(c, res.RefURL(), DepthInfinity) {
		return
	}

	errs, err := h.provider.DeleteTree(res)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if len(errs) > 0 {
		h.writeMultistatus(c, h.refErrorResponses(errs))
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleCopy 复制资源
func (h *Handler) HandleCopy(c *gin.Context) {
	h.copyMove(c, false)
}

// HandleMove 移动资源
func (h *Handler) HandleMove(c *gin.Context) {
	h.copyMove(c, true)
}

func (h *Handler) copyMove(c *gin.Context, isMove bool) {
	path := requestPath(c)

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res == nil {
		c.Status(http.StatusNotFound)
		return
	}

	destPath, err := h.destinationPath(c)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	// 目的地落在源树内部会让遍历吞掉自己刚建的成员
	if destPath == path || strings.HasPrefix(destPath, strings.TrimSuffix(path, "/")+"/") {
		c.Status(http.StatusForbidden)
		return
	}

	if isMove && !h.checkWriteAccess(c, res.RefURL(), DepthInfinity) {
		return
	}
	if !h.checkWriteAccess(c, h.provider.PathToRefURL(destPath, res.IsCollection()), DepthInfinity) {
		return
	}

	depthInfinity := c.GetHeader("Depth") != Depth0

	// Overwrite缺省为T
	destRes, err := h.provider.GetResourceInst(destPath)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	overwrote := false
	if destRes != nil {
		if c.GetHeader("Overwrite") == "F" {
			c.Status(http.StatusPreconditionFailed)
			return
		}
		delErrs, err := h.provider.DeleteTree(destRes)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		// 目的地清不干净就不能落新树
		if len(delErrs) > 0 {
			h.writeMultistatus(c, h.refErrorResponses(delErrs))
			return
		}
		overwrote = true
	}

	var errs []types.RefError
	if isMove {
		errs, err = h.provider.MoveTree(res, destPath)
	} else {
		errs, err = h.provider.CopyTree(res, destPath, depthInfinity)
	}
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if len(errs) > 0 {
		h.writeMultistatus(c, h.refErrorResponses(errs))
		return
	}
	if overwrote {
		c.Status(http.StatusNoContent)
	} else {
		c.Status(http.StatusCreated)
	}
}

// destinationPath 解析Destination头为共享内路径
func (h *Handler) destinationPath(c *gin.Context) (string, error) {
	dest := c.GetHeader("Destination")
	if dest == "" {
		return "", fmt.Errorf("missing Destination header")
	}
	if strings.Contains(dest, "://") {
		u, err := url.Parse(dest)
		if err != nil {
			return "", fmt.Errorf("parse Destination header: %w", err)
		}
		dest = u.Path
	} else if unescaped, err := url.PathUnescape(dest); err == nil {
		dest = unescaped
	}

	dest = strings.TrimPrefix(dest, h.provider.MountPath())
	dest = strings.TrimPrefix(dest, h.provider.SharePath())
	if dest == "" {
		dest = "/"
	}
	if !strings.HasPrefix(dest, "/") {
		return "", fmt.Errorf("destination %s is outside this share", dest)
	}
	if dest != "/" {
		dest = strings.TrimSuffix(dest, "/")
	}
	return dest, nil
}

// ========================================
// LOCK / UNLOCK
// ========================================

// lockResponseDoc LOCK响应体
type lockResponseDoc struct {
	XMLName       xml.Name `xml:"D:prop"`
	Xmlns         string   `xml:"xmlns:D,attr"`
	LockDiscovery *types.LockDiscovery
}

// HandleLock 创建或刷新锁
func (h *Handler) HandleLock(c *gin.Context) {
	if h.lockManager == nil {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	path := requestPath(c)

	info, err := davxml.ParseLockInfo(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	timeout := parseTimeoutHeader(c.GetHeader("Timeout"))

	// 无请求体即刷新
	if info == nil {
		h.handleLockRefresh(c, path, timeout)
		return
	}

	depth := c.GetHeader("Depth")
	if depth == "" {
		depth = DepthInfinity
	}
	if depth != Depth0 && depth != DepthInfinity {
		c.Status(http.StatusBadRequest)
		return
	}

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	created := false
	if res == nil {
		// 锁定不存在的资源时先占位创建空资源
		parent, err := h.provider.GetResourceInst(uriParent(path))
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		if parent == nil || !parent.IsCollection() {
			c.Status(http.StatusConflict)
			return
		}
		res, err = parent.CreateEmptyResource(uriName(path))
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		created = true
	}

	rec, err := h.lockManager.CreateLock(res.RefURL(), info.Type, info.Scope, depth, info.Owner, timeout)
	if err != nil {
		if types.IsForbidden(err) {
			c.Status(http.StatusLocked)
			return
		}
		h.abortWithError(c, err)
		return
	}

	c.Header("Lock-Token", "<"+rec.Token+">")
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeLockResponse(c, res, status)
}

func (h *Handler) handleLockRefresh(c *gin.Context, path string, timeout int64) {
	tokens := parseIfTokens(c.GetHeader("If"))
	if len(tokens) == 0 {
		c.Status(http.StatusBadRequest)
		return
	}

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res == nil {
		c.Status(http.StatusNotFound)
		return
	}

	rec, ok := h.lockManager.GetLock(tokens[0])
	if !ok || rec.Root != res.RefURL() {
		c.Status(http.StatusPreconditionFailed)
		return
	}
	if _, err := h.lockManager.RefreshLock(tokens[0], timeout); err != nil {
		h.abortWithError(c, err)
		return
	}
	h.writeLockResponse(c, res, http.StatusOK)
}

// HandleUnlock 释放锁
func (h *Handler) HandleUnlock(c *gin.Context) {
	if h.lockManager == nil {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	path := requestPath(c)

	token := strings.Trim(c.GetHeader("Lock-Token"), "<> ")
	if token == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	res, err := h.provider.GetResourceInst(path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if res == nil {
		c.Status(http.StatusNotFound)
		return
	}

	rec, ok := h.lockManager.GetLock(token)
	if !ok {
		c.Status(http.StatusConflict)
		return
	}
	if rec.Root != res.RefURL() {
		c.Status(http.StatusConflict)
		return
	}
	if !h.lockManager.RemoveLock(token) {
		c.Status(http.StatusConflict)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) writeLockResponse(c *gin.Context, res Resource, status int) {
	discovery, err := h.provider.lockDiscovery(res)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	doc := lockResponseDoc{Xmlns: types.NamespaceDAV, LockDiscovery: discovery}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Status(status)
	c.Writer.Write([]byte(xml.Header))
	encoder := xml.NewEncoder(c.Writer)
	encoder.Indent("", "  ")
	encoder.Encode(doc)
}

// checkWriteAccess 按锁状态检查写权限；被锁阻挡时发423并返回false
func (h *Handler) checkWriteAccess(c *gin.Context, refURL, depth string) bool {
	if h.lockManager == nil {
		return true
	}
	tokens := parseIfTokens(c.GetHeader("If"))
	if err := h.lockManager.CheckWritePermission(refURL, depth, tokens); err != nil {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		c.Status(http.StatusLocked)
		fmt.Fprintf(c.Writer, "%s<D:error xmlns:D=\"DAV:\"><D:lock-token-submitted><D:href>%s</D:href></D:lock-token-submitted></D:error>\n",
			xml.Header, davxml.EscapeXML(h.refURLToHref(refURL)))
		return false
	}
	return true
}

// parseIfTokens 提取If头里提交的锁令牌
func parseIfTokens(ifHeader string) []string {
	var tokens []string
	rest := ifHeader
	for {
		start := strings.Index(rest, "<opaquelocktoken:")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], ">")
		if end < 0 {
			break
		}
		tokens = append(tokens, rest[start+1:start+end])
		rest = rest[start+end:]
	}
	return tokens
}

// parseTimeoutHeader 解析Timeout头
// 取首个可识别的值；"Infinite"→负哨兵，"Second-N"→N秒，缺省为0（用服务端默认）
func parseTimeoutHeader(header string) int64 {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "Infinite" {
			return types.TimeoutInfinite
		}
		if strings.HasPrefix(part, "Second-") {
			if secs, err := strconv.ParseInt(strings.TrimPrefix(part, "Second-"), 10, 64); err == nil {
				return secs
			}
		}
	}
	return 0
}
