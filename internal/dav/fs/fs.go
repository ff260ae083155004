package fs

import (
	"crypto/md5"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/webdav-provider/internal/dav"
	"github.com/webdav-provider/internal/types"
)

// ========================================
// Filesystem Backend - 本地文件系统后端
// ========================================

// Resolver 把路径解析为本地文件系统资源
// 每个共享对应rootDir下的一棵目录树
type Resolver struct {
	rootDir string
}

// NewResolver 创建文件系统解析器；rootDir必须是已存在的目录
func NewResolver(rootDir string) (*Resolver, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root dir %s: %w", rootDir, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root dir %s: %w", abs, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &Resolver{rootDir: abs}, nil
}

// absPath 把DAV路径换算为本地绝对路径，拒绝越出根目录
func (rv *Resolver) absPath(path string) (string, error) {
	clean := filepath.Join(rv.rootDir, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if clean != rv.rootDir && !strings.HasPrefix(clean, rv.rootDir+string(filepath.Separator)) {
		return "", types.NewForbidden("path %s escapes the share root", path)
	}
	return clean, nil
}

// Resolve 实现dav.Resolver；路径未映射到文件或目录时返回 (nil, nil)
func (rv *Resolver) Resolve(p *dav.Provider, path string) (dav.Resource, error) {
	abs, err := rv.absPath(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}

	base := resource{
		DefaultResource: dav.NewDefaultResource(p, path, fi.IsDir()),
		resolver:        rv,
		provider:        p,
		absPath:         abs,
		info:            fi,
	}
	if fi.IsDir() {
		return &Collection{resource: base}, nil
	}
	return &File{resource: base}, nil
}

// resource 文件与目录共享的基座
type resource struct {
	dav.DefaultResource
	resolver *Resolver
	provider *dav.Provider
	absPath  string
	info     os.FileInfo
}

// CreationDate 以修改时间近似（POSIX不保留真实创建时间）
func (r *resource) CreationDate() (time.Time, bool) { return r.info.ModTime(), true }

func (r *resource) LastModified() (time.Time, bool) { return r.info.ModTime(), true }

func (r *resource) DisplayName() (string, bool) { return r.Name(), true }

// destAbs 把目的DAV路径换算为本地绝对路径
func (r *resource) destAbs(destPath string) (string, error) {
	return r.resolver.absPath(destPath)
}

// File 普通文件资源
type File struct {
	resource
}

func (f *File) ContentLength() (int64, bool) { return f.info.Size(), true }

func (f *File) ContentType() (string, bool) {
	if ct := mime.TypeByExtension(filepath.Ext(f.absPath)); ct != "" {
		return ct, true
	}
	return "application/octet-stream", true
}

// Etag 由路径摘要、修改时间与大小组成
func (f *File) Etag() (string, bool) {
	sum := md5.Sum([]byte(f.absPath))
	return fmt.Sprintf("%x-%x-%x", sum[:4], f.info.ModTime().Unix(), f.info.Size()), true
}

func (f *File) SupportRanges() bool { return true }

func (f *File) GetContent() (io.ReadCloser, error) {
	rc, err := os.Open(f.absPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.absPath, err)
	}
	return rc, nil
}

func (f *File) OpenForWrite(contentType string) (io.WriteCloser, error) {
	wc, err := os.OpenFile(f.absPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s for write: %w", f.absPath, err)
	}
	return wc, nil
}

func (f *File) Delete() ([]types.RefError, error) {
	if err := os.Remove(f.absPath); err != nil {
		return nil, fmt.Errorf("remove %s: %w", f.absPath, err)
	}
	return nil, nil
}

// CopyMoveSingle 非递归复制/移动文件
// isMove时用rename保留inode时间戳，跨设备失败再退回复制+删除
func (f *File) CopyMoveSingle(destPath string, isMove bool) error {
	destAbs, err := f.destAbs(destPath)
	if err != nil {
		return err
	}
	if isMove {
		if err := os.Rename(f.absPath, destAbs); err == nil {
			return nil
		}
	}
	if err := copyFileContents(f.absPath, destAbs, f.info.ModTime()); err != nil {
		return err
	}
	if isMove {
		return os.Remove(f.absPath)
	}
	return nil
}

func copyFileContents(srcAbs, destAbs string, mtime time.Time) error {
	src, err := os.Open(srcAbs)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcAbs, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destAbs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", destAbs, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy to %s: %w", destAbs, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	// 保留修改时间，客户端同步工具依赖它做变更判定
	return os.Chtimes(destAbs, mtime, mtime)
}

// Collection 目录资源
type Collection struct {
	resource
}

func (c *Collection) MemberNames() ([]string, error) {
	entries, err := os.ReadDir(c.absPath)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", c.absPath, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (c *Collection) CreateCollection(name string) error {
	if err := os.Mkdir(filepath.Join(c.absPath, name), 0755); err != nil {
		return fmt.Errorf("mkdir %s in %s: %w", name, c.absPath, err)
	}
	return nil
}

func (c *Collection) CreateEmptyResource(name string) (dav.Resource, error) {
	abs := filepath.Join(c.absPath, name)
	file, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	return c.resolver.Resolve(c.provider, strings.TrimSuffix(c.Path(), "/")+"/"+name)
}

func (c *Collection) SupportRecursiveDelete() bool { return true }

// Delete 整树删除；文件系统的RemoveAll要么全成要么报首个错误
func (c *Collection) Delete() ([]types.RefError, error) {
	if err := os.RemoveAll(c.absPath); err != nil {
		return nil, fmt.Errorf("remove tree %s: %w", c.absPath, err)
	}
	return nil, nil
}

// SupportRecursiveMove 同解析器内的任何目的路径都可直接rename
func (c *Collection) SupportRecursiveMove(destPath string) bool { return true }

func (c *Collection) MoveRecursive(destPath string) ([]types.RefError, error) {
	destAbs, err := c.destAbs(destPath)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(c.absPath, destAbs); err != nil {
		return nil, fmt.Errorf("move tree %s to %s: %w", c.absPath, destAbs, err)
	}
	return nil, nil
}

// CopyMoveSingle 非递归复制目录本身（不含成员）
func (c *Collection) CopyMoveSingle(destPath string, isMove bool) error {
	destAbs, err := c.destAbs(destPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destAbs, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", destAbs, err)
	}
	return os.Chtimes(destAbs, c.info.ModTime(), c.info.ModTime())
}
