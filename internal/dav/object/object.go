package object

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/webdav-provider/internal/dav"
	"github.com/webdav-provider/internal/types"
)

// ========================================
// Object Storage Backend - 对象存储后端
// ========================================

// 集合以零字节的"key/"标记对象表示
const folderContentType = "application/x-directory"

// Store 封装一个bucket的对象存储访问
type Store struct {
	client *minio.Client
	bucket string
}

// StoreConfig 对象存储连接配置
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NewStore 创建对象存储访问层
func NewStore(cfg StoreConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket 确保bucket存在，幂等
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// objectKey 把DAV路径换算为对象键（无前导斜杠）
func objectKey(davPath string) string {
	return strings.TrimPrefix(path.Clean(davPath), "/")
}

// Resolver 把路径解析为对象存储资源
type Resolver struct {
	store *Store
}

// NewResolver 创建对象存储解析器
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve 实现dav.Resolver
//
// 判定顺序：根路径恒为集合；键命中普通对象则为文件；
// 键+"/"命中标记对象、或该前缀下存在任何对象，则为集合
// （兼容外部工具不写目录标记就上传深层对象的情况）
func (rv *Resolver) Resolve(p *dav.Provider, davPath string) (dav.Resource, error) {
	ctx := context.Background()
	key := objectKey(davPath)

	if key == "" || key == "." {
		return &Folder{newResource(p, rv, "/", "", true)}, nil
	}

	info, err := rv.store.client.StatObject(ctx, rv.store.bucket, key, minio.StatObjectOptions{})
	if err == nil && !strings.HasSuffix(info.Key, "/") {
		res := newResource(p, rv, "/"+key, key, false)
		res.info = &info
		return &Object{res}, nil
	}

	markerInfo, err := rv.store.client.StatObject(ctx, rv.store.bucket, key+"/", minio.StatObjectOptions{})
	if err == nil {
		res := newResource(p, rv, "/"+key, key, true)
		res.info = &markerInfo
		return &Folder{res}, nil
	}

	// 无标记对象的隐式集合
	listing := rv.store.client.ListObjects(ctx, rv.store.bucket, minio.ListObjectsOptions{
		Prefix:  key + "/",
		MaxKeys: 1,
	})
	for obj := range listing {
		if obj.Err != nil {
			return nil, fmt.Errorf("probe collection %s: %w", key, obj.Err)
		}
		return &Folder{newResource(p, rv, "/"+key, key, true)}, nil
	}
	return nil, nil
}

// resource 对象与文件夹共享的基座
type resource struct {
	dav.DefaultResource
	resolver *Resolver
	provider *dav.Provider
	key      string
	info     *minio.ObjectInfo
}

func newResource(p *dav.Provider, rv *Resolver, davPath, key string, isCollection bool) resource {
	return resource{
		DefaultResource: dav.NewDefaultResource(p, davPath, isCollection),
		resolver:        rv,
		provider:        p,
		key:             key,
	}
}

// Object 普通对象（文件）
type Object struct {
	resource
}

func (o *Object) ContentLength() (int64, bool) {
	if o.info == nil {
		return 0, false
	}
	return o.info.Size, true
}

func (o *Object) ContentType() (string, bool) {
	if o.info == nil || o.info.ContentType == "" {
		return "application/octet-stream", true
	}
	return o.info.ContentType, true
}

func (o *Object) Etag() (string, bool) {
	if o.info == nil || o.info.ETag == "" {
		return "", false
	}
	return o.info.ETag, true
}

func (o *Object) LastModified() (time.Time, bool) {
	if o.info == nil {
		return time.Time{}, false
	}
	return o.info.LastModified, true
}

func (o *Object) SupportRanges() bool { return true }

func (o *Object) GetContent() (io.ReadCloser, error) {
	obj, err := o.resolver.store.client.GetObject(context.Background(), o.resolver.store.bucket, o.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", o.key, err)
	}
	return obj, nil
}

// putWriter 流式上传句柄：Close阻塞到上传完成并返回其错误
type putWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *putWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *putWriter) Close() error {
	w.pw.Close()
	return <-w.done
}

func (o *Object) OpenForWrite(contentType string) (io.WriteCloser, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := o.resolver.store.client.PutObject(context.Background(), o.resolver.store.bucket, o.key, pr, -1,
			minio.PutObjectOptions{ContentType: contentType})
		pr.CloseWithError(err)
		done <- err
	}()
	return &putWriter{pw: pw, done: done}, nil
}

func (o *Object) Delete() ([]types.RefError, error) {
	err := o.resolver.store.client.RemoveObject(context.Background(), o.resolver.store.bucket, o.key, minio.RemoveObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("remove object %s: %w", o.key, err)
	}
	return nil, nil
}

func (o *Object) CopyMoveSingle(destPath string, isMove bool) error {
	ctx := context.Background()
	destKey := objectKey(destPath)
	_, err := o.resolver.store.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: o.resolver.store.bucket, Object: destKey},
		minio.CopySrcOptions{Bucket: o.resolver.store.bucket, Object: o.key})
	if err != nil {
		return fmt.Errorf("copy object %s to %s: %w", o.key, destKey, err)
	}
	if isMove {
		if err := o.resolver.store.client.RemoveObject(ctx, o.resolver.store.bucket, o.key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove source object %s: %w", o.key, err)
		}
	}
	return nil
}

// Folder 集合资源
type Folder struct {
	resource
}

func (f *Folder) LastModified() (time.Time, bool) {
	if f.info == nil {
		return time.Time{}, false
	}
	return f.info.LastModified, true
}

func (f *Folder) MemberNames() ([]string, error) {
	ctx := context.Background()
	prefix := ""
	if f.key != "" {
		prefix = f.key + "/"
	}

	var names []string
	listing := f.resolver.store.client.ListObjects(ctx, f.resolver.store.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	})
	for obj := range listing {
		if obj.Err != nil {
			return nil, fmt.Errorf("list members of %s: %w", f.key, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		name = strings.TrimSuffix(name, "/")
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (f *Folder) memberKey(name string) string {
	if f.key == "" {
		return name
	}
	return f.key + "/" + name
}

func (f *Folder) memberPath(name string) string {
	return strings.TrimSuffix(f.Path(), "/") + "/" + name
}

func (f *Folder) CreateCollection(name string) error {
	_, err := f.resolver.store.client.PutObject(context.Background(), f.resolver.store.bucket,
		f.memberKey(name)+"/", strings.NewReader(""), 0,
		minio.PutObjectOptions{ContentType: folderContentType})
	if err != nil {
		return fmt.Errorf("create folder %s: %w", f.memberKey(name), err)
	}
	return nil
}

func (f *Folder) CreateEmptyResource(name string) (dav.Resource, error) {
	_, err := f.resolver.store.client.PutObject(context.Background(), f.resolver.store.bucket,
		f.memberKey(name), strings.NewReader(""), 0, minio.PutObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("create object %s: %w", f.memberKey(name), err)
	}
	return f.resolver.Resolve(f.provider, f.memberPath(name))
}

// CopyMoveSingle 非递归复制文件夹本身：在目的键写标记对象
func (f *Folder) CopyMoveSingle(destPath string, isMove bool) error {
	destKey := objectKey(destPath)
	_, err := f.resolver.store.client.PutObject(context.Background(), f.resolver.store.bucket,
		destKey+"/", strings.NewReader(""), 0,
		minio.PutObjectOptions{ContentType: folderContentType})
	if err != nil {
		return fmt.Errorf("copy folder %s to %s: %w", f.key, destKey, err)
	}
	return nil
}

// HandleDelete 对象存储的native整树删除
//
// 把前缀下全部对象喂给批量删除接口，逐对象错误从错误通道收集为
// (引用键, 错误) 对，部分失败返回HandledWithErrors；列表阶段
// 失败时整体拒绝。
func (f *Folder) HandleDelete() dav.Dispatch {
	ctx := context.Background()
	store := f.resolver.store
	prefix := ""
	if f.key != "" {
		prefix = f.key + "/"
	}

	objectsCh := make(chan minio.ObjectInfo)
	listErrCh := make(chan error, 1)
	go func() {
		defer close(objectsCh)
		listing := store.client.ListObjects(ctx, store.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		})
		for obj := range listing {
			if obj.Err != nil {
				listErrCh <- obj.Err
				return
			}
			objectsCh <- obj
		}
		// 文件夹自身的标记对象
		if f.key != "" {
			objectsCh <- minio.ObjectInfo{Key: f.key + "/"}
		}
		listErrCh <- nil
	}()

	var errs []types.RefError
	removeErrCh := store.client.RemoveObjects(ctx, store.bucket, objectsCh, minio.RemoveObjectsOptions{})
	for removeErr := range removeErrCh {
		if removeErr.Err == nil {
			continue
		}
		davPath := "/" + strings.TrimSuffix(removeErr.ObjectName, "/")
		isCollection := strings.HasSuffix(removeErr.ObjectName, "/")
		errs = append(errs, types.RefError{
			RefURL: f.provider.PathToRefURL(davPath, isCollection),
			Err:    types.NewInternal("remove object %s: %v", removeErr.ObjectName, removeErr.Err),
		})
	}

	if err := <-listErrCh; err != nil {
		return dav.Refused(fmt.Errorf("list objects under %s: %w", prefix, err))
	}
	if len(errs) > 0 {
		return dav.HandledWithErrors(errs)
	}
	return dav.Handled()
}
