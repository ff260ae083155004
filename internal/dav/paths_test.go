package dav

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferredPath(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		isCollection bool
		want         string
	}{
		{"空路径视为根", "", true, "/"},
		{"根路径", "/", true, "/"},
		{"集合补尾部斜杠", "/docs", true, "/docs/"},
		{"集合已有尾部斜杠", "/docs/", true, "/docs/"},
		{"文件原样返回", "/docs/a.txt", false, "/docs/a.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preferredPath(tt.path, tt.isCollection))
		})
	}
}

func TestPreferredPathIdempotent(t *testing.T) {
	once := preferredPath("/docs", true)
	assert.Equal(t, once, preferredPath(once, true))
}

func TestRefURL(t *testing.T) {
	tests := []struct {
		name      string
		sharePath string
		preferred string
		want      string
	}{
		{"根共享", "", "/docs/", "/docs/"},
		{"带共享前缀", "/share", "/docs/", "/share/docs/"},
		{"空格转义", "/share", "/my file.txt", "/share/my%20file.txt"},
		{"非ASCII转义", "", "/日志/", "/%E6%97%A5%E5%BF%97/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, refURL(tt.sharePath, tt.preferred))
		})
	}
}

func TestHrefKeepsDisplayChars(t *testing.T) {
	// 括号等字符某些客户端要求不转义
	got := href("/dav", "", "/report(1).txt")
	assert.Equal(t, "/dav/report(1).txt", got)

	got = href("/dav", "/share", "/a b/")
	assert.Equal(t, "/dav/share/a%20b/", got)
}

func TestQuoteUnquoteRoundTrip(t *testing.T) {
	inputs := []string{"/plain", "/with space", "/日志/файл.txt", "/a+b&c"}
	for _, in := range inputs {
		assert.Equal(t, in, unquote(quote(in, "/")))
	}
}

func TestUnquoteInvalidSequence(t *testing.T) {
	// 非法转义序列原样保留
	assert.Equal(t, "/bad%zz", unquote("/bad%zz"))
}

func TestURIHelpers(t *testing.T) {
	t.Run("uriName", func(t *testing.T) {
		assert.Equal(t, "a.txt", uriName("/docs/a.txt"))
		assert.Equal(t, "docs", uriName("/docs/"))
		assert.Equal(t, "", uriName("/"))
	})

	t.Run("uriParent", func(t *testing.T) {
		assert.Equal(t, "/docs/", uriParent("/docs/a.txt"))
		assert.Equal(t, "/", uriParent("/docs/"))
		assert.Equal(t, "", uriParent("/"))
	})

	t.Run("joinURI", func(t *testing.T) {
		assert.Equal(t, "/docs/a.txt", joinURI("/docs/", "a.txt"))
		assert.Equal(t, "/docs/a.txt", joinURI("/docs", "a.txt"))
		assert.Equal(t, "/a.txt", joinURI("/", "a.txt"))
	})
}

func TestProviderRefURLRoundTrip(t *testing.T) {
	p, _ := newTestProvider()

	res := mustResolve(p, "/docs/sub")
	key := res.RefURL()
	assert.Equal(t, "/share/docs/sub/", key)
	assert.Equal(t, "/docs/sub/", p.RefURLToPath(key))

	// PathToRefURL与资源句柄的RefURL一致
	assert.Equal(t, key, p.PathToRefURL("/docs/sub", true))
}
