package xml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-provider/internal/types"
)

func TestStatusForError(t *testing.T) {
	assert.Equal(t, StatusOK, StatusForError(nil))
	assert.Equal(t, StatusNotFound, StatusForError(types.NewNotFound("x")))
	assert.Equal(t, StatusForbidden, StatusForError(types.NewForbidden("x")))
	assert.Equal(t, StatusInternalServerError, StatusForError(types.NewInternal("x")))
}

func TestEscapeXML(t *testing.T) {
	assert.Equal(t, "a&lt;b&gt;c&amp;d&quot;e&apos;f", EscapeXML(`a<b>c&d"e'f`))
	assert.Equal(t, "plain", EscapeXML("plain"))
}

func TestRenderPropElement(t *testing.T) {
	t.Run("字符串值转义后内联", func(t *testing.T) {
		out, err := RenderPropElement(types.PropEntry{Name: "{DAV:}displayname", Value: "a<b"}, false)
		require.NoError(t, err)
		assert.Equal(t, "<D:displayname>a&lt;b</D:displayname>", out)
	})

	t.Run("空字符串渲染为空元素", func(t *testing.T) {
		out, err := RenderPropElement(types.PropEntry{Name: "{DAV:}resourcetype", Value: ""}, false)
		require.NoError(t, err)
		assert.Equal(t, "<D:resourcetype/>", out)
	})

	t.Run("死属性原样XML透传", func(t *testing.T) {
		out, err := RenderPropElement(types.PropEntry{
			Name:  "{urn:example}meta",
			Value: types.RawXMLValue("<nested>x</nested>"),
		}, false)
		require.NoError(t, err)
		assert.Equal(t, `<meta xmlns="urn:example"><nested>x</nested></meta>`, out)
	})

	t.Run("namesOnly只出元素名", func(t *testing.T) {
		out, err := RenderPropElement(types.PropEntry{Name: "{DAV:}getetag", Value: "abc"}, true)
		require.NoError(t, err)
		assert.Equal(t, "<D:getetag/>", out)
	})

	t.Run("失败条目渲染为空元素", func(t *testing.T) {
		out, err := RenderPropElement(types.PropEntry{
			Name: "{urn:example}missing",
			Err:  types.NewNotFound("no such property"),
		}, false)
		require.NoError(t, err)
		assert.Equal(t, `<missing xmlns="urn:example"/>`, out)
	})

	t.Run("结构化值交给标准编码器", func(t *testing.T) {
		rt := &types.ResourceType{Collection: &struct{}{}}
		out, err := RenderPropElement(types.PropEntry{Name: "{DAV:}resourcetype", Value: rt}, false)
		require.NoError(t, err)
		assert.Contains(t, out, "<D:resourcetype>")
		assert.Contains(t, out, "<D:collection>")
	})
}

func TestGroupEntries(t *testing.T) {
	entries := []types.PropEntry{
		{Name: "{urn:example}gone", Err: types.NewNotFound("x")},
		{Name: "{DAV:}displayname", Value: "a.txt"},
		{Name: "{DAV:}getetag", Value: "abc"},
		{Name: "{DAV:}lockdiscovery", Err: types.NewProtectedProperty("{DAV:}lockdiscovery")},
	}

	propstats, err := GroupEntries(entries, false)
	require.NoError(t, err)
	require.Len(t, propstats, 3)

	// 成功组恒排最前，其余按首次出现顺序
	assert.Equal(t, StatusOK, propstats[0].Status)
	assert.Len(t, propstats[0].Props, 2)
	assert.Equal(t, StatusNotFound, propstats[1].Status)
	assert.Equal(t, StatusForbidden, propstats[2].Status)
	assert.Equal(t, types.PreconditionProtectedProperty, propstats[2].Precondition)

	t.Run("namesOnly分组全部归成功组", func(t *testing.T) {
		propstats, err := GroupEntries([]types.PropEntry{
			{Name: "{DAV:}getetag", Value: "abc"},
		}, true)
		require.NoError(t, err)
		require.Len(t, propstats, 1)
		assert.Equal(t, []string{"<D:getetag/>"}, propstats[0].Props)
	})
}

func TestRenderMultistatus(t *testing.T) {
	s := NewSerializer()

	t.Run("propstat形式", func(t *testing.T) {
		out := string(s.RenderMultistatus([]Response{
			{
				Href: "/dav/share/a.txt",
				Propstats: []Propstat{
					{Status: StatusOK, Props: []string{"<D:getetag>abc</D:getetag>"}},
				},
			},
		}))

		assert.True(t, strings.HasPrefix(out, xmlHeader()))
		assert.Contains(t, out, `<D:multistatus xmlns:D="DAV:">`)
		assert.Contains(t, out, "<D:href>/dav/share/a.txt</D:href>")
		assert.Contains(t, out, "<D:getetag>abc</D:getetag>")
		assert.Contains(t, out, "<D:status>HTTP/1.1 200 OK</D:status>")
		assert.Contains(t, out, "</D:multistatus>")
	})

	t.Run("状态行形式用于批量结果", func(t *testing.T) {
		out := string(s.RenderMultistatus([]Response{
			{Href: "/dav/share/docs/a.txt", Status: StatusInternalServerError},
		}))

		assert.Contains(t, out, "<D:status>HTTP/1.1 500 Internal Server Error</D:status>")
		assert.NotContains(t, out, "<D:propstat>")
	})

	t.Run("前置条件附带error元素", func(t *testing.T) {
		out := string(s.RenderMultistatus([]Response{
			{
				Href: "/dav/share/a.txt",
				Propstats: []Propstat{
					{
						Status:       StatusForbidden,
						Props:        []string{"<D:lockdiscovery/>"},
						Precondition: types.PreconditionProtectedProperty,
					},
				},
			},
		}))

		assert.Contains(t, out, "<D:error><D:protected-property/></D:error>")
	})

	t.Run("href转义特殊字符", func(t *testing.T) {
		out := string(s.RenderMultistatus([]Response{
			{Href: "/dav/share/a&b", Status: StatusOK},
		}))
		assert.Contains(t, out, "<D:href>/dav/share/a&amp;b</D:href>")
	})
}

func xmlHeader() string {
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
}
