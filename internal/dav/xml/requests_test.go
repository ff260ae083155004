package xml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePropfind(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantMode  string
		wantNames []string
		wantErr   bool
	}{
		{"空请求体等价allprop", "", ModeAllProp, nil, false},
		{"纯空白请求体", "  \n\t ", ModeAllProp, nil, false},
		{
			"显式allprop",
			`<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:allprop/></D:propfind>`,
			ModeAllProp, nil, false,
		},
		{
			"propname",
			`<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`,
			ModePropName, nil, false,
		},
		{
			"点名查询展开为Clark记法",
			`<?xml version="1.0"?>
			<D:propfind xmlns:D="DAV:" xmlns:z="urn:example">
				<D:prop><D:getetag/><z:color/></D:prop>
			</D:propfind>`,
			ModeNamed, []string{"{DAV:}getetag", "{urn:example}color"}, false,
		},
		{
			"空prop容器返回非nil空名单",
			`<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop/></D:propfind>`,
			ModeNamed, []string{}, false,
		},
		{"畸形XML报错", `<D:propfind xmlns:D="DAV:">`, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, names, err := ParsePropfind(strings.NewReader(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, mode)
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestParsePropertyUpdate(t *testing.T) {
	t.Run("set与remove按文档顺序展开", func(t *testing.T) {
		body := `<?xml version="1.0"?>
		<D:propertyupdate xmlns:D="DAV:" xmlns:z="urn:example">
			<D:set><D:prop><z:color>red</z:color></D:prop></D:set>
			<D:remove><D:prop><z:weight/></D:prop></D:remove>
			<D:set><D:prop><z:size>big</z:size></D:prop></D:set>
		</D:propertyupdate>`

		ops, err := ParsePropertyUpdate(strings.NewReader(body))
		require.NoError(t, err)
		require.Len(t, ops, 3)

		assert.Equal(t, PatchOp{Name: "{urn:example}color", Value: "red"}, ops[0])
		assert.Equal(t, PatchOp{Remove: true, Name: "{urn:example}weight"}, ops[1])
		assert.Equal(t, PatchOp{Name: "{urn:example}size", Value: "big"}, ops[2])
	})

	t.Run("set块内多个属性保持顺序", func(t *testing.T) {
		body := `<?xml version="1.0"?>
		<D:propertyupdate xmlns:D="DAV:" xmlns:z="urn:example">
			<D:set><D:prop><z:a>1</z:a><z:b>2</z:b></D:prop></D:set>
		</D:propertyupdate>`

		ops, err := ParsePropertyUpdate(strings.NewReader(body))
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, "{urn:example}a", ops[0].Name)
		assert.Equal(t, "{urn:example}b", ops[1].Name)
	})

	t.Run("属性值保留内部XML", func(t *testing.T) {
		body := `<?xml version="1.0"?>
		<D:propertyupdate xmlns:D="DAV:" xmlns:z="urn:example">
			<D:set><D:prop><z:meta><z:nested>x</z:nested></z:meta></D:prop></D:set>
		</D:propertyupdate>`

		ops, err := ParsePropertyUpdate(strings.NewReader(body))
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Contains(t, ops[0].Value, "<z:nested>x</z:nested>")
	})

	t.Run("空请求体报错", func(t *testing.T) {
		_, err := ParsePropertyUpdate(strings.NewReader(""))
		assert.Error(t, err)
	})

	t.Run("没有操作的文档报错", func(t *testing.T) {
		body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"/>`
		_, err := ParsePropertyUpdate(strings.NewReader(body))
		assert.Error(t, err)
	})
}

func TestParseLockInfo(t *testing.T) {
	t.Run("排他写锁", func(t *testing.T) {
		body := `<?xml version="1.0"?>
		<D:lockinfo xmlns:D="DAV:">
			<D:lockscope><D:exclusive/></D:lockscope>
			<D:locktype><D:write/></D:locktype>
			<D:owner><D:href>alice@example.com</D:href></D:owner>
		</D:lockinfo>`

		info, err := ParseLockInfo(strings.NewReader(body))
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "exclusive", info.Scope)
		assert.Equal(t, "write", info.Type)
		assert.Contains(t, info.Owner, "alice@example.com")
	})

	t.Run("共享锁无owner", func(t *testing.T) {
		body := `<?xml version="1.0"?>
		<D:lockinfo xmlns:D="DAV:">
			<D:lockscope><D:shared/></D:lockscope>
			<D:locktype><D:write/></D:locktype>
		</D:lockinfo>`

		info, err := ParseLockInfo(strings.NewReader(body))
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "shared", info.Scope)
		assert.Empty(t, info.Owner)
	})

	t.Run("空请求体是刷新请求", func(t *testing.T) {
		info, err := ParseLockInfo(strings.NewReader(""))
		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("缺少lockscope报错", func(t *testing.T) {
		body := `<?xml version="1.0"?>
		<D:lockinfo xmlns:D="DAV:">
			<D:locktype><D:write/></D:locktype>
		</D:lockinfo>`
		_, err := ParseLockInfo(strings.NewReader(body))
		assert.Error(t, err)
	})

	t.Run("非写锁类型报错", func(t *testing.T) {
		body := `<?xml version="1.0"?>
		<D:lockinfo xmlns:D="DAV:">
			<D:lockscope><D:exclusive/></D:lockscope>
			<D:locktype><D:read/></D:locktype>
		</D:lockinfo>`
		_, err := ParseLockInfo(strings.NewReader(body))
		assert.Error(t, err)
	})
}
