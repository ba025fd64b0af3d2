package rewrite

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteJSON(t *testing.T) {
	rc := newTestContext(t, "https://api.example.com/v1/list")
	in := []byte(`{"next":"/v1/list?page=2","name":"first page","price":1.50,` +
		`"items":[{"href":"https://cdn.test/a.png"},{"href":"relative/b.png"}],"ok":true,"none":null}`)

	out := RewriteJSON(in, rc)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, proxied("https://api.example.com/v1/list?page=2"), got["next"])
	assert.Equal(t, "first page", got["name"])
	assert.Equal(t, true, got["ok"])
	assert.Nil(t, got["none"])

	items := got["items"].([]any)
	assert.Equal(t, proxied("https://cdn.test/a.png"), items[0].(map[string]any)["href"])
	assert.Equal(t, "relative/b.png", items[1].(map[string]any)["href"])

	assert.Contains(t, string(out), `"price":1.50`, "numbers keep their original text")
	assert.NotContains(t, string(out), `&`, "HTML characters stay unescaped")
}

func TestRewriteJSON_Unchanged(t *testing.T) {
	rc := newTestContext(t, "https://api.example.com/")

	tests := []struct {
		name string
		in   string
	}{
		{"nothing to rewrite", `{ "b": 1,  "a": "text" }`},
		{"invalid", `{"a": "/x"`},
		{"trailing garbage", `{"a": "/x"} {"b": 2}`},
		{"scalar", `"plain"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RewriteJSON([]byte(tt.in), rc)
			assert.Equal(t, tt.in, string(got))
		})
	}
}

func TestRewriteImportMap(t *testing.T) {
	rc := newTestContext(t, "https://example.com/app/")
	in := `{"imports":{"vue":"https://cdn.test/vue.js","lib/":"./lib/"},"scopes":{"/admin/":{"vue":"/vendor/vue.js"}}}`

	out := rewriteImportMap(in, rc)

	var got struct {
		Imports map[string]string            `json:"imports"`
		Scopes  map[string]map[string]string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, proxied("https://cdn.test/vue.js"), got.Imports["vue"])
	assert.Equal(t, proxied("https://example.com/app/lib/"), got.Imports["lib/"])
	assert.Equal(t, proxied("https://example.com/vendor/vue.js"), got.Scopes["/admin/"]["vue"])
}
