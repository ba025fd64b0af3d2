package rewrite

import (
	"bytes"
	"encoding/json"
	"io"
)

// RewriteJSON proxifies URL-shaped string values anywhere in a JSON
// document. Input that does not parse, or that contains nothing to
// rewrite, is returned unchanged.
func RewriteJSON(body []byte, rc *Context) []byte {
	if rc.exceeds(len(body)) {
		return body
	}
	return failOpen(body, func() []byte {
		doc, ok := decodeJSON(body)
		if !ok {
			return body
		}
		changed := false
		doc = walkJSON(doc, &changed, func(s string) string {
			if !looksLikeURL(s) {
				return s
			}
			return rc.Proxify(s)
		})
		if !changed {
			return body
		}
		out, err := encodeJSON(doc)
		if err != nil {
			return body
		}
		return out
	})
}

// rewriteImportMap proxifies every address in an import map's "imports"
// and "scopes" tables.
func rewriteImportMap(text string, rc *Context) string {
	return failOpen(text, func() string {
		doc, ok := decodeJSON([]byte(text))
		if !ok {
			return text
		}
		root, ok := doc.(map[string]any)
		if !ok {
			return text
		}

		changed := false
		if imports, ok := root["imports"].(map[string]any); ok {
			proxifyValues(imports, rc, &changed)
		}
		if scopes, ok := root["scopes"].(map[string]any); ok {
			for _, scope := range scopes {
				if m, ok := scope.(map[string]any); ok {
					proxifyValues(m, rc, &changed)
				}
			}
		}
		if !changed {
			return text
		}
		out, err := encodeJSON(root)
		if err != nil {
			return text
		}
		return string(out)
	})
}

func proxifyValues(m map[string]any, rc *Context, changed *bool) {
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if p := rc.Proxify(s); p != s {
			m[k] = p
			*changed = true
		}
	}
}

func walkJSON(v any, changed *bool, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		if out := fn(t); out != t {
			*changed = true
			return out
		}
		return t
	case []any:
		for i := range t {
			t[i] = walkJSON(t[i], changed, fn)
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = walkJSON(t[k], changed, fn)
		}
		return t
	}
	return v
}

func decodeJSON(body []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return doc, true
}

func encodeJSON(doc any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
