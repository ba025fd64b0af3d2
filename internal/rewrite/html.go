package rewrite

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

type attrKind uint8

const (
	attrURL attrKind = iota + 1
	attrSrcset
)

var mediaAttrs = map[string]attrKind{
	"src":      attrURL,
	"srcset":   attrSrcset,
	"poster":   attrURL,
	"data-src": attrURL,
}

// elementRules maps an element to the attributes that carry references.
var elementRules = map[string]map[string]attrKind{
	"a":      {"href": attrURL},
	"area":   {"href": attrURL},
	"base":   {"href": attrURL},
	"link":   {"href": attrURL},
	"script": {"src": attrURL},
	"form":   {"action": attrURL},
	"button": {"formaction": attrURL},
	"input":  {"formaction": attrURL, "src": attrURL},
	"img":    mediaAttrs,
	"source": mediaAttrs,
	"video":  mediaAttrs,
	"audio":  mediaAttrs,
	"track":  mediaAttrs,
	"iframe": mediaAttrs,
	"embed":  mediaAttrs,
	"object": {"data": attrURL, "src": attrURL, "srcset": attrSrcset, "poster": attrURL, "data-src": attrURL},
}

// subresources lose their integrity attribute once rewritten because the
// proxied bytes no longer hash to the published digest.
var subresources = map[string]bool{
	"link":   true,
	"script": true,
}

var scriptTypes = map[string]bool{
	"":                         true,
	"module":                   true,
	"text/javascript":          true,
	"application/javascript":   true,
	"application/x-javascript": true,
	"text/ecmascript":          true,
	"application/ecmascript":   true,
}

var metaRefreshPattern = regexp.MustCompile(`(?i)^(\s*[\d.]*\s*[;,]\s*(?:url\s*=\s*)?['"]?)([^'"]*?)(['"]?\s*)$`)

type textMode uint8

const (
	textPlain textMode = iota
	textCSS
	textJS
	textImportMap
)

// RewriteHTML streams an HTML document from src to dst, proxifying
// references in the elements and attributes that carry them. Tokens that
// need no change are copied byte for byte.
func RewriteHTML(dst io.Writer, src io.Reader, rc *Context) error {
	w := bufio.NewWriter(dst)
	hr := &htmlRewriter{rc: rc, w: w}
	z := html.NewTokenizer(&flushingReader{r: src, w: w})

	for {
		tt := z.Next()
		var err error
		switch tt {
		case html.ErrorToken:
			if zerr := z.Err(); !errors.Is(zerr, io.EOF) {
				_ = w.Flush()
				return zerr
			}
			return w.Flush()
		case html.StartTagToken, html.SelfClosingTagToken:
			raw := z.Raw()
			tok := z.Token()
			err = hr.startTag(tok, raw, tt == html.SelfClosingTagToken)
			if tok.Data == "noscript" && tt == html.StartTagToken {
				z.NextIsNotRawText()
			}
		case html.TextToken:
			err = hr.text(z.Raw())
		default:
			hr.mode = textPlain
			_, err = w.Write(z.Raw())
		}
		if err != nil {
			return err
		}
	}
}

// flushingReader hands everything rewritten so far to the client before
// waiting on more upstream input.
type flushingReader struct {
	r io.Reader
	w *bufio.Writer
}

func (f *flushingReader) Read(p []byte) (int, error) {
	if f.w.Buffered() > 0 {
		if err := f.w.Flush(); err != nil {
			return 0, err
		}
	}
	return f.r.Read(p)
}

type htmlRewriter struct {
	rc      *Context
	w       *bufio.Writer
	mode    textMode
	baseSet bool
}

func (h *htmlRewriter) text(raw []byte) error {
	mode := h.mode
	h.mode = textPlain

	var out string
	switch mode {
	case textCSS:
		out = RewriteCSS(string(raw), h.rc)
	case textJS:
		out = RewriteJS(string(raw), h.rc)
	case textImportMap:
		out = rewriteImportMap(string(raw), h.rc)
	default:
		_, err := h.w.Write(raw)
		return err
	}
	_, err := h.w.WriteString(out)
	return err
}

func (h *htmlRewriter) startTag(tok html.Token, raw []byte, selfClosing bool) error {
	h.mode = textPlain
	changed := false
	getForm := false

	switch tok.Data {
	case "base":
		h.applyBase(tok)
	case "meta":
		changed = h.rewriteRefresh(&tok)
	case "form":
		method, _ := attr(tok, "method")
		method = strings.TrimSpace(method)
		getForm = method == "" || strings.EqualFold(method, "get")
		if _, ok := attr(tok, "action"); !ok {
			tok.Attr = append(tok.Attr, html.Attribute{Key: "action", Val: h.rc.Target.String()})
			changed = true
		}
	case "style":
		if !selfClosing {
			h.mode = textCSS
		}
	case "script":
		if !selfClosing {
			h.mode = scriptMode(tok)
		}
	}

	rules := elementRules[tok.Data]
	referenceChanged := false
	for i := range tok.Attr {
		a := &tok.Attr[i]
		var val string
		switch {
		case a.Key == "style":
			val = RewriteCSS(a.Val, h.rc)
		case getForm && a.Key == "action":
			val = h.rc.ProxifyPath(a.Val)
		case rules[a.Key] == attrURL:
			val = h.rc.Proxify(a.Val)
		case rules[a.Key] == attrSrcset:
			val = rewriteSrcset(a.Val, h.rc)
		default:
			continue
		}
		if val != a.Val {
			a.Val = val
			changed = true
			if a.Key != "style" {
				referenceChanged = true
			}
		}
	}

	if referenceChanged && subresources[tok.Data] {
		tok.Attr = dropAttr(tok.Attr, "integrity")
	}

	if !changed {
		_, err := h.w.Write(raw)
		return err
	}
	return writeTag(h.w, tok, selfClosing)
}

// applyBase makes the first <base href> the resolution base for the rest
// of the document.
func (h *htmlRewriter) applyBase(tok html.Token) {
	href, ok := attr(tok, "href")
	if !ok || h.baseSet {
		return
	}
	resolved, err := h.rc.Base.Parse(strings.TrimSpace(href))
	if err != nil || resolved.Host == "" {
		return
	}
	h.rc.Base = resolved
	h.baseSet = true
}

func (h *htmlRewriter) rewriteRefresh(tok *html.Token) bool {
	equiv, _ := attr(*tok, "http-equiv")
	if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
		return false
	}
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if a.Key != "content" {
			continue
		}
		m := metaRefreshPattern.FindStringSubmatch(a.Val)
		if m == nil || strings.TrimSpace(m[2]) == "" {
			return false
		}
		p := h.rc.Proxify(m[2])
		if p == m[2] {
			return false
		}
		a.Val = m[1] + p + m[3]
		return true
	}
	return false
}

func scriptMode(tok html.Token) textMode {
	if _, ok := attr(tok, "src"); ok {
		return textPlain
	}
	typ, _ := attr(tok, "type")
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ == "importmap" {
		return textImportMap
	}
	if scriptTypes[typ] {
		return textJS
	}
	return textPlain
}

// rewriteSrcset proxifies every candidate URL in a srcset value, keeping
// descriptors and separators as written.
func rewriteSrcset(v string, rc *Context) string {
	var b strings.Builder
	i := 0
	for i < len(v) {
		j := i
		for j < len(v) && (isHTMLSpace(v[j]) || v[j] == ',') {
			j++
		}
		b.WriteString(v[i:j])
		i = j
		if i >= len(v) {
			break
		}

		for j < len(v) && !isHTMLSpace(v[j]) {
			j++
		}
		candidate := v[i:j]
		k := len(candidate)
		for k > 0 && candidate[k-1] == ',' {
			k--
		}
		b.WriteString(rc.Proxify(candidate[:k]))
		b.WriteString(candidate[k:])
		i = j
		if k < len(candidate) {
			continue
		}

		for j < len(v) && v[j] != ',' {
			j++
		}
		b.WriteString(v[i:j])
		i = j
	}
	return b.String()
}

func writeTag(w *bufio.Writer, tok html.Token, selfClosing bool) error {
	w.WriteByte('<')
	w.WriteString(tok.Data)
	for _, a := range tok.Attr {
		w.WriteByte(' ')
		if a.Namespace != "" {
			w.WriteString(a.Namespace)
			w.WriteByte(':')
		}
		w.WriteString(a.Key)
		w.WriteString(`="`)
		w.WriteString(html.EscapeString(a.Val))
		w.WriteByte('"')
	}
	if selfClosing {
		w.WriteString(" /")
	}
	return w.WriteByte('>')
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func dropAttr(attrs []html.Attribute, key string) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Key != key {
			out = append(out, a)
		}
	}
	return out
}

func isHTMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
