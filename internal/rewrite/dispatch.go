package rewrite

import (
	"io"
	"mime"
	"path"
	"strings"
)

// Kind names the rewrite engine a response is routed to.
type Kind uint8

const (
	Passthrough Kind = iota
	HTML
	CSS
	JS
	JSON
)

func (k Kind) String() string {
	switch k {
	case HTML:
		return "html"
	case CSS:
		return "css"
	case JS:
		return "js"
	case JSON:
		return "json"
	}
	return "passthrough"
}

var jsMediaTypes = map[string]bool{
	"text/javascript":          true,
	"application/javascript":   true,
	"application/x-javascript": true,
	"text/ecmascript":          true,
	"application/ecmascript":   true,
}

// genericMediaTypes say nothing useful about the body, so the URL
// extension decides.
var genericMediaTypes = map[string]bool{
	"":                         true,
	"text/plain":               true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

// Classify picks an engine from the response Content-Type, falling back to
// the extension of the target path when the type is missing or generic.
func Classify(contentType, targetPath string) Kind {
	mt := mediaType(contentType)
	switch {
	case mt == "text/html", mt == "application/xhtml+xml":
		return HTML
	case mt == "text/css":
		return CSS
	case jsMediaTypes[mt]:
		return JS
	case mt == "application/json", mt == "text/json", strings.HasSuffix(mt, "+json"):
		return JSON
	case !genericMediaTypes[mt]:
		return Passthrough
	}

	switch strings.ToLower(path.Ext(targetPath)) {
	case ".html", ".htm":
		return HTML
	case ".css":
		return CSS
	case ".js", ".mjs":
		return JS
	case ".json":
		return JSON
	}
	return Passthrough
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// Stream copies src to dst through the engine for kind. HTML is rewritten
// token by token; CSS, JS and JSON are buffered up to rc.MaxBytes and
// passed through unmodified beyond that.
func Stream(kind Kind, dst io.Writer, src io.Reader, rc *Context) error {
	switch kind {
	case HTML:
		return RewriteHTML(dst, src, rc)
	case CSS, JS, JSON:
		return rewriteBuffered(kind, dst, src, rc)
	}
	_, err := io.Copy(dst, src)
	return err
}

func rewriteBuffered(kind Kind, dst io.Writer, src io.Reader, rc *Context) error {
	limited := src
	if rc.MaxBytes > 0 {
		limited = io.LimitReader(src, rc.MaxBytes+1)
	}
	buf, err := io.ReadAll(limited)
	if err != nil {
		return err
	}

	if rc.exceeds(len(buf)) {
		if _, err := dst.Write(buf); err != nil {
			return err
		}
		_, err := io.Copy(dst, src)
		return err
	}

	var out []byte
	switch kind {
	case CSS:
		out = []byte(RewriteCSS(string(buf), rc))
	case JS:
		out = []byte(RewriteJS(string(buf), rc))
	default:
		out = RewriteJSON(buf, rc)
	}
	_, err = dst.Write(out)
	return err
}
