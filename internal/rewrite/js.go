package rewrite

import (
	"regexp"
	"strings"
)

// jsLiteral matches a single- or double-quoted string, or a template
// literal without substitutions, capturing its body.
const jsLiteral = "(?:\"([^\"\\\\\\n]*)\"|'([^'\\\\\\n]*)'|`([^`\\\\$]*)`)"

// jsCallPatterns cover the well-known URL-bearing call sites, in the order
// they are applied.
var jsCallPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bfetch\(\s*` + jsLiteral),
	regexp.MustCompile(`\bimport\(\s*` + jsLiteral),
	regexp.MustCompile(`\.open\(\s*(?:"[A-Za-z]+"|'[A-Za-z]+')\s*,\s*` + jsLiteral),
	regexp.MustCompile(`\bnew\s+(?:Shared)?Worker\(\s*` + jsLiteral),
	regexp.MustCompile(`\blocation(?:\.href)?\s*=\s*` + jsLiteral),
	regexp.MustCompile(`\blocation\.(?:assign|replace)\(\s*` + jsLiteral),
	regexp.MustCompile(`\bserviceWorker\.register\(\s*` + jsLiteral),
}

var (
	jsImportScripts = regexp.MustCompile(`\bimportScripts\(\s*((?:` + jsLiteral + `\s*,\s*)*` + jsLiteral + `)\s*\)`)
	jsStringLiteral = regexp.MustCompile(`"([^"\\\n]*)"|'([^'\\\n]*)'`)
	jsSourceMap     = regexp.MustCompile(`(?m)//[#@]\s*sourceMappingURL=(\S+)`)
)

// RewriteJS proxifies URL string literals in a script. Known call sites
// (fetch, dynamic import, XHR open, workers, location assignment, service
// worker registration, importScripts) are rewritten first, followed by the
// sourceMappingURL comment and a sweep over remaining URL-shaped literals.
// Literals taking part in string concatenation are left alone.
func RewriteJS(js string, rc *Context) string {
	if rc.exceeds(len(js)) {
		return js
	}
	return failOpen(js, func() string {
		out := js
		for _, re := range jsCallPatterns {
			out = replaceLiterals(re, out, rc.Proxify)
		}
		out = jsImportScripts.ReplaceAllStringFunc(out, func(call string) string {
			return replaceLiterals(jsStringLiteral, call, rc.Proxify)
		})
		out = replaceGroups(jsSourceMap, out, rc.Proxify)
		return replaceLiterals(jsStringLiteral, out, func(s string) string {
			if !looksLikeURL(s) {
				return s
			}
			return rc.Proxify(s)
		})
	})
}

// replaceLiterals is replaceGroups for captured string bodies, skipping any
// literal that is an operand of '+'.
func replaceLiterals(re *regexp.Regexp, s string, fn func(string) string) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		for g := 1; 2*g+1 < len(m); g++ {
			start, end := m[2*g], m[2*g+1]
			if start < 0 {
				continue
			}
			if concatenated(s, start, end) {
				break
			}
			b.WriteString(s[last:start])
			b.WriteString(fn(s[start:end]))
			last = end
			break
		}
	}
	b.WriteString(s[last:])
	return b.String()
}

// concatenated reports whether the literal whose body spans s[start:end]
// is preceded or followed by a '+' operator.
func concatenated(s string, start, end int) bool {
	i := start - 2
	for i >= 0 && isJSSpace(s[i]) {
		i--
	}
	if i >= 0 && s[i] == '+' {
		return true
	}
	j := end + 1
	for j < len(s) && isJSSpace(s[j]) {
		j++
	}
	return j < len(s) && s[j] == '+'
}

func isJSSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
