package rewrite

import (
	"regexp"
	"strings"
)

var (
	cssURLPattern    = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^'"()\s]+))\s*\)`)
	cssImportPattern = regexp.MustCompile(`(?i)@import\s+(?:"([^"]*)"|'([^']*)'|([^'"();\s]+)\s*;)`)
)

// RewriteCSS proxifies url(...) references and @import targets in a
// stylesheet. Quoting and surrounding whitespace are preserved.
func RewriteCSS(css string, rc *Context) string {
	if rc.exceeds(len(css)) {
		return css
	}
	return failOpen(css, func() string {
		out := replaceGroups(cssURLPattern, css, rc.Proxify)
		return replaceGroups(cssImportPattern, out, rc.Proxify)
	})
}

// replaceGroups applies fn to the first participating capture group of
// every match of re and leaves the rest of the input untouched.
func replaceGroups(re *regexp.Regexp, s string, fn func(string) string) string {
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
			b.WriteString(s[last:start])
			b.WriteString(fn(s[start:end]))
			last = end
			break
		}
	}
	b.WriteString(s[last:])
	return b.String()
}
