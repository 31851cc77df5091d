package analysis

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"pagescope/internal/report"
)

// cssURLPattern extracts the reference inside a CSS url(...) value.
var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// resolvePaintResource returns the absolute URL of the resource behind the
// largest visual paint. An explicit URL on the audit wins; otherwise the
// element snippet is parsed for an inline reference and resolved against
// the final navigated URL. Empty means no resource was identifiable.
func resolvePaintResource(rep *report.Report) string {
	explicit, snippet := rep.PaintElement()
	if explicit != "" {
		return resolveAgainst(rep.FinalURL, explicit)
	}
	if snippet == "" {
		return ""
	}
	if ref := snippetResourceRef(snippet); ref != "" {
		return resolveAgainst(rep.FinalURL, ref)
	}
	return ""
}

// snippetResourceRef pulls the first resource reference out of an element
// snippet: an img/source/video src-like attribute, or a CSS url(...) in a
// style attribute or inline text.
func snippetResourceRef(snippet string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(snippet))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		for _, attr := range token.Attr {
			switch attr.Key {
			case "src", "poster":
				if attr.Val != "" {
					return attr.Val
				}
			case "srcset":
				if first := firstSrcsetCandidate(attr.Val); first != "" {
					return first
				}
			case "href":
				if token.Data == "link" && attr.Val != "" {
					return attr.Val
				}
			case "style":
				if m := cssURLPattern.FindStringSubmatch(attr.Val); m != nil {
					return m[1]
				}
			}
		}
	}
	// Snippets are sometimes bare CSS, not markup.
	if m := cssURLPattern.FindStringSubmatch(snippet); m != nil {
		return m[1]
	}
	return ""
}

// firstSrcsetCandidate returns the URL of the first srcset entry.
func firstSrcsetCandidate(srcset string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(srcset), ",")
	candidate, _, _ := strings.Cut(strings.TrimSpace(first), " ")
	return candidate
}

// resolveAgainst resolves ref relative to base. Data URIs and absolute
// refs pass through; an unparsable base leaves ref untouched.
func resolveAgainst(base, ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
