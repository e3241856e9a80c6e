// Package htmlutil renders small trusted elements and splices them into
// server-rendered documents.
package htmlutil

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/html"
)

type Element struct {
	Tag                 string
	Attributes          map[string]string
	AttributesKnownSafe map[string]string
	BooleanAttributes   []string
	TextContent         string
	DangerousInnerHTML  string
	SelfClosing         bool
}

// see https://html.spec.whatwg.org/multipage/syntax.html#void-elements
var selfClosingTags = []string{
	"area", "base", "br", "col", "embed", "hr", "img",
	"input", "link", "meta", "source", "track", "wbr",
}

func RenderElement(el *Element) (template.HTML, error) {
	var sb strings.Builder
	if err := RenderElementToBuilder(el, &sb); err != nil {
		return "", fmt.Errorf("could not render element: %w", err)
	}
	return template.HTML(sb.String()), nil
}

func RenderElementToBuilder(el *Element, sb *strings.Builder) error {
	tag := template.HTMLEscapeString(el.Tag)
	if tag == "" {
		return fmt.Errorf("element has no tag")
	}

	attrs := make(map[string]string, len(el.Attributes)+len(el.AttributesKnownSafe))
	for k, v := range el.Attributes {
		attrs[template.HTMLEscapeString(k)] = template.HTMLEscapeString(v)
	}
	for k, v := range el.AttributesKnownSafe {
		attrs[template.HTMLEscapeString(k)] = v
	}

	sb.WriteString("<")
	sb.WriteString(tag)
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(attrs[k])
		sb.WriteString(`"`)
	}
	for _, b := range el.BooleanAttributes {
		sb.WriteString(" ")
		sb.WriteString(template.HTMLEscapeString(b))
	}

	if slices.Contains(selfClosingTags, tag) || el.SelfClosing {
		sb.WriteString(" />")
		return nil
	}
	sb.WriteString(">")
	switch {
	case el.DangerousInnerHTML != "":
		sb.WriteString(el.DangerousInnerHTML)
	case el.TextContent != "":
		sb.WriteString(template.HTMLEscapeString(el.TextContent))
	}
	sb.WriteString("</")
	sb.WriteString(tag)
	sb.WriteString(">")
	return nil
}

// StylesheetLink renders <link rel="stylesheet" href="...">.
func StylesheetLink(href string) string {
	var sb strings.Builder
	_ = RenderElementToBuilder(&Element{
		Tag:        "link",
		Attributes: map[string]string{"rel": "stylesheet", "href": href},
	}, &sb)
	return sb.String()
}

// ScriptTag renders an external script. loading is "module", "defer",
// "async" or "classic" (plain blocking script).
func ScriptTag(src, loading string) string {
	el := &Element{Tag: "script", Attributes: map[string]string{"src": src}}
	switch loading {
	case "", "module":
		el.Attributes["type"] = "module"
	case "defer", "async":
		el.BooleanAttributes = []string{loading}
	}
	var sb strings.Builder
	_ = RenderElementToBuilder(el, &sb)
	return sb.String()
}

// InlineScript renders a script element with trusted contents.
func InlineScript(js string) string {
	var sb strings.Builder
	_ = RenderElementToBuilder(&Element{Tag: "script", DangerousInnerHTML: js}, &sb)
	return sb.String()
}

// IsFullDocument reports whether doc contains an <html element.
func IsFullDocument(doc string) bool {
	return indexTagOpen(asciiLower(doc), "<html", 0) >= 0
}

// InjectBeforeHeadClose inserts snippet immediately before the first
// </head>. Documents without one get the snippet after the opening <body>
// tag, or prepended as a last resort.
func InjectBeforeHeadClose(doc, snippet string) string {
	if snippet == "" {
		return doc
	}
	lower := asciiLower(doc)
	if i := strings.Index(lower, "</head>"); i >= 0 {
		return doc[:i] + snippet + doc[i:]
	}
	if i := indexTagOpen(lower, "<body", 0); i >= 0 {
		if end := strings.IndexByte(doc[i:], '>'); end >= 0 {
			at := i + end + 1
			return doc[:at] + snippet + doc[at:]
		}
	}
	return snippet + doc
}

// LinkedStylesheets returns the href of every <link rel="stylesheet"> in doc.
func LinkedStylesheets(doc string) map[string]struct{} {
	out := make(map[string]struct{})
	l := html.NewLexer(parse.NewInputString(doc))
	var inLink bool
	var rel, href string
	flush := func() {
		if inLink && strings.EqualFold(rel, "stylesheet") && href != "" {
			out[href] = struct{}{}
		}
		inLink, rel, href = false, "", ""
	}
	for {
		tt, _ := l.Next()
		switch tt {
		case html.ErrorToken:
			if l.Err() != io.EOF {
				return out
			}
			flush()
			return out
		case html.StartTagToken:
			flush()
			inLink = bytes.EqualFold(l.Text(), []byte("link"))
		case html.AttributeToken:
			if !inLink {
				continue
			}
			val := string(trimQuotes(l.AttrVal()))
			switch strings.ToLower(string(l.Text())) {
			case "rel":
				rel = strings.TrimSpace(val)
			case "href":
				href = val
			}
		case html.StartTagCloseToken, html.StartTagVoidToken:
			flush()
		}
	}
}

func trimQuotes(b []byte) []byte {
	if len(b) >= 2 && (b[0] == '"' || b[0] == '\'') && b[len(b)-1] == b[0] {
		return b[1 : len(b)-1]
	}
	return b
}

// indexTagOpen finds name (already lowercase, e.g. "<body") at or after from
// where it is followed by '>', '/' or whitespace.
func indexTagOpen(lower, name string, from int) int {
	for from <= len(lower) {
		i := strings.Index(lower[from:], name)
		if i < 0 {
			return -1
		}
		at := from + i
		next := at + len(name)
		if next < len(lower) {
			switch lower[next] {
			case '>', '/', ' ', '\t', '\n', '\r', '\f':
				return at
			}
		}
		from = at + 1
	}
	return -1
}

// asciiLower lowercases ASCII letters only so byte offsets stay aligned with
// the original string.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
