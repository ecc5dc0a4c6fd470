package utils

import (
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// skipped elements never contribute text
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"noscript": true,
	"template": true,
	"svg":      true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "table": true,
	"section": true, "article": true, "header": true, "footer": true,
	"blockquote": true, "ul": true, "ol": true, "hr": true,
}

// SimplifyHTML converts an HTML body to compact plain text that keeps the
// structure a reader (or a model) needs: headings, list bullets, paragraph
// breaks and link targets.
func (tp *TextProcessor) SimplifyHTML(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var sb strings.Builder
	skipDepth := 0
	var linkHref string

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				tp.logger.Debug("HTML tokenizer stopped early", zap.Error(z.Err()))
			}
			out := CollapseBlankLines(tp.Normalize(sb.String()))
			tp.logger.Debug("HTML simplified",
				zap.Int("original_size", len(src)),
				zap.Int("simplified_size", len(out)))
			return out

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			switch {
			case tag == "li":
				sb.WriteString("\n- ")
			case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
				sb.WriteString("\n\n" + strings.Repeat("#", int(tag[1]-'0')) + " ")
			case tag == "a":
				linkHref = ""
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "href" {
						linkHref = strings.TrimSpace(string(val))
					}
				}
			case tag == "img":
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "alt" && len(val) > 0 {
						sb.WriteString("[image: " + string(val) + "]")
					}
				}
			case blockElements[tag]:
				sb.WriteString("\n")
			case tag == "td" || tag == "th":
				sb.WriteString(" | ")
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			switch {
			case tag == "a":
				if linkHref != "" && !strings.HasPrefix(linkHref, "#") && !strings.HasPrefix(linkHref, "mailto:") {
					sb.WriteString(" (" + linkHref + ")")
				}
				linkHref = ""
			case tag == "p" || (len(tag) == 2 && tag[0] == 'h'):
				sb.WriteString("\n\n")
			case blockElements[tag]:
				sb.WriteString("\n")
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if sb.Len() > 0 {
				last := sb.String()[sb.Len()-1]
				if last != '\n' && last != ' ' {
					sb.WriteString(" ")
				}
			}
			sb.WriteString(text)
		}
	}
}

// LooksLikeHTML is a cheap check used when a provider does not label the body
func LooksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<html") ||
		strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") ||
		strings.Contains(lower, "<p>") ||
		strings.Contains(lower, "<table")
}
