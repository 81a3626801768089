package telegram

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify)).Parser()

// formatTelegramOutput converts markdown to Telegram-compatible HTML when
// markdown is set. Returns the formatted text and the parse mode to use.
func formatTelegramOutput(text string, markdown bool) (string, string) {
	if markdown && strings.TrimSpace(text) != "" {
		return markdownToTelegramHTML(text), tgbotapi.ModeHTML
	}
	return text, ""
}

// markdownToTelegramHTML renders markdown into the tag subset Telegram
// accepts: b, i, s, code, pre, a and blockquote. Headings become bold lines,
// list items get a bullet or number prefix, raw HTML is escaped.
func markdownToTelegramHTML(src string) string {
	if strings.TrimSpace(src) == "" {
		return src
	}
	r := &telegramRenderer{src: []byte(src)}
	doc := markdownParser.Parse(text.NewReader(r.src))
	r.blocks(doc, "\n\n")
	return strings.TrimSpace(r.buf.String())
}

type telegramRenderer struct {
	src []byte
	buf strings.Builder
}

func (r *telegramRenderer) blocks(parent ast.Node, sep string) {
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if c != parent.FirstChild() {
			r.buf.WriteString(sep)
		}
		r.block(c)
	}
}

func (r *telegramRenderer) block(n ast.Node) {
	switch n := n.(type) {
	case *ast.Heading:
		r.wrap("b", n)
	case *ast.Paragraph, *ast.TextBlock:
		r.inlines(n)
	case *ast.Blockquote:
		r.buf.WriteString("<blockquote>")
		r.blocks(n, "\n")
		r.buf.WriteString("</blockquote>")
	case *ast.List:
		i := 0
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			if i > 0 {
				r.buf.WriteByte('\n')
			}
			if n.IsOrdered() {
				fmt.Fprintf(&r.buf, "%d. ", n.Start+i)
			} else {
				r.buf.WriteString("• ")
			}
			r.blocks(item, "\n")
			i++
		}
	case *ast.FencedCodeBlock:
		r.code(n.Lines(), string(n.Language(r.src)))
	case *ast.CodeBlock:
		r.code(n.Lines(), "")
	case *ast.HTMLBlock:
		r.escapeLines(n.Lines())
	case *ast.ThematicBreak:
		r.buf.WriteString("———")
	default:
		r.inlines(n)
	}
}

func (r *telegramRenderer) inlines(parent ast.Node) {
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		r.inline(c)
	}
}

func (r *telegramRenderer) inline(n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		r.escape(n.Segment.Value(r.src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			r.buf.WriteByte('\n')
		}
	case *ast.String:
		r.escape(n.Value)
	case *ast.CodeSpan:
		r.buf.WriteString("<code>")
		r.inlines(n)
		r.buf.WriteString("</code>")
	case *ast.Emphasis:
		if n.Level >= 2 {
			r.wrap("b", n)
		} else {
			r.wrap("i", n)
		}
	case *extast.Strikethrough:
		r.wrap("s", n)
	case *ast.Link:
		r.link(n.Destination, n)
	case *ast.Image:
		r.link(n.Destination, n)
	case *ast.AutoLink:
		url := n.URL(r.src)
		r.buf.WriteString(`<a href="` + html.EscapeString(string(url)) + `">`)
		r.escape(url)
		r.buf.WriteString("</a>")
	case *ast.RawHTML:
		r.escapeLines(n.Segments)
	default:
		r.inlines(n)
	}
}

func (r *telegramRenderer) wrap(tag string, n ast.Node) {
	r.buf.WriteString("<" + tag + ">")
	r.inlines(n)
	r.buf.WriteString("</" + tag + ">")
}

func (r *telegramRenderer) link(dest []byte, n ast.Node) {
	r.buf.WriteString(`<a href="` + html.EscapeString(string(dest)) + `">`)
	r.inlines(n)
	r.buf.WriteString("</a>")
}

func (r *telegramRenderer) code(lines *text.Segments, lang string) {
	var body strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		body.Write(seg.Value(r.src))
	}
	escaped := telegramEscapeHTML(strings.TrimRight(body.String(), "\n"))
	if lang != "" {
		fmt.Fprintf(&r.buf, "<pre><code class=\"language-%s\">%s</code></pre>", html.EscapeString(lang), escaped)
		return
	}
	r.buf.WriteString("<pre>" + escaped + "</pre>")
}

func (r *telegramRenderer) escapeLines(lines *text.Segments) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		r.escape(seg.Value(r.src))
	}
}

func (r *telegramRenderer) escape(b []byte) {
	r.buf.WriteString(telegramEscapeHTML(string(b)))
}

// telegramEscapeHTML escapes the three characters Telegram's HTML mode
// treats as markup.
func telegramEscapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
