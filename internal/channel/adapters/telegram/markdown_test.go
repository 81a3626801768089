package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestMarkdownToTelegramHTML(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**hi**", "<b>hi</b>"},
		{"italic", "*soft*", "<i>soft</i>"},
		{"heading and inline", "# Title\n\nsome `a<b` and ~~old~~", "<b>Title</b>\n\nsome <code>a&lt;b</code> and <s>old</s>"},
		{"bullets", "- one\n- two", "• one\n• two"},
		{"ordered", "1. a\n2. b", "1. a\n2. b"},
		{"fenced code", "```go\nx := 1 < 2\n```", `<pre><code class="language-go">x := 1 &lt; 2</code></pre>`},
		{"link", "[site](https://a.b/?q=1&x=2)", `<a href="https://a.b/?q=1&amp;x=2">site</a>`},
		{"quote", "> quoted", "<blockquote>quoted</blockquote>"},
		{"raw html escaped", "a <u>b</u>", "a &lt;u&gt;b&lt;/u&gt;"},
		{"line break", "a\nb", "a\nb"},
	}
	for _, tc := range cases {
		if got := markdownToTelegramHTML(tc.in); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestFormatTelegramOutputPlain(t *testing.T) {
	t.Parallel()

	text, mode := formatTelegramOutput("**x**", false)
	if text != "**x**" || mode != "" {
		t.Fatalf("unexpected plain output %q %q", text, mode)
	}
	text, mode = formatTelegramOutput("  ", true)
	if text != "  " || mode != "" {
		t.Fatalf("blank text must pass through, got %q %q", text, mode)
	}
	if _, mode = formatTelegramOutput("x", true); mode != tgbotapi.ModeHTML {
		t.Fatalf("expected html mode, got %q", mode)
	}
}
