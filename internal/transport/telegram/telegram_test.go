package telegram

import (
	"strings"
	"testing"

	logx "pollbot/pkg/logx"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 4000)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("line one\n", 30)
	chunks := splitText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d keeps a trailing newline", i)
		}
	}
	joined := strings.Join(chunks, "\n") + "\n"
	if joined != text {
		t.Fatalf("chunks lose content:\n%q\nvs\n%q", joined, text)
	}
}

func TestSplitTextRuneSafe(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("日本語テキスト", 50)
	chunks := splitText(text, 40)
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Fatal("multibyte text corrupted by splitting")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}
