package tghtml

import (
	"strings"
	"testing"
)

func TestEsc(t *testing.T) {
	t.Parallel()
	if got := Esc("a <b> & c").String(); got != "a &lt;b&gt; &amp; c" {
		t.Fatalf("Esc = %q", got)
	}
}

func TestChunkShort(t *testing.T) {
	t.Parallel()
	got := Chunk("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("Chunk = %v", got)
	}
}

func TestChunkPrefersNewline(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 40) + "\n" + strings.Repeat("y", 40)
	got := Chunk(text, 60)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	if got[0] != strings.Repeat("x", 40) {
		t.Fatalf("first chunk = %q", got[0])
	}
	if got[1] != strings.Repeat("y", 40) {
		t.Fatalf("second chunk = %q", got[1])
	}
}

func TestChunkHardSplitWithoutNewline(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("z", 130)
	got := Chunk(text, 50)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if len(c) > 50 {
			t.Fatalf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
	}
	if strings.Join(got, "") != text {
		t.Fatal("chunks do not reassemble input")
	}
}
