package summary

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDeriveShortContentUnchanged(t *testing.T) {
	content := strings.Repeat("a", 99)
	assert.Equal(t, content, Derive(content))
	assert.Equal(t, "", Derive(""))
}

func TestDeriveExactlyHundred(t *testing.T) {
	content := strings.Repeat("b", 100)
	assert.Equal(t, content+Ellipsis, Derive(content))
}

func TestDeriveLongContent(t *testing.T) {
	content := strings.Repeat("0123456789", 15)
	got := Derive(content)
	assert.Equal(t, content[:100]+"...", got)
}

func TestDeriveMultibyte(t *testing.T) {
	content := strings.Repeat("ж", 150)
	got := Derive(content)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ж", 100)+Ellipsis, got)
}

func testDerive_Properties(t *rapid.T) {
	content := rapid.String().Draw(t, "content")
	got := Derive(content)

	n := utf8.RuneCountInString(content)
	if n < MaxChars {
		if got != content {
			t.Fatalf("short content changed: %q -> %q", content, got)
		}
		return
	}
	if !strings.HasSuffix(got, Ellipsis) {
		t.Fatalf("truncated summary %q lacks ellipsis", got)
	}
	prefix := strings.TrimSuffix(got, Ellipsis)
	if !strings.HasPrefix(content, prefix) {
		t.Fatalf("summary %q is not a prefix of content", prefix)
	}
	if utf8.RuneCountInString(prefix) != MaxChars {
		t.Fatalf("prefix has %d characters, want %d", utf8.RuneCountInString(prefix), MaxChars)
	}
}

func TestDerive_Properties(t *testing.T) {
	rapid.Check(t, testDerive_Properties)
}

func FuzzDerive_Properties(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testDerive_Properties))
}
