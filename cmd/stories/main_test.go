package main

import (
	"testing"
	"unicode/utf8"
)

func TestOneLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short text unchanged", in: "Beach day", max: 20, want: "Beach day"},
		{name: "whitespace collapsed", in: "Beach\n\n  day\t", max: 20, want: "Beach day"},
		{name: "ascii truncated", in: "abcdefghij", max: 8, want: "abcde..."},
		{name: "multibyte truncated on rune boundary", in: "日本語のストーリーです", max: 6, want: "日本語..."},
		{name: "exactly max runes kept", in: "café au lait", max: 12, want: "café au lait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := oneLine(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("oneLine(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("oneLine(%q, %d) = %q is not valid UTF-8", tt.in, tt.max, got)
			}
		})
	}
}
