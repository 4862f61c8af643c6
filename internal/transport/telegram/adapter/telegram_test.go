package adapter

import (
	"strings"
	"testing"

	kit "patchbell/internal/transport"
	logx "patchbell/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "newline preferred", in: "aaaa\nbbbbbb", limit: 8, want: []string{"aaaa", "bbbbbb"}},
		{name: "runes not bytes", in: "ééééé", limit: 2, want: []string{"éé", "éé", "é"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitTelegramText(tc.in, tc.limit)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("split = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSplitTelegramTextDefaultLimit(t *testing.T) {
	in := strings.Repeat("x", telegramTextLimit+1)
	got := splitTelegramText(in, 0)
	if len(got) != 2 || len([]rune(got[0])) != telegramTextLimit {
		t.Fatalf("chunks = %d (first %d runes)", len(got), len([]rune(got[0])))
	}
}

func TestMenuHashChangesWithContent(t *testing.T) {
	a := menuHash([]kit.BotCommand{{Command: "games", Description: "list"}})
	b := menuHash([]kit.BotCommand{{Command: "games", Description: "list games"}})
	if a == b {
		t.Fatalf("menu hash did not change")
	}
	if a != menuHash([]kit.BotCommand{{Command: "games", Description: "list"}}) {
		t.Fatalf("menu hash is not stable")
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
