package slug

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "punctuation", in: "Hello, World!", want: "hello-world"},
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: "   ", want: ""},
		{name: "symbols only", in: "!!!", want: ""},
		{name: "non latin dropped", in: "日本語 test", want: "test"},
		{name: "accents folded", in: "Café Crème brûlée", want: "cafe-creme-brulee"},
		{name: "separator runs", in: "a  _ - b__c", want: "a-b-c"},
		{name: "edge hyphens", in: "--lead and trail--", want: "lead-and-trail"},
		{name: "digits kept", in: "Round 2: go!", want: "round-2-go"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Slugify(tc.in); got != tc.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSlugifyIsIdempotent(t *testing.T) {
	inputs := []string{
		"Hello, World!",
		"  Ünïcödé   text__with--runs ",
		"日本語 test",
		"already-a-slug",
		"What's the plan? Let's talk.",
	}
	for _, in := range inputs {
		once := Slugify(in)
		if twice := Slugify(once); twice != once {
			t.Fatalf("Slugify not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestSlugifyOutputAlphabet(t *testing.T) {
	got := Slugify("Mixed CASE, punctuation; and ~ dashes_and_underscores")
	for _, r := range got {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			t.Fatalf("unexpected rune %q in %q", r, got)
		}
	}
	if strings.Contains(got, "--") || strings.HasPrefix(got, "-") || strings.HasSuffix(got, "-") {
		t.Fatalf("malformed separators in %q", got)
	}
}

func TestExtractSeed(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "first sentence", in: "Hello there. More text", want: "Hello there."},
		{name: "no terminator", in: "one two three", want: "one two three"},
		{name: "ten word cap", in: "a b c d e f g h i j k l", want: "a b c d e f g h i j"},
		{name: "question", in: "Why now? Because.", want: "Why now?"},
		{name: "double bang", in: "Great idea!!", want: "Great idea!"},
		{name: "leading terminator", in: "...and then", want: "...and then"},
		{name: "collapses whitespace", in: "  spaced   out\nwords ", want: "spaced out words"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractSeed(tc.in); got != tc.want {
				t.Fatalf("ExtractSeed(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBase(t *testing.T) {
	if got := Base(""); got != Fallback {
		t.Fatalf("Base(\"\") = %q, want %q", got, Fallback)
	}
	if got := Base("!!!"); got != Fallback {
		t.Fatalf("Base(\"!!!\") = %q, want %q", got, Fallback)
	}
	long := strings.Repeat("word ", 30)
	got := Base(long)
	if len(got) != MaxLength {
		t.Fatalf("expected base cut to %d chars, got %d (%q)", MaxLength, len(got), got)
	}
	if !strings.HasPrefix(Slugify(long), got) {
		t.Fatalf("expected %q to be a prefix of the full slug", got)
	}
}
