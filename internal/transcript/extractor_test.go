package transcript

import (
	"slices"
	"testing"
)

func TestExtractor_AccumulatesDeltas(t *testing.T) {
	t.Parallel()

	e := &Extractor{}
	e.AppendDelta("Hello, ")
	e.AppendDelta("how can I ")
	e.AppendDelta("help?")

	if got := e.Current(); got != "Hello, how can I help?" {
		t.Errorf("Current() = %q", got)
	}

	text, links := e.Finalize()
	if text != "Hello, how can I help?" {
		t.Errorf("Finalize text = %q", text)
	}
	if len(links) != 0 {
		t.Errorf("Finalize links = %v; want none", links)
	}
}

func TestExtractor_TurnIsolation(t *testing.T) {
	t.Parallel()

	e := &Extractor{}
	e.AppendDelta("first turn with https://example.com/a")
	e.Finalize()

	e.AppendDelta("second turn")
	text, links := e.Finalize()
	if text != "second turn" {
		t.Errorf("second turn text = %q; first turn leaked", text)
	}
	if len(links) != 0 {
		t.Errorf("second turn links = %v; first turn leaked", links)
	}
}

func TestExtractor_Reset(t *testing.T) {
	t.Parallel()

	e := &Extractor{}
	e.AppendDelta("discarded")
	e.Reset()

	if got := e.Current(); got != "" {
		t.Errorf("Current() after Reset = %q; want empty", got)
	}
}

func TestLinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single link mid-sentence",
			text: "call us at https://wa.me/123 now",
			want: []string{"https://wa.me/123"},
		},
		{
			name: "no scheme means no link",
			text: "visit example.com or www.example.org today",
			want: nil,
		},
		{
			name: "multiple links in order",
			text: "see http://a.example first, then https://b.example/path?q=1 second",
			want: []string{"http://a.example", "https://b.example/path?q=1"},
		},
		{
			name: "trailing punctuation kept",
			text: "read https://example.com/doc.",
			want: []string{"https://example.com/doc."},
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Links(tt.text); !slices.Equal(got, tt.want) {
				t.Errorf("Links(%q) = %v; want %v", tt.text, got, tt.want)
			}
		})
	}
}
