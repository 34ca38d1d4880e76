// Package transcript accumulates the model's spoken-output transcription for
// the current turn and extracts URLs from it when the turn completes.
package transcript

import (
	"regexp"
	"strings"
	"sync"
)

// linkPattern matches http and https URLs. The match is the literal
// non-whitespace span; trailing punctuation is kept as-is because trimming it
// would corrupt URLs that legitimately end in such characters.
var linkPattern = regexp.MustCompile(`https?://\S+`)

// Extractor buffers transcript deltas for one turn at a time. Safe for
// concurrent use.
type Extractor struct {
	mu  sync.Mutex
	buf strings.Builder
}

// AppendDelta adds an incremental piece of transcription text to the current
// turn's buffer.
func (e *Extractor) AppendDelta(text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.WriteString(text)
}

// Current returns the accumulated text of the in-progress turn.
func (e *Extractor) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.String()
}

// Finalize returns the completed turn's text and the URLs found in it, in
// order of appearance, then resets the buffer for the next turn. Text
// appended before a Finalize never leaks into the next turn's result.
func (e *Extractor) Finalize() (string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	text := e.buf.String()
	e.buf.Reset()
	return text, Links(text)
}

// Reset discards the in-progress turn without producing a result.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.Reset()
}

// Links returns every http/https URL in text, in order of appearance.
// Returns nil when none are found.
func Links(text string) []string {
	return linkPattern.FindAllString(text, -1)
}
