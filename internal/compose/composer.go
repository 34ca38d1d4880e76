// Package compose assembles multimodal message turns: optional text plus any
// number of pending file attachments, encoded into wire parts in insertion
// order.
package compose

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vocanto/vocanto/pkg/live"
)

// Kind classifies an attachment by its declared media type.
type Kind int

const (
	// KindOther covers everything that is not image or audio.
	KindOther Kind = iota

	// KindImage indicates an image/* media type.
	KindImage

	// KindAudio indicates an audio/* media type.
	KindAudio
)

// String returns a human-readable label for the kind.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	default:
		return "other"
	}
}

// DetectKind classifies a media type string.
func DetectKind(mediaType string) Kind {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case strings.HasPrefix(mediaType, "audio/"):
		return KindAudio
	default:
		return KindOther
	}
}

// Attachment is one pending file waiting to be sent with the next message.
// Its content is read lazily at compose time.
type Attachment struct {
	Name      string
	MediaType string
	Kind      Kind

	open func() (io.ReadCloser, error)
}

// FileAttachment creates an Attachment backed by a file on disk. When
// mediaType is empty it is derived from the file extension, falling back to
// application/octet-stream.
func FileAttachment(path, mediaType string) Attachment {
	if mediaType == "" {
		mediaType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return Attachment{
		Name:      filepath.Base(path),
		MediaType: mediaType,
		Kind:      DetectKind(mediaType),
		open:      func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesAttachment creates an Attachment backed by an in-memory payload.
func BytesAttachment(name, mediaType string, data []byte) Attachment {
	return Attachment{
		Name:      name,
		MediaType: mediaType,
		Kind:      DetectKind(mediaType),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(data))), nil
		},
	}
}

// EncodingError reports that a single attachment could not be read at
// compose time. The attachment is skipped; the send proceeds without it.
type EncodingError struct {
	Name string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("compose: attachment %q: %v", e.Name, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Composer buffers pending attachments between sends. Safe for concurrent
// use.
type Composer struct {
	mu      sync.Mutex
	pending []Attachment
}

// Add buffers an attachment for the next message.
func (c *Composer) Add(att Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, att)
}

// Pending returns a copy of the current attachment list.
func (c *Composer) Pending() []Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Attachment, len(c.pending))
	copy(out, c.pending)
	return out
}

// Len returns the number of pending attachments.
func (c *Composer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Remove drops the pending attachment at index i. Out-of-range indices are
// ignored.
func (c *Composer) Remove(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.pending) {
		return
	}
	c.pending = append(c.pending[:i], c.pending[i+1:]...)
}

// Clear drops all pending attachments.
func (c *Composer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// Compose builds the wire parts for one message: a text part when text is
// non-empty, followed by one inline-data part per pending attachment in
// insertion order, base64-encoded and tagged with the declared media type.
//
// An attachment whose source cannot be read is skipped and reported in the
// returned error slice; the remaining parts are still produced so a send can
// proceed without the broken attachment. The pending list is left untouched;
// the caller clears it after a successful send.
func (c *Composer) Compose(text string) ([]live.Part, []error) {
	var parts []live.Part
	var skipped []error

	if text != "" {
		parts = append(parts, live.Part{Text: text})
	}

	for _, att := range c.Pending() {
		data, err := readAll(att)
		if err != nil {
			skipped = append(skipped, &EncodingError{Name: att.Name, Err: err})
			continue
		}
		parts = append(parts, live.Part{
			InlineData: &live.InlineData{
				MIMEType: att.MediaType,
				Data:     base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	return parts, skipped
}

func readAll(att Attachment) ([]byte, error) {
	rc, err := att.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
