// Package stream writes and reads the UI message stream: server-sent events carrying text deltas.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	TypeStart      = "start"
	TypeStartStep  = "start-step"
	TypeTextStart  = "text-start"
	TypeTextDelta  = "text-delta"
	TypeTextEnd    = "text-end"
	TypeFinishStep = "finish-step"
	TypeFinish     = "finish"
	TypeError      = "error"
)

const done = "[DONE]"

type Event struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	ID        string `json:"id,omitempty"`
	Delta     string `json:"delta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{
		w:         w,
		rc:        http.NewResponseController(w),
		messageID: uuid.NewString(),
		textID:    uuid.NewString(),
	}
}

// Writer writes a single assistant message. Start must be called before Delta.
type Writer struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	messageID string
	textID    string
	started   bool
}

// Started reports whether the response has been committed.
func (s *Writer) Started() bool {
	return s.started
}

// Start writes the headers and opens the message.
func (s *Writer) Start() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
	return s.write(
		Event{Type: TypeStart, MessageID: s.messageID},
		Event{Type: TypeStartStep},
		Event{Type: TypeTextStart, ID: s.textID},
	)
}

func (s *Writer) Delta(text string) error {
	return s.write(Event{Type: TypeTextDelta, ID: s.textID, Delta: text})
}

// Finish closes the message and ends the stream.
func (s *Writer) Finish() error {
	return s.write(
		Event{Type: TypeTextEnd, ID: s.textID},
		Event{Type: TypeFinishStep},
		Event{Type: TypeFinish},
	)
}

// Error reports a failure in-band and ends the stream.
func (s *Writer) Error(text string) error {
	return s.write(Event{Type: TypeError, ErrorText: text})
}

func (s *Writer) write(events ...Event) error {
	var buf bytes.Buffer
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.WriteString("data: ")
		buf.Write(data)
		buf.WriteString("\n\n")
		if e.Type == TypeFinish || e.Type == TypeError {
			buf.WriteString("data: " + done + "\n\n")
		}
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("stream: failed to write events: %w", err)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("stream: failed to flush events: %w", err)
	}
	return nil
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner}
}

type Reader struct {
	scanner *bufio.Scanner
}

// Next returns the next event. It returns io.EOF at the end of the stream.
func (r *Reader) Next() (e Event, err error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Blank separators and comments.
			continue
		}
		data = strings.TrimSpace(data)
		if data == done {
			return e, io.EOF
		}
		if err = json.Unmarshal([]byte(data), &e); err != nil {
			return e, fmt.Errorf("stream: invalid event %q: %w", data, err)
		}
		return e, nil
	}
	if err = r.scanner.Err(); err != nil {
		return e, err
	}
	return e, io.ErrUnexpectedEOF
}

// Error is an error reported in-band by the server.
type Error struct {
	Text string
}

func (e Error) Error() string {
	return e.Text
}

// ReadText reads the stream to the end and returns the concatenated text deltas.
// The text received before an error event is returned along with an Error.
func ReadText(r io.Reader) (text string, err error) {
	var sb strings.Builder
	reader := NewReader(r)
	for {
		e, err := reader.Next()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		switch e.Type {
		case TypeTextDelta:
			sb.WriteString(e.Delta)
		case TypeError:
			return sb.String(), Error{Text: e.ErrorText}
		}
	}
}
