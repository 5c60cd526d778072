package post

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a-h/sitechat/mail"
	"github.com/a-h/sitechat/models"
	"github.com/google/go-cmp/cmp"
)

type fakeSender struct {
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func post(sender mail.Sender, body string) *httptest.ResponseRecorder {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(body))
	New(log, sender).ServeHTTP(w, r)
	return w
}

func TestHandler(t *testing.T) {
	t.Run("valid messages are sent", func(t *testing.T) {
		sender := &fakeSender{}
		w := post(sender, `{"name":"Alex","email":"alex@example.com","message":"Are you available for work?"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp models.ContactPostResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !resp.OK {
			t.Error("expected ok")
		}
		expected := []mail.Message{
			{
				ReplyTo: "alex@example.com",
				Subject: "New Contact Form Submission from Alex",
				Body:    "**From:** Alex (alex@example.com)\n\n**Message:**\n\nAre you available for work?\n",
			},
		}
		if diff := cmp.Diff(expected, sender.sent); diff != "" {
			t.Error(diff)
		}
	})
	t.Run("send failures are reported", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("535 authentication failed")}
		w := post(sender, `{"name":"Alex","email":"alex@example.com","message":"Are you available for work?"}`)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", w.Code)
		}
		var resp models.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Error != "Failed to send email." {
			t.Errorf("unexpected error %q", resp.Error)
		}
	})
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected models.ErrorResponse
	}{
		{
			name:     "not JSON",
			body:     `hello`,
			expected: models.ErrorResponse{Error: "Invalid request body"},
		},
		{
			name: "empty",
			body: `{}`,
			expected: models.ErrorResponse{
				Error: "Invalid request body",
				Fields: map[string]string{
					"name":    "must contain at least 2 characters",
					"email":   "must be a valid email address",
					"message": "must contain at least 5 characters",
				},
			},
		},
		{
			name: "short name and message",
			body: `{"name":"A","email":"alex@example.com","message":"Hi"}`,
			expected: models.ErrorResponse{
				Error: "Invalid request body",
				Fields: map[string]string{
					"name":    "must contain at least 2 characters",
					"message": "must contain at least 5 characters",
				},
			},
		},
		{
			name: "address with a display name",
			body: `{"name":"Alex","email":"Alex <alex@example.com>","message":"Hello there"}`,
			expected: models.ErrorResponse{
				Error:  "Invalid request body",
				Fields: map[string]string{"email": "must be a valid email address"},
			},
		},
		{
			name: "header injection",
			body: `{"name":"Alex\r\nBcc: victim@example.com","email":"alex@example.com","message":"Hello there"}`,
			expected: models.ErrorResponse{
				Error:  "Invalid request body",
				Fields: map[string]string{"name": "must be a single line"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			w := post(sender, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}
			var resp models.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if diff := cmp.Diff(tt.expected, resp); diff != "" {
				t.Error(diff)
			}
			if len(sender.sent) != 0 {
				t.Error("expected nothing to be sent")
			}
		})
	}
}
