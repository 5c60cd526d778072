package post

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	netmail "net/mail"
	"strings"
	"unicode/utf8"

	"github.com/a-h/respond"
	"github.com/a-h/sitechat/mail"
	"github.com/a-h/sitechat/models"
)

const maxBodyBytes = 64 * 1024

func New(log *slog.Logger, sender mail.Sender) Handler {
	return Handler{
		log:    log,
		sender: sender,
	}
}

type Handler struct {
	log    *slog.Logger
	sender mail.Sender
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req models.ContactPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn("failed to decode body", slog.Any("error", err))
		respond.WithJSON(w, models.ErrorResponse{Error: "Invalid request body"}, http.StatusBadRequest)
		return
	}
	if fields := validate(req); len(fields) > 0 {
		respond.WithJSON(w, models.ErrorResponse{Error: "Invalid request body", Fields: fields}, http.StatusBadRequest)
		return
	}

	msg := mail.Message{
		ReplyTo: req.Email,
		Subject: fmt.Sprintf("New Contact Form Submission from %s", req.Name),
		Body:    fmt.Sprintf("**From:** %s (%s)\n\n**Message:**\n\n%s\n", req.Name, req.Email, req.Message),
	}
	if err := h.sender.Send(r.Context(), msg); err != nil {
		h.log.Error("failed to send email", slog.Any("error", err))
		respond.WithJSON(w, models.ErrorResponse{Error: "Failed to send email."}, http.StatusInternalServerError)
		return
	}

	respond.WithJSON(w, models.ContactPostResponse{OK: true}, http.StatusOK)
}

func validate(req models.ContactPostRequest) (fields map[string]string) {
	fields = make(map[string]string)
	if utf8.RuneCountInString(strings.TrimSpace(req.Name)) < 2 {
		fields["name"] = "must contain at least 2 characters"
	}
	if strings.ContainsAny(req.Name, "\r\n") {
		fields["name"] = "must be a single line"
	}
	if addr, err := netmail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		fields["email"] = "must be a valid email address"
	}
	if utf8.RuneCountInString(strings.TrimSpace(req.Message)) < 5 {
		fields["message"] = "must contain at least 5 characters"
	}
	return fields
}
