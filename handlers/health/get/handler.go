package get

import (
	"net/http"

	"github.com/a-h/respond"
	"github.com/a-h/sitechat"
	"github.com/a-h/sitechat/models"
)

func New() Handler {
	return Handler{}
}

type Handler struct{}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respond.WithJSON(w, models.HealthResponse{Version: sitechat.Version}, http.StatusOK)
}
