package models

type ContactPostRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type ContactPostResponse struct {
	OK bool `json:"ok"`
}
