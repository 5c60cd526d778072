package models

type HealthResponse struct {
	Version string `json:"version"`
}
