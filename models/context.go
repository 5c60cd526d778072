package models

type ContextPostRequest struct {
	Text string `json:"text"`
}

type ContextPostResponse struct {
	Results []ContextDocument `json:"results"`
}

type ContextDocument struct {
	Text     string         `json:"text"`
	Score    float32        `json:"score"`
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
