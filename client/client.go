package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/jsonapi"
	"github.com/a-h/sitechat/models"
	"github.com/a-h/sitechat/stream"
)

func New(baseURL, apiKey string) Client {
	return Client{
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type Client struct {
	baseURL string
	apiKey  string
}

func (c Client) DocumentsPost(ctx context.Context, req models.DocumentsPostRequest) (resp models.DocumentsPostResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("documents").String()
	if err != nil {
		return resp, err
	}
	return jsonapi.Post[models.DocumentsPostRequest, models.DocumentsPostResponse](ctx, url, req, jsonapi.WithRequestHeader("Authorization", c.apiKey))
}

func (c Client) ContextPost(ctx context.Context, req models.ContextPostRequest) (resp models.ContextPostResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("context").String()
	if err != nil {
		return resp, err
	}
	return jsonapi.Post[models.ContextPostRequest, models.ContextPostResponse](ctx, url, req, jsonapi.WithRequestHeader("Authorization", c.apiKey))
}

func (c Client) ContactPost(ctx context.Context, req models.ContactPostRequest) (resp models.ContactPostResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("api", "contact").String()
	if err != nil {
		return resp, err
	}
	return jsonapi.Post[models.ContactPostRequest, models.ContactPostResponse](ctx, url, req)
}

// ChatPost sends the conversation and calls f with each text delta of the answer.
// An error reported by the server after streaming has started is returned as a stream.Error.
func (c Client) ChatPost(ctx context.Context, req models.ChatPostRequest, f func(ctx context.Context, delta string) error) (err error) {
	url, err := jsonapi.URL(c.baseURL).Path("api", "chat").String()
	if err != nil {
		return err
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	res, err := jsonapi.Raw(httpReq, jsonapi.WithRequestHeader("Content-Type", "application/json"))
	if err != nil {
		return fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(res.Body)
		return jsonapi.InvalidStatusError{
			Status: res.StatusCode,
			Body:   string(body),
		}
	}
	r := stream.NewReader(res.Body)
	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		switch e.Type {
		case stream.TypeTextDelta:
			if err := f(ctx, e.Delta); err != nil {
				return fmt.Errorf("failed to process chunk: %w", err)
			}
		case stream.TypeError:
			return stream.Error{Text: e.ErrorText}
		}
	}
}

func (c Client) Health(ctx context.Context) (resp models.HealthResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("healthz").String()
	if err != nil {
		return resp, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resp, fmt.Errorf("failed to create request: %w", err)
	}
	res, err := jsonapi.Raw(httpReq)
	if err != nil {
		return resp, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return resp, jsonapi.InvalidStatusError{Status: res.StatusCode, Body: string(body)}
	}
	err = json.NewDecoder(res.Body).Decode(&resp)
	return resp, err
}
