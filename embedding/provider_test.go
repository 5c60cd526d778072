package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeClient struct {
	m         sync.Mutex
	dimension int
	err       error
	calls     [][]string
}

func (f *fakeClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = make([]float32, f.dimension)
		for j := range vectors[i] {
			vectors[i][j] = float32(len(text) + j)
		}
	}
	return vectors, nil
}

func TestEmbedQueryEmptyInput(t *testing.T) {
	tests := []struct {
		name              string
		client            *fakeClient
		inputs            []string
		expectedDimension int
		expectedCalls     [][]string
	}{
		{
			name:              "empty input probes once and returns a zero vector of the model dimension",
			client:            &fakeClient{dimension: 3},
			inputs:            []string{"", "   "},
			expectedDimension: 3,
			expectedCalls:     [][]string{{"placeholder"}},
		},
		{
			name:              "failed probe falls back to the default dimension",
			client:            &fakeClient{err: errors.New("bad request")},
			inputs:            []string{"", "\t\n"},
			expectedDimension: DefaultDimension,
			expectedCalls:     [][]string{{"placeholder"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.client)
			for _, input := range tt.inputs {
				v, err := p.EmbedQuery(context.Background(), input)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(v) != tt.expectedDimension {
					t.Errorf("expected dimension %d, got %d", tt.expectedDimension, len(v))
				}
				for i, f := range v {
					if f != 0 {
						t.Fatalf("expected zero vector, got %v at index %d", f, i)
					}
				}
			}
			if diff := cmp.Diff(tt.expectedCalls, tt.client.calls); diff != "" {
				t.Errorf("unexpected calls: %v", diff)
			}
		})
	}
}

func TestEmbedQueryUsesDimensionOfPreviousCall(t *testing.T) {
	client := &fakeClient{dimension: 5}
	p := New(client)
	if _, err := p.EmbedQuery(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := p.EmbedQuery(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 5 {
		t.Errorf("expected dimension 5, got %d", len(v))
	}
	if diff := cmp.Diff([][]string{{"hello"}}, client.calls); diff != "" {
		t.Errorf("expected no probe call: %v", diff)
	}
}

func TestEmbedQueryErrorsArePropagated(t *testing.T) {
	expected := errors.New("quota exceeded")
	p := New(&fakeClient{err: expected})
	_, err := p.EmbedQuery(context.Background(), "what projects has the owner built?")
	if !errors.Is(err, expected) {
		t.Errorf("expected %v, got %v", expected, err)
	}
}

func TestEmbedQueryEmptyResponse(t *testing.T) {
	p := New(&fakeClient{dimension: 0})
	_, err := p.EmbedQuery(context.Background(), "hello")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestEmbedDocuments(t *testing.T) {
	client := &fakeClient{dimension: 2}
	p := New(client)
	vectors, err := p.EmbedDocuments(context.Background(), []string{"a", "", "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := [][]float32{
		{1, 2},
		{0, 0},
		{3, 4},
	}
	if diff := cmp.Diff(expected, vectors); diff != "" {
		t.Errorf("unexpected vectors: %v", diff)
	}
	// One call per non-empty text, never batched, and no probe since the dimension is known.
	if diff := cmp.Diff([][]string{{"a"}, {"abc"}}, client.calls); diff != "" {
		t.Errorf("unexpected calls: %v", diff)
	}
}

func TestDimension(t *testing.T) {
	t.Run("probes the model", func(t *testing.T) {
		p := New(&fakeClient{dimension: 768})
		d, err := p.Dimension(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d != 768 {
			t.Errorf("expected 768, got %d", d)
		}
	})
	t.Run("returns probe errors", func(t *testing.T) {
		p := New(&fakeClient{err: errors.New("unauthorized")})
		if _, err := p.Dimension(context.Background()); err == nil {
			t.Error("expected error, got nil")
		}
	})
}
