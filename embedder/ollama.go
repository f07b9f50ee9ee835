// Package embedder provides caller-side embedding generation for use with
// kronroe.Graph.AssertFactWithEmbedding. Embedding generation is
// explicitly not performed by the core (the core only ever persists and
// searches vectors callers supply); this package is a convenience for
// callers who need somewhere to generate them.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kronroe/kronroe"
)

// Ollama generates vector embeddings via the Ollama HTTP API
// (POST /api/embed).
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates an embedder that calls the Ollama /api/embed endpoint.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates vector embeddings for the given texts. Failures are
// reported as kronroe.KronroeError (KindExternalFault) so a caller that
// already does errors.As(err, &kronroeErr) against the core's operations
// handles an embedding failure the same way, rather than needing a second
// error type for this out-of-core collaborator.
func (e *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	data, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, kronroe.NewExternalFault("marshaling ollama embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, kronroe.NewExternalFault("building ollama embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, kronroe.NewExternalFault("calling ollama embed endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kronroe.NewExternalFault("reading ollama embed response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, kronroe.NewExternalFault(fmt.Sprintf("ollama embed returned HTTP %d: %s", resp.StatusCode, body), nil)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, kronroe.NewExternalFault("unmarshaling ollama embed response", err)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, kronroe.NewExternalFault("ollama embed response contained no embeddings", nil)
	}
	return parsed.Embeddings, nil
}

// Single embeds a single text.
func (e *Ollama) Single(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
