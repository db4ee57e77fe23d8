// Package cli provides output and client helpers for the embedder command line.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/internal/models"
	"github.com/hyperjump/embedder/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// previewValues is how many leading values of each vector the text format shows.
const previewValues = 6

// WriteEmbeddings writes an embed response to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteEmbeddings(w io.Writer, documents []string, resp *models.VectorsResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	default:
		writeEmbeddingsText(w, documents, resp)
		return nil
	}
}

func writeEmbeddingsText(w io.Writer, documents []string, resp *models.VectorsResponse) {
	dims := 0
	if len(resp.Embeddings) > 0 {
		dims = len(resp.Embeddings[0])
	}
	fmt.Fprintf(w, "\nEmbedded %d document(s) with %s in %.3fs (%d dimensions)\n\n",
		len(resp.Embeddings), resp.Model, resp.Duration, dims)
	for i, vec := range resp.Embeddings {
		doc := ""
		if i < len(documents) {
			doc = documents[i]
		}
		fmt.Fprintf(w, "[%d] %s\n    %s\n", i, utils.Truncate(doc, 60), formatVector(vec))
	}
}

func formatVector(vec []float32) string {
	n := min(len(vec), previewValues)
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%.4f", vec[i])
	}
	s := "[" + strings.Join(parts, ", ")
	if len(vec) > n {
		s += ", ..."
	}
	return s + "]"
}

// WriteModels writes the model catalog as a table or JSON.
func WriteModels(w io.Writer, list []models.ModelInfo, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tDIMENSIONS\tPOOLING\tQUANTIZATION\tMAX TOKENS")
	for _, m := range list {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\n", m.Name, m.Dimensions, m.Pooling, m.Quantization, m.MaxTokens)
	}
	return tw.Flush()
}

// Client calls a running embedder server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: http.DefaultClient}
}

// Embed posts req to /embed with the json output format.
// A failure payload from the server is returned as an *apierror.Error of the same kind.
func (c *Client) Embed(ctx context.Context, req *models.EmbedRequest) (*models.VectorsResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	u := c.BaseURL + "/embed?" + url.Values{"output": {string(models.OutputJSON)}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var p apierror.Payload
		if json.Unmarshal(b, &p) == nil && p.Title != "" {
			return nil, &apierror.Error{Kind: apierror.Kind(p.Title), Message: p.Description, Inputs: p.Errors}
		}
		return nil, fmt.Errorf("embed failed (%d): %s", resp.StatusCode, string(b))
	}
	var out models.VectorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
