// Package registration implements the one-shot HTTP exchange that trades
// service metadata for a durable service identity (C2 of SPEC_FULL.md).
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orra-dev/orra-sdk-go/pkg/identity"
	"github.com/orra-dev/orra-sdk-go/pkg/orraerr"
	"github.com/orra-dev/orra-sdk-go/pkg/schema"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

// clientTimeout mirrors the Python original's httpx.AsyncClient(timeout=30.0).
const clientTimeout = 30 * time.Second

// Options describes a single registration attempt.
type Options struct {
	BaseURL     string
	APIKey      string
	PriorID     *string
	Name        string
	Description string
	Schema      schema.Pair
	Version     int
	Kind        wire.HandlerKind
	Revertible  bool
}

type requestBody struct {
	ID          *string       `json:"id,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Kind        string        `json:"kind"`
	Version     int           `json:"version"`
	Revertible  bool          `json:"revertible"`
	Schema      requestSchema `json:"schema"`
}

type requestSchema struct {
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

type responseBody struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// Client performs registration calls against one control-plane base URL.
type Client struct {
	httpClient *http.Client
}

// New builds a Client with the SDK's standard 30s request timeout.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: clientTimeout}}
}

// Register exchanges opts for a durable identity.ServiceIdentity. Any
// transport failure or non-2xx response is reported as
// orraerr.ServiceRegistrationError.
func (c *Client) Register(ctx context.Context, opts Options) (identity.ServiceIdentity, error) {
	body := requestBody{
		ID:          opts.PriorID,
		Name:        opts.Name,
		Description: opts.Description,
		Kind:        string(opts.Kind),
		Version:     opts.Version,
		Revertible:  opts.Revertible,
		Schema: requestSchema{
			Input:  opts.Schema.Input.Raw,
			Output: opts.Schema.Output.Raw,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return identity.ServiceIdentity{}, orraerr.NewServiceRegistrationError(fmt.Errorf("encode request: %w", err))
	}

	url := opts.BaseURL + "/register/service"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return identity.ServiceIdentity{}, orraerr.NewServiceRegistrationError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return identity.ServiceIdentity{}, orraerr.NewServiceRegistrationError(err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return identity.ServiceIdentity{}, orraerr.NewServiceRegistrationError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return identity.ServiceIdentity{}, orraerr.NewServiceRegistrationError(
			fmt.Errorf("registration rejected: status %d: %s", resp.StatusCode, string(respData)))
	}

	var parsed responseBody
	if err := json.Unmarshal(respData, &parsed); err != nil {
		return identity.ServiceIdentity{}, orraerr.NewServiceRegistrationError(fmt.Errorf("decode response: %w", err))
	}

	return identity.ServiceIdentity{ID: parsed.ID, Version: parsed.Version}, nil
}
