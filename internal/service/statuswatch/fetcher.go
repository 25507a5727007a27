package statuswatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	xhttp "SignalLab/pkg/http"
)

// HTTPFetcher reads GET /api/models/:id/status with a bearer token.
type HTTPFetcher struct {
	baseURL string
	client  *xhttp.Client

	mu    sync.RWMutex
	token string
}

func NewHTTPFetcher(baseURL, token string, client *xhttp.Client) *HTTPFetcher {
	if client == nil {
		client = xhttp.NewClient()
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		token:   token,
	}
}

// SetToken replaces the bearer token, typically before
// Watcher.Reauthenticated.
func (f *HTTPFetcher) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *HTTPFetcher) FetchStatus(ctx context.Context, id string) (*Snapshot, error) {
	f.mu.RLock()
	token := f.token
	f.mu.RUnlock()

	var env struct {
		Data *Snapshot `json:"data"`
	}
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     f.baseURL + "/api/models/" + url.PathEscape(id) + "/status",
		Headers: map[string]string{"Authorization": "Bearer " + token},
	}, &env)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) {
			switch se.Code {
			case http.StatusNotFound:
				return nil, fmt.Errorf("fetch status %s: %w", id, ErrNotFound)
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("fetch status %s: %w", id, ErrUnauthorized)
			}
		}
		return nil, fmt.Errorf("fetch status %s: %w", id, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("fetch status %s: empty response", id)
	}
	if env.Data.ID == "" {
		env.Data.ID = id
	}
	return env.Data, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
