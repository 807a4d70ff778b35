package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

// HTTPStore talks to a remote blob service:
// POST {BaseURL}/v1/blobs returns {"id": ...}, GET {BaseURL}/v1/blobs/{id}
// returns the bytes.
type HTTPStore struct {
	BaseURL string
	Client  resiliency.Doer
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  resiliency.NewEnhancedClient("blob-store"),
	}
}

// StoreResponse is the body returned by a blob upload.
type StoreResponse struct {
	ID string `json:"id"`
}

func (s *HTTPStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/blobs", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("blob upload: status %d", resp.StatusCode)
	}

	var out StoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("blob upload: decode response: %w", err)
	}
	if err := ValidateID(out.ID); err != nil {
		return "", fmt.Errorf("blob upload: server issued %w", err)
	}
	return out.ID, nil
}

func (s *HTTPStore) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.get(ctx, http.MethodGet, id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, MaxBlobSize+1))
}

func (s *HTTPStore) Exists(ctx context.Context, id string) (bool, error) {
	resp, err := s.get(ctx, http.MethodHead, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

// Delete is not offered by the remote service; blobs expire server side.
func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	return fmt.Errorf("blob delete: %w", errors.ErrUnsupported)
}

func (s *HTTPStore) get(ctx context.Context, method, id string) (*http.Response, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+"/v1/blobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob fetch: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("blob fetch: status %d", resp.StatusCode)
	}
}
