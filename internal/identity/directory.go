package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"marketchat/internal/domain"
)

// HTTPDirectory resolves profiles against the identity service's REST
// API (GET {base}/users/{id}).
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

var _ domain.ProfileDirectory = (*HTTPDirectory)(nil)

func (d *HTTPDirectory) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	endpoint := fmt.Sprintf("%s/users/%s", d.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("identity service returned %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	var p domain.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.ID == "" {
		p.ID = userID
	}
	return &p, nil
}

// StaticDirectory serves profiles from a fixed in-memory set. Used in
// tests and when no identity service is configured.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

func NewStaticDirectory(profiles ...domain.Profile) *StaticDirectory {
	d := &StaticDirectory{profiles: make(map[string]domain.Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

var _ domain.ProfileDirectory = (*StaticDirectory)(nil)

func (d *StaticDirectory) Add(p domain.Profile) {
	d.mu.Lock()
	d.profiles[p.ID] = p
	d.mu.Unlock()
}

func (d *StaticDirectory) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	d.mu.RLock()
	p, ok := d.profiles[userID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	return &p, nil
}
