package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPSource fetches market status from the broker gateway.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPSource creates a source for the gateway at baseURL.
func NewHTTPSource(baseURL string, log zerolog.Logger) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "broker-gateway").Logger(),
	}
}

type statusResponse struct {
	Markets []Status `json:"markets"`
}

// GetMarketStatus calls GET {base}/api/markets/status?market={market}.
func (s *HTTPSource) GetMarketStatus(ctx context.Context, market string) ([]Status, error) {
	endpoint := fmt.Sprintf("%s/api/markets/status?market=%s", s.baseURL, url.QueryEscape(market))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	s.log.Debug().Int("markets", len(result.Markets)).Msg("Fetched market status")
	return result.Markets, nil
}
