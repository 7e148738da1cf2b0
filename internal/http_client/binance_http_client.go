package http_client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"PerpExchange/internal/config"
	"PerpExchange/internal/domain/models"
)

// BinanceHTTPClient polls Binance's spot ticker endpoint for the mark
// prices of the configured markets.
type BinanceHTTPClient struct {
	baseURL  string
	endpoint string
	streams  []string
	log      *slog.Logger
	client   *http.Client
}

func New(cfg config.FeedConfig, log *slog.Logger) *BinanceHTTPClient {
	return &BinanceHTTPClient{
		baseURL:  cfg.BaseURL,
		endpoint: cfg.Endpoint,
		streams:  cfg.Streams,
		log:      log,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (pr *BinanceHTTPClient) GetPrices(ctx context.Context) ([]models.PriceResponse, error) {
	log := pr.log.With("method", "GetPrices")

	reqUrl := fmt.Sprintf("%s%s%s", pr.baseURL, pr.endpoint, pr.addParamsToUrl())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		log.Error("failed to create request", "error", err)
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := pr.client.Do(req)
	if err != nil {
		log.Error("failed to make request", "error", err)
		return nil, fmt.Errorf("could not make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error("unexpected status code",
			"status", resp.StatusCode,
			"response", string(body))
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	priceResp := []models.PriceResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&priceResp); err != nil {
		log.Error("failed to decode response", "error", err)
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return priceResp, nil
}

func (pr *BinanceHTTPClient) addParamsToUrl() string {
	params := "?symbols=["
	for i, stream := range pr.streams {
		params = fmt.Sprintf("%s\"%s\"", params, stream)
		if i != len(pr.streams)-1 {
			params = fmt.Sprintf("%s,", params)
		}
	}
	params = fmt.Sprintf("%s]", params)

	return params
}
