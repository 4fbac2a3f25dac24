package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/sunutaxe/payment-service/internal"
)

type DirectoryConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPPayerDirectory resolves payer snapshots from the municipal tax
// registry. A payer unknown to the registry is not an error; the receipt
// is issued from the ledger fields alone.
type HTTPPayerDirectory struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

func NewHTTPPayerDirectory(cfg DirectoryConfig, logger *slog.Logger) *HTTPPayerDirectory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPayerDirectory{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type payerRecord struct {
	Name            string `json:"name"`
	PropertyID      string `json:"property_id"`
	PropertyAddress string `json:"property_address"`
	TaxPeriod       string `json:"tax_period"`
}

func (d *HTTPPayerDirectory) Lookup(ctx context.Context, payerID string) (*PayerDetails, error) {
	path := fmt.Sprintf("%s/v1/payers/%s", d.baseURL, url.PathEscape(payerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, errors.NewInternalError("failed to build payer directory request", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.NewInternalError("payer directory request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewInternalError("failed to read payer directory response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		d.logger.Warn("payer not found in directory", "payer_id", payerID)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewInternalError(
			fmt.Sprintf("payer directory returned status %d", resp.StatusCode), nil)
	}

	var record payerRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, errors.NewInternalError("failed to decode payer directory response", err)
	}

	return &PayerDetails{
		Name:            record.Name,
		PropertyID:      record.PropertyID,
		PropertyAddress: record.PropertyAddress,
		TaxPeriod:       record.TaxPeriod,
	}, nil
}
