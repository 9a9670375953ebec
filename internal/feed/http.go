package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the OrderKuota gateway hosting the mutation feed.
	DefaultBaseURL = "https://gateway.okeconnect.com"
	DefaultTimeout = 10 * time.Second

	userAgent  = "QRIS-Gateway/1.0"
	dateLayout = "2006-01-02 15:04:05"
)

// FeedZone is the zone OrderKuota writes mutation dates in (WIB, UTC+7).
var FeedZone = time.FixedZone("WIB", 7*60*60)

// Options configures an HTTPClient.
type Options struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	Timeout    time.Duration
}

// HTTPClient reads the merchant QRIS mutation history over HTTPS.
type HTTPClient struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient constructs a feed client. A zero timeout falls back to
// DefaultTimeout so a stalled feed never blocks allocation.
func NewHTTPClient(logger *slog.Logger, opts Options) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &HTTPClient{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

type mutationResponse struct {
	Status string           `json:"status"`
	Data   []mutationRecord `json:"data"`
}

type mutationRecord struct {
	Date   string          `json:"date"`
	Amount json.RawMessage `json:"amount"`
	Type   string          `json:"type"`
	QRIS   string          `json:"qris"`
	Brand  brand           `json:"brand"`
}

type brand struct {
	Name string `json:"name"`
}

func (b *brand) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		b.Name = name
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	b.Name = obj.Name
	return nil
}

func (c *HTTPClient) endpoint() string {
	base := strings.TrimRight(c.opts.BaseURL, "/")
	return fmt.Sprintf("%s/api/mutasi/qris/%s/%s", base,
		url.PathEscape(c.opts.MerchantID), url.PathEscape(c.opts.APIKey))
}

// FetchRecentCredits implements Client.
func (c *HTTPClient) FetchRecentCredits(ctx context.Context) ([]Credit, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), nil)
	if err != nil {
		return nil, &Error{Op: "build request", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &Error{Op: "fetch", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var payload mutationResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	if !strings.EqualFold(payload.Status, "success") {
		return nil, &Error{Op: "fetch", Err: fmt.Errorf("feed reported status %q", payload.Status)}
	}

	credits := make([]Credit, 0, len(payload.Data))
	for _, rec := range payload.Data {
		amount, err := parseAmount(rec.Amount)
		if err != nil {
			c.logger.Debug("skipping mutation with unparsable amount", "amount", string(rec.Amount))
			continue
		}
		credit := Credit{
			Type:    rec.Type,
			Channel: rec.QRIS,
			Amount:  amount,
			Brand:   rec.Brand.Name,
		}
		if ts, err := time.ParseInLocation(dateLayout, rec.Date, FeedZone); err == nil {
			credit.Date = ts
		}
		credits = append(credits, credit)
	}
	c.logger.Debug("fetched settlement feed", "records", len(credits))
	return credits, nil
}

// parseAmount accepts integer amounts with optional thousands separators, and
// truncates a fractional part the way integer parsing of "10000.00" would.
func parseAmount(msg json.RawMessage) (int64, error) {
	raw := strings.Trim(strings.TrimSpace(string(msg)), `"`)
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	return strconv.ParseInt(raw, 10, 64)
}
