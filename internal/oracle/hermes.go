package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// HermesSource reads quotes from a Pyth Hermes price service.
type HermesSource struct {
	baseURL    string
	httpClient *http.Client
}

var _ Source = (*HermesSource)(nil)

// NewHermesSource creates a client for baseURL, e.g. "https://hermes.pyth.network".
func NewHermesSource(baseURL string, timeout time.Duration) *HermesSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HermesSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesParsed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

type hermesResponse struct {
	Parsed []hermesParsed `json:"parsed"`
}

// Latest returns the latest quote for feed.
func (h *HermesSource) Latest(ctx context.Context, feed domain.FeedID) (domain.Quote, error) {
	quotes, err := h.LatestMany(ctx, []domain.FeedID{feed})
	if err != nil {
		return domain.Quote{}, err
	}
	q, ok := quotes[feed]
	if !ok {
		return domain.Quote{}, domain.ErrOracleUnavailable.WithDetail("feed %s missing from response", feed.Hex())
	}
	return q, nil
}

// LatestMany fetches several feeds in one request. Feeds absent from the
// response are absent from the result.
func (h *HermesSource) LatestMany(ctx context.Context, feeds []domain.FeedID) (map[domain.FeedID]domain.Quote, error) {
	params := url.Values{}
	for _, f := range feeds {
		params.Add("ids[]", f.Hex())
	}
	params.Set("parsed", "true")
	params.Set("encoding", "hex")

	body, err := h.doGet(ctx, "/v2/updates/price/latest?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("oracle/hermes: latest: %w", err)
	}

	var resp hermesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("oracle/hermes: decode: %w", err)
	}

	out := make(map[domain.FeedID]domain.Quote, len(resp.Parsed))
	for _, p := range resp.Parsed {
		q, err := p.toQuote()
		if err != nil {
			return nil, fmt.Errorf("oracle/hermes: %w", err)
		}
		out[q.FeedID] = q
	}
	return out, nil
}

func (p hermesParsed) toQuote() (domain.Quote, error) {
	id, err := domain.ParseFeedID(p.ID)
	if err != nil {
		return domain.Quote{}, err
	}
	price, err := strconv.ParseInt(p.Price.Price, 10, 64)
	if err != nil {
		return domain.Quote{}, domain.ErrPriceConversion.WithDetail("price %q", p.Price.Price)
	}
	var conf uint64
	if p.Price.Conf != "" {
		conf, err = strconv.ParseUint(p.Price.Conf, 10, 64)
		if err != nil {
			return domain.Quote{}, domain.ErrPriceConversion.WithDetail("conf %q", p.Price.Conf)
		}
	}
	return domain.Quote{
		FeedID:      id,
		Price:       price,
		Conf:        conf,
		Expo:        p.Price.Expo,
		PublishTime: time.Unix(p.Price.PublishTime, 0).UTC(),
	}, nil
}

func (h *HermesSource) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
