package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type FeedStatus string

const (
	FeedStatusTrading FeedStatus = "trading"
	FeedStatusStale   FeedStatus = "stale"
	FeedStatusUnknown FeedStatus = "unknown"
)

// PriceFeed is one oracle observation: a fixed-point price with an exponent
// and a confidence interval in the same scale.
type PriceFeed struct {
	ID          string
	Status      FeedStatus
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime time.Time
}

// FeedClient fetches the latest observations for a set of oracle feed ids.
type FeedClient interface {
	GetLatestPriceFeeds(ctx context.Context, feedIDs []string) ([]PriceFeed, error)
	Close() error
}

// maxFeedAge is how old a published price may be before the feed is treated
// as not trading.
const maxFeedAge = 60 * time.Second

// HTTPFeedClient reads a Pyth-style price service over HTTP.
type HTTPFeedClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPFeedClient creates a new price service client
func NewHTTPFeedClient(baseURL string) *HTTPFeedClient {
	return &HTTPFeedClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// feedResponse mirrors the price service payload. Price and confidence come
// over the wire as decimal strings.
type feedResponse struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

func (c *HTTPFeedClient) GetLatestPriceFeeds(ctx context.Context, feedIDs []string) ([]PriceFeed, error) {
	query := url.Values{}
	for _, id := range feedIDs {
		query.Add("ids[]", id)
	}

	endpoint := fmt.Sprintf("%s/api/latest_price_feeds?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price feeds: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price service returned status %d", resp.StatusCode)
	}

	var payload []feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed price service response: %w", err)
	}

	feeds := make([]PriceFeed, 0, len(payload))
	for _, item := range payload {
		price, err := strconv.ParseInt(item.Price.Price, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed feed price %q: %w", item.Price.Price, err)
		}
		conf, err := strconv.ParseUint(item.Price.Conf, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed feed confidence %q: %w", item.Price.Conf, err)
		}

		publishTime := time.Unix(item.Price.PublishTime, 0)
		status := FeedStatusTrading
		if c.now().Sub(publishTime) > maxFeedAge {
			status = FeedStatusStale
		}

		feeds = append(feeds, PriceFeed{
			ID:          item.ID,
			Status:      status,
			Price:       price,
			Conf:        conf,
			Expo:        item.Price.Expo,
			PublishTime: publishTime,
		})
	}

	return feeds, nil
}

func (c *HTTPFeedClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
