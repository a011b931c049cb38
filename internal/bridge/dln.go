package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ipguardian/internal/metrics"
	"ipguardian/internal/models"
)

// DLN order states as reported by the stats API
const (
	dlnStateNone               = "None"
	dlnStateCreated            = "Created"
	dlnStateFulfilled          = "Fulfilled"
	dlnStateSentUnlock         = "SentUnlock"
	dlnStateClaimedUnlock      = "ClaimedUnlock"
	dlnStateOrderCancelled     = "OrderCancelled"
	dlnStateSentOrderCancel    = "SentOrderCancel"
	dlnStateClaimedOrderCancel = "ClaimedOrderCancel"
)

// MapOrderState converts a DLN order state into a payment status
func MapOrderState(state string) (models.PaymentStatus, error) {
	switch state {
	case dlnStateFulfilled, dlnStateSentUnlock, dlnStateClaimedUnlock:
		return models.PaymentStatusConfirmed, nil
	case dlnStateOrderCancelled, dlnStateSentOrderCancel, dlnStateClaimedOrderCancel:
		return models.PaymentStatusCancelled, nil
	case dlnStateCreated, dlnStateNone, "":
		return models.PaymentStatusPending, nil
	default:
		return "", fmt.Errorf("unknown DLN order state %q", state)
	}
}

// DLNClient queries the deBridge DLN order status API
type DLNClient struct {
	apiEndpoint string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewDLNClient creates a new DLN REST API client. Requests are throttled to
// rps per second; rps <= 0 disables throttling.
func NewDLNClient(apiEndpoint string, rps float64, logger *zap.Logger) (*DLNClient, error) {
	if apiEndpoint == "" {
		return nil, fmt.Errorf("DLN API endpoint cannot be empty")
	}

	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	return &DLNClient{
		apiEndpoint: strings.TrimRight(apiEndpoint, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("dln"),
	}, nil
}

type dlnOrderResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

type dlnOrderIDsResponse struct {
	OrderIDs []struct {
		StringValue string `json:"stringValue"`
	} `json:"orderIds"`
}

// OrderStatus returns the raw state of a DLN order
//
// API endpoint: GET {apiEndpoint}/api/Orders/{orderId}
func (c *DLNClient) OrderStatus(ctx context.Context, orderID string) (string, error) {
	if orderID == "" {
		return "", fmt.Errorf("order ID cannot be empty")
	}

	var result dlnOrderResponse
	if err := c.get(ctx, "/api/Orders/"+url.PathEscape(orderID), &result); err != nil {
		return "", err
	}
	if result.Status != "" {
		return result.Status, nil
	}
	return result.State, nil
}

// OrderIDsByTx returns the DLN orders created by a source-chain transaction.
// An empty list means the transaction is not indexed yet.
//
// API endpoint: GET {apiEndpoint}/api/Transaction/{hash}/orderIds
func (c *DLNClient) OrderIDsByTx(ctx context.Context, txHash string) ([]string, error) {
	if txHash == "" {
		return nil, fmt.Errorf("tx hash cannot be empty")
	}

	var result dlnOrderIDsResponse
	if err := c.get(ctx, "/api/Transaction/"+url.PathEscape(txHash)+"/orderIds", &result); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.OrderIDs))
	for _, id := range result.OrderIDs {
		if id.StringValue != "" {
			ids = append(ids, id.StringValue)
		}
	}
	return ids, nil
}

func (c *DLNClient) get(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("DLN rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiEndpoint+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.BridgeRequests.WithLabelValues("dln", "error").Inc()
		return fmt.Errorf("failed to query DLN API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.BridgeRequests.WithLabelValues("dln", "error").Inc()
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.BridgeRequests.WithLabelValues("dln", "http_"+strconv.Itoa(resp.StatusCode)).Inc()
		return fmt.Errorf("DLN API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		metrics.BridgeRequests.WithLabelValues("dln", "error").Inc()
		return fmt.Errorf("failed to parse response: %w", err)
	}

	metrics.BridgeRequests.WithLabelValues("dln", "ok").Inc()
	c.logger.Debug("DLN API request completed", zap.String("path", path))
	return nil
}
