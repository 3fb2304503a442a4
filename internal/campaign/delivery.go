package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/outreach/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

// ReasonGatewayUnavailable is recorded on items rejected while the breaker is open.
const ReasonGatewayUnavailable = "delivery gateway unavailable"

const (
	messagesPath      = "/v1/messages"
	maxErrorBodyBytes = 4 << 10
	statusSent        = "sent"
)

var errGatewayStatus = errors.New("delivery gateway error")

// Outcome is the result of one delivery attempt: either sent, or rejected with a reason.
type Outcome struct {
	Sent   bool
	Reason string
}

func Sent() Outcome                  { return Outcome{Sent: true} }
func Rejected(reason string) Outcome { return Outcome{Reason: reason} }

// DeliveryClient sends one rendered message to one handle. An error means the
// attempt could not be made at all; a refusal by the platform is a Rejected outcome.
type DeliveryClient interface {
	AttemptSend(ctx context.Context, handle, message string) (Outcome, error)
}

// GatewayConfig configures GatewayClient.
type GatewayConfig struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

// GatewayClient posts messages to an HTTP delivery gateway behind a circuit breaker.
// Rejections are answers, not failures, so only transport errors and 5xx
// responses count toward opening the circuit.
type GatewayClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	log        logger.Logger
}

type sendRequest struct {
	Handle  string `json:"handle"`
	Message string `json:"message"`
}

type sendResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func NewGatewayClient(cfg GatewayConfig, log logger.Logger) *GatewayClient {
	c := &GatewayClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}

	c.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.OpenTimeout,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			log.Warn("Delivery gateway circuit changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})

	return c
}

// AttemptSend implements DeliveryClient.
func (c *GatewayClient) AttemptSend(ctx context.Context, handle, message string) (Outcome, error) {
	var outcome Outcome

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		outcome, sendErr = c.post(ctx, handle, message)
		return sendErr
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return Rejected(ReasonGatewayUnavailable), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	return outcome, nil
}

func (c *GatewayClient) post(ctx context.Context, handle, message string) (Outcome, error) {
	body, err := json.Marshal(sendRequest{Handle: handle, Message: message})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return Outcome{}, fmt.Errorf("%w: status %d", errGatewayStatus, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return Rejected(rejectionReason(resp)), nil
	}

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Outcome{}, fmt.Errorf("decode send response: %w", err)
	}

	if decoded.Status == statusSent {
		return Sent(), nil
	}
	if decoded.Reason == "" {
		decoded.Reason = "rejected by delivery gateway"
	}

	return Rejected(decoded.Reason), nil
}

// rejectionReason prefers the gateway's own explanation over the status text.
func rejectionReason(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var decoded sendResponse
	if json.Unmarshal(data, &decoded) == nil && decoded.Reason != "" {
		return decoded.Reason
	}

	return fmt.Sprintf("rejected by delivery gateway: %s", http.StatusText(resp.StatusCode))
}
