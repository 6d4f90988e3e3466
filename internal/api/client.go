package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/example/compliance-viewer/internal/logging"
	"github.com/example/compliance-viewer/pkg/transaction"
)

const (
	sessionPath      = "/auth/session"
	transactionsPath = "/blockchain/transactions"

	maxErrorBody = 512
)

// SessionResponse is returned by the session exchange
type SessionResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
	ExpiresAt   string `json:"expiresAt"`
}

type sessionRequest struct {
	AuthorizationLevel int `json:"authorizationLevel"`
}

// Options configures a Client
type Options struct {
	BaseURL            string
	APIKey             string
	AuthorizationLevel int
	PageSize           int
	Timeout            time.Duration
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit. Zero keeps it closed.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// Client talks to the compliance ledger REST API
type Client struct {
	base      string
	apiKey    string
	authLevel int
	pageSize  int
	h         *http.Client
	brk       *gobreaker.CircuitBreaker
	log       zerolog.Logger
}

// New creates a client. The API key is only ever sent to the session endpoint.
func New(opts Options, log zerolog.Logger) *Client {
	h := opts.HTTPClient
	if h == nil {
		h = &http.Client{Timeout: opts.Timeout}
	}
	log = logging.Component(log, "api")

	failures := opts.BreakerFailures
	brk := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "compliance-api",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		authLevel: opts.AuthorizationLevel,
		pageSize:  opts.PageSize,
		h:         h,
		brk:       brk,
		log:       log,
	}
}

// CreateSession exchanges the pre-shared API key for a session token:
// POST /auth/session
func (c *Client) CreateSession(ctx context.Context) (SessionResponse, error) {
	body, err := json.Marshal(sessionRequest{AuthorizationLevel: c.authLevel})
	if err != nil {
		return SessionResponse{}, err
	}

	var out SessionResponse
	if err := c.call(ctx, http.MethodPost, c.base+sessionPath, c.apiKey, body, &out); err != nil {
		return SessionResponse{}, err
	}
	if out.AccessToken == "" {
		return SessionResponse{}, fmt.Errorf("session response from %s has no access token", c.base+sessionPath)
	}
	return out, nil
}

// ListTransactions fetches a single bounded page of transactions with expanded data:
// GET /blockchain/transactions?expandData=true&pageSize=N
func (c *Client) ListTransactions(ctx context.Context, token string) ([]transaction.Transaction, error) {
	q := url.Values{}
	q.Set("expandData", "true")
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	endpoint := c.base + transactionsPath + "?" + q.Encode()

	var page transaction.Page
	if err := c.call(ctx, http.MethodGet, endpoint, token, nil, &page); err != nil {
		return nil, err
	}
	if page.Items == nil {
		return []transaction.Transaction{}, nil
	}
	return page.Items, nil
}

// GetTransaction fetches one transaction: GET /blockchain/transactions/{id}
func (c *Client) GetTransaction(ctx context.Context, token, id string) (transaction.Transaction, error) {
	endpoint := c.base + transactionsPath + "/" + url.PathEscape(id)

	var tx transaction.Transaction
	if err := c.call(ctx, http.MethodGet, endpoint, token, nil, &tx); err != nil {
		return transaction.Transaction{}, err
	}
	return tx, nil
}

// call performs one bearer-authenticated JSON request through the breaker
func (c *Client) call(ctx context.Context, method, endpoint, bearer string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("url", endpoint).Str("request_id", requestID).Msg("request failed")
		return err
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("url", endpoint).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(method, endpoint, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w: %w", endpoint, errDecode, err)
	}
	return nil
}

// do sends the request through the circuit breaker. Transport errors and
// server errors count against the breaker; client errors do not.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	out, err := c.brk.Execute(func() (interface{}, error) {
		resp, err := c.h.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			return nil, newStatusError(req.Method, req.URL.String(), resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

func newStatusError(method, endpoint string, resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     method,
		URL:        endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
	}
}
