package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"wallet-engine/internal/health"
	"wallet-engine/internal/interfaces"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PlatformClient JSON client for the activity platform. Every request is
// routed through the wallet's proxy and signed with the wallet's key.
type PlatformClient struct {
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client // proxy URL -> client
	now     func() time.Time
}

// APIError non-2xx answer from the platform
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned %d %s: %s", e.Status, e.Code, e.Message)
}

// NewPlatformClient creates a new platform client
func NewPlatformClient(baseURL string, timeout time.Duration) *PlatformClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PlatformClient{
		baseURL: baseURL,
		timeout: timeout,
		clients: make(map[string]*http.Client),
		now:     time.Now,
	}
}

// CompleteQuests POST /api/v1/quests/complete
func (c *PlatformClient) CompleteQuests(ctx context.Context, s interfaces.Session) (int, error) {
	var resp struct {
		Completed int `json:"completed"`
	}
	if err := c.post(ctx, s, "/api/v1/quests/complete", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Completed, nil
}

// Play POST /api/v1/game/play
func (c *PlatformClient) Play(ctx context.Context, s interfaces.Session) (bool, error) {
	var resp struct {
		Won bool `json:"won"`
	}
	if err := c.post(ctx, s, "/api/v1/game/play", nil, &resp); err != nil {
		return false, err
	}
	return resp.Won, nil
}

// Claim POST /api/v1/faucet/claim
func (c *PlatformClient) Claim(ctx context.Context, s interfaces.Session) (string, error) {
	var resp struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.post(ctx, s, "/api/v1/faucet/claim", nil, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// Engage POST /api/v1/social/engage
func (c *PlatformClient) Engage(ctx context.Context, s interfaces.Session, token string) error {
	return c.post(ctx, s, "/api/v1/social/engage", map[string]string{"token": token}, nil)
}

// SignedMessage text the wallet signs for a request at ts
func SignedMessage(address string, ts int64) string {
	return fmt.Sprintf("wallet-engine login\naddress: %s\ntimestamp: %d", address, ts)
}

func (c *PlatformClient) post(ctx context.Context, s interfaces.Session, path string, body interface{}, out interface{}) error {
	if body == nil {
		body = map[string]string{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.sign(req, s); err != nil {
		return err
	}

	client, err := c.client(s.Proxy)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return health.Connectivity(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return health.Connectivity(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return classify(apiErr)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// classify maps platform answers onto the error taxonomy. Only gateway and
// proxy statuses count against the route; everything else the platform said
// on purpose, and 4xx answers are final.
func classify(e *APIError) error {
	switch {
	case e.Status == http.StatusConflict || e.Code == "already_claimed":
		return health.Logical(fmt.Errorf("%w: %v", interfaces.ErrAlreadyClaimed, e))
	case e.Code == "needs_verification":
		return health.Logical(fmt.Errorf("%w: %v", interfaces.ErrNeedsVerification, e))
	case e.Status == http.StatusProxyAuthRequired,
		e.Status == http.StatusBadGateway,
		e.Status == http.StatusServiceUnavailable,
		e.Status == http.StatusGatewayTimeout:
		return health.Connectivity(e)
	case e.Status == http.StatusTooManyRequests, e.Status >= 500:
		return health.LogicalRetryable(e)
	}
	return health.Logical(e)
}

func (c *PlatformClient) sign(req *http.Request, s interfaces.Session) error {
	key, err := crypto.HexToECDSA(trimHex(s.Key))
	if err != nil {
		return fmt.Errorf("invalid session key: %w", err)
	}
	ts := c.now().Unix()
	msg := SignedMessage(s.Address.Hex(), ts)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set("X-Wallet-Address", s.Address.Hex())
	req.Header.Set("X-Wallet-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Wallet-Signature", hexutil.Encode(sig))
	return nil
}

// client returns the cached HTTP client for a proxy; "" means direct
func (c *PlatformClient) client(proxy string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[proxy]; ok {
		return hc, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			// a malformed stored proxy can never route; retire it
			return nil, health.Connectivity(fmt.Errorf("invalid proxy url: %w", err))
		}
		transport.Proxy = http.ProxyURL(u)
	}
	hc := &http.Client{Transport: transport, Timeout: c.timeout}
	c.clients[proxy] = hc
	return hc, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
