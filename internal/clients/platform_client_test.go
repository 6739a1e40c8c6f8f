package clients

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"wallet-engine/internal/health"
	"wallet-engine/internal/interfaces"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func newSession(t *testing.T) interfaces.Session {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return interfaces.Session{
		WalletID: 1,
		Address:  crypto.PubkeyToAddress(k.PublicKey),
		Key:      hex.EncodeToString(crypto.FromECDSA(k)),
	}
}

// verify checks the request signature the way the platform would
func verify(r *http.Request) bool {
	sig, err := hexutil.Decode(r.Header.Get("X-Wallet-Signature"))
	if err != nil || len(sig) != 65 {
		return false
	}
	ts, err := strconv.ParseInt(r.Header.Get("X-Wallet-Timestamp"), 10, 64)
	if err != nil {
		return false
	}
	addr := r.Header.Get("X-Wallet-Address")
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(SignedMessage(addr, ts))), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub).Hex() == addr
}

func TestPlatformClient_SignedRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !verify(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/quests/complete":
			w.Write([]byte(`{"completed":3}`))
		case "/api/v1/game/play":
			w.Write([]byte(`{"won":true}`))
		case "/api/v1/faucet/claim":
			w.Write([]byte(`{"tx_hash":"0xfeed"}`))
		case "/api/v1/social/engage":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewPlatformClient(srv.URL, time.Second)
	s := newSession(t)
	ctx := context.Background()

	if n, err := c.CompleteQuests(ctx, s); err != nil || n != 3 {
		t.Errorf("CompleteQuests = %d, %v", n, err)
	}
	if won, err := c.Play(ctx, s); err != nil || !won {
		t.Errorf("Play = %v, %v", won, err)
	}
	if tx, err := c.Claim(ctx, s); err != nil || tx != "0xfeed" {
		t.Errorf("Claim = %q, %v", tx, err)
	}
	if err := c.Engage(ctx, s, "tok"); err != nil {
		t.Errorf("Engage = %v", err)
	}
}

func TestPlatformClient_ErrorClasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/faucet/claim":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"code":"already_claimed","error":"come back tomorrow"}`))
		case "/api/v1/social/engage":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"code":"needs_verification","error":"verify account"}`))
		case "/api/v1/game/play":
			w.WriteHeader(http.StatusBadGateway)
		case "/api/v1/quests/complete":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":"wallet_not_linked","error":"wallet not connected to a profile"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":"bad_request","error":"nope"}`))
		}
	}))
	defer srv.Close()

	c := NewPlatformClient(srv.URL, time.Second)
	s := newSession(t)
	ctx := context.Background()

	if _, err := c.Claim(ctx, s); !errors.Is(err, interfaces.ErrAlreadyClaimed) {
		t.Errorf("Expected ErrAlreadyClaimed, got %v", err)
	}
	if err := c.Engage(ctx, s, "tok"); !errors.Is(err, interfaces.ErrNeedsVerification) {
		t.Errorf("Expected ErrNeedsVerification, got %v", err)
	}
	if _, err := c.Play(ctx, s); !health.IsConnectivity(err) {
		t.Errorf("Expected connectivity error for 502, got %v", err)
	}

	_, err := c.CompleteQuests(ctx, s)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "wallet_not_linked" || health.IsConnectivity(err) {
		t.Errorf("Expected logical APIError, got %v", err)
	}
	var le *health.LogicalError
	if !errors.As(err, &le) || le.Retry {
		t.Errorf("Expected a final logical error for 400, got %v", err)
	}
}

func TestPlatformClient_ServerErrorRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"internal","error":"connection pool exhausted"}`))
	}))
	defer srv.Close()

	_, err := NewPlatformClient(srv.URL, time.Second).CompleteQuests(context.Background(), newSession(t))
	var le *health.LogicalError
	if !errors.As(err, &le) || !le.Retry {
		t.Errorf("Expected a retryable logical error for 500, got %v", err)
	}
	if health.IsConnectivity(err) {
		t.Errorf("Expected 500 not to count against the proxy, got %v", err)
	}
}

func TestPlatformClient_MalformedProxyIsConnectivity(t *testing.T) {
	c := NewPlatformClient("http://platform.invalid", time.Second)
	s := newSession(t)
	s.Proxy = "1.2.3.4:8080:user:pass"

	_, err := c.CompleteQuests(context.Background(), s)
	var ce *health.ConnectivityError
	if !errors.As(err, &ce) {
		t.Errorf("Expected a malformed proxy to be connectivity, got %v", err)
	}
}

func TestPlatformClient_DeadProxyIsConnectivity(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	c := NewPlatformClient("http://platform.invalid", time.Second)
	s := newSession(t)
	s.Proxy = deadURL

	_, err := c.CompleteQuests(context.Background(), s)
	if !health.IsConnectivity(err) {
		t.Errorf("Expected connectivity error through a dead proxy, got %v", err)
	}
}

func TestPlatformClient_ProxyRouting(t *testing.T) {
	var seen string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.String()
		w.Write([]byte(`{"won":false}`))
	}))
	defer proxy.Close()

	c := NewPlatformClient("http://platform.example", time.Second)
	s := newSession(t)
	s.Proxy = proxy.URL

	if _, err := c.Play(context.Background(), s); err != nil {
		t.Fatalf("Play through proxy failed: %v", err)
	}
	if !strings.HasPrefix(seen, "http://platform.example/api/v1/game/play") {
		t.Errorf("Expected request forwarded via proxy, proxy saw %q", seen)
	}
}
