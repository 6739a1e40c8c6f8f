package actions

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wallet-engine/internal/clients"
	"wallet-engine/internal/db/dbtest"
	"wallet-engine/internal/health"
	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/logging"
	"wallet-engine/internal/models"
	"wallet-engine/internal/repository"
	"wallet-engine/internal/reserve"
	"wallet-engine/internal/retry"
	"wallet-engine/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeQuests struct {
	calls   int
	proxies []string
	errs    []error
}

func (f *fakeQuests) CompleteQuests(_ context.Context, s interfaces.Session) (int, error) {
	f.calls++
	f.proxies = append(f.proxies, s.Proxy)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return 2, nil
}

type fakeGame struct {
	calls int
	won   bool
}

func (f *fakeGame) Play(context.Context, interfaces.Session) (bool, error) {
	f.calls++
	return f.won, nil
}

type fakeFaucet struct {
	calls int
	err   error
	onTx  func()
}

func (f *fakeFaucet) Claim(context.Context, interfaces.Session) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.onTx != nil {
		f.onTx()
	}
	return "0xabc", nil
}

type fakeSocial struct {
	calls int
	err   error
}

func (f *fakeSocial) Engage(context.Context, interfaces.Session, string) error {
	f.calls++
	return f.err
}

type fakeBalances struct {
	mu      sync.Mutex
	balance *big.Int
	polls   int
}

func (f *fakeBalances) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeBalances) set(v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = big.NewInt(v)
}

type fixture struct {
	repo    repository.WalletRepository
	reserve *reserve.FilePool
	runner  *Runner
	quests  *fakeQuests
	game    *fakeGame
	faucet  *fakeFaucet
	social  *fakeSocial
	balance *fakeBalances
	now     time.Time
}

func newFixture(t *testing.T, reserveLines string) *fixture {
	t.Helper()
	repo := repository.NewWalletRepository(dbtest.New(t))

	path := filepath.Join(t.TempDir(), "reserve_proxy.txt")
	if err := os.WriteFile(path, []byte(reserveLines), 0o644); err != nil {
		t.Fatal(err)
	}
	pool := reserve.NewFilePool(path)
	log := logging.Discard()
	monitor := health.NewMonitor(repo, reserve.Pools{models.ResourceProxy: pool}, health.Options{
		Threshold:   3,
		AutoReplace: map[models.ResourceKind]bool{models.ResourceProxy: true},
	}, nil, log)

	f := &fixture{
		repo:    repo,
		reserve: pool,
		quests:  &fakeQuests{},
		game:    &fakeGame{won: true},
		faucet:  &fakeFaucet{},
		social:  &fakeSocial{},
		balance: &fakeBalances{balance: big.NewInt(0)},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.runner = NewRunner(Deps{
		Repo:     repo,
		Monitor:  monitor,
		Retry:    retry.New(3, 0, log),
		Log:      log,
		Quests:   f.quests,
		Games:    f.game,
		Faucet:   f.faucet,
		Social:   f.social,
		Balances: f.balance,
	}, Timing{
		AfterCompletion: Window{Min: time.Hour, Max: time.Hour},
		LongDelay:       Window{Min: 6 * time.Hour, Max: 6 * time.Hour},
	}, Limits{
		FaucetCooldown:      24 * time.Hour,
		DepositTimeout:      time.Second,
		DepositPollInterval: 10 * time.Millisecond,
		MaxCompletedGames:   2,
	})
	f.runner.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) wallet(t *testing.T) *models.Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	proxy := "http://old:8080"
	token := "social-token"
	w := &models.Wallet{
		PrivateKey:  hex.EncodeToString(crypto.FromECDSA(key)),
		Address:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Proxy:       &proxy,
		SocialToken: &token,
	}
	if err := f.repo.Insert(context.Background(), w); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return w
}

func (f *fixture) reload(t *testing.T, w *models.Wallet) *models.Wallet {
	t.Helper()
	got, err := f.repo.GetByID(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	return got
}

func TestQuests_NotEligibleIsNoOp(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)
	future := f.now.Add(time.Hour)
	if _, err := f.repo.AdvanceSchedule(context.Background(), w.ID, models.NextAction, future); err != nil {
		t.Fatal(err)
	}
	before := f.reload(t, w)

	worked, err := f.runner.Quests(context.Background(), before)
	if err != nil || worked {
		t.Fatalf("Expected silent no-op, got worked=%v err=%v", worked, err)
	}
	if f.quests.calls != 0 {
		t.Errorf("Expected no remote call, got %d", f.quests.calls)
	}
	if after := f.reload(t, w); !reflect.DeepEqual(before, after) {
		t.Errorf("Expected record unchanged\nbefore: %+v\nafter:  %+v", before, after)
	}
}

func TestQuests_SuccessReschedules(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)

	worked, err := f.runner.Quests(context.Background(), w)
	if err != nil || !worked {
		t.Fatalf("Expected quests to run, got worked=%v err=%v", worked, err)
	}

	got := f.reload(t, w)
	if got.NextActionTime == nil || !got.NextActionTime.Equal(f.now.Add(time.Hour)) {
		t.Errorf("Expected next action at %v, got %v", f.now.Add(time.Hour), got.NextActionTime)
	}
	if w.NextActionTime == nil || !w.NextActionTime.Equal(*got.NextActionTime) {
		t.Error("Expected in-memory wallet to carry the new schedule")
	}
	if f.quests.proxies[0] != "http://old:8080" {
		t.Errorf("Expected call through wallet proxy, got %q", f.quests.proxies[0])
	}
}

func TestQuests_LongDelayChance(t *testing.T) {
	f := newFixture(t, "")
	f.runner.timing.LongDelayChance = 100
	w := f.wallet(t)

	if _, err := f.runner.Quests(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if got := f.reload(t, w); !got.NextActionTime.Equal(f.now.Add(6 * time.Hour)) {
		t.Errorf("Expected long delay, got %v", got.NextActionTime)
	}
}

func TestQuests_ProxyReplacedAfterThreshold(t *testing.T) {
	f := newFixture(t, "http://fresh:9000\n")
	w := f.wallet(t)
	refused := errors.New("proxy connection refused")
	f.quests.errs = []error{refused, refused, refused}
	f.runner.deps.Retry = retry.New(4, 0, logging.Discard())

	worked, err := f.runner.Quests(context.Background(), w)
	if err != nil || !worked {
		t.Fatalf("Expected the fourth attempt to succeed, got worked=%v err=%v", worked, err)
	}
	if f.quests.proxies[3] != "http://fresh:9000" {
		t.Errorf("Expected retry through the replacement proxy, got %v", f.quests.proxies)
	}

	got := f.reload(t, w)
	if got.ProxyURL() != "http://fresh:9000" || got.ProxyStatus != models.ResourceStatusOK {
		t.Errorf("Expected fresh proxy with OK status, got %q %s", got.ProxyURL(), got.ProxyStatus)
	}
	if n, _ := f.reserve.Len(context.Background()); n != 0 {
		t.Errorf("Expected reserve consumed, %d left", n)
	}
}

func TestQuests_LogicalErrorNotRetried(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)
	f.quests.errs = []error{interfaces.ErrAlreadyClaimed}

	_, err := f.runner.Quests(context.Background(), w)
	if !errors.Is(err, interfaces.ErrAlreadyClaimed) {
		t.Fatalf("Expected ErrAlreadyClaimed, got %v", err)
	}
	if f.quests.calls != 1 {
		t.Errorf("Expected a single attempt, got %d", f.quests.calls)
	}
	if got := f.reload(t, w); got.NextActionTime != nil {
		t.Error("Expected no reschedule on failure")
	}
}

func TestQuests_PlatformRejectionKeepsProxy(t *testing.T) {
	var hits int32
	// stands in for the wallet's proxy; the platform behind it refuses the wallet
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"wallet_not_linked","error":"wallet not connected to a profile"}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	f := newFixture(t, "http://fresh:9000\n")
	f.runner.deps.Quests = clients.NewPlatformClient("http://platform.example", time.Second)
	w := f.wallet(t)
	w.Proxy = &srv.URL
	if _, err := f.repo.UpdateByID(ctx, w.ID, map[string]interface{}{"proxy": srv.URL}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		_, err := f.runner.Quests(ctx, w)
		var apiErr *clients.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != "wallet_not_linked" {
			t.Fatalf("Expected wallet_not_linked APIError, got %v", err)
		}
		if n := atomic.LoadInt32(&hits); n != int32(i+1) {
			t.Fatalf("Expected a single request per run, got %d after run %d", n, i+1)
		}
	}

	got := f.reload(t, w)
	if got.ProxyURL() != srv.URL || got.ProxyStatus != models.ResourceStatusOK {
		t.Errorf("Expected proxy kept with OK status, got %q %s", got.ProxyURL(), got.ProxyStatus)
	}
	if n, _ := f.reserve.Len(ctx); n != 1 {
		t.Errorf("Expected reserve untouched, %d left", n)
	}
}

func TestSession_EncryptedKey(t *testing.T) {
	f := newFixture(t, "")
	salt := make([]byte, vault.MinSaltSize)
	v, err := vault.New("pw", salt, vault.WithIterations(1000))
	if err != nil {
		t.Fatal(err)
	}
	w := f.wallet(t)
	enc, err := v.Encrypt(w.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	w.PrivateKey = enc

	if _, err := f.runner.Quests(context.Background(), w); !errors.Is(err, vault.ErrInvalidCredential) {
		t.Fatalf("Expected locked vault to refuse the key, got %v", err)
	}

	f.runner.deps.Vault = v
	if worked, err := f.runner.Quests(context.Background(), w); err != nil || !worked {
		t.Fatalf("Expected unlocked vault to run, got worked=%v err=%v", worked, err)
	}
}

func TestSession_AddressMismatch(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)
	w.Address = "0x0000000000000000000000000000000000000001"

	if _, err := f.runner.Quests(context.Background(), w); err == nil {
		t.Fatal("Expected address mismatch error")
	}
	if f.quests.calls != 0 {
		t.Error("Expected no remote call with a mismatched key")
	}
}

func TestGame_CountsWinsAndStopsAtLimit(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)

	for i := 0; i < 2; i++ {
		f.now = f.now.Add(2 * time.Hour)
		if worked, err := f.runner.Game(context.Background(), w); err != nil || !worked {
			t.Fatalf("Game %d: worked=%v err=%v", i, worked, err)
		}
	}
	if got := f.reload(t, w); got.CompletedCount != 2 || got.NextSecondaryActionTime == nil {
		t.Fatalf("Expected 2 completed games and a schedule, got %+v", got)
	}

	f.now = f.now.Add(24 * time.Hour)
	worked, err := f.runner.Game(context.Background(), w)
	if err != nil || worked {
		t.Errorf("Expected limit to stop the game, got worked=%v err=%v", worked, err)
	}
	if f.game.calls != 2 {
		t.Errorf("Expected 2 plays, got %d", f.game.calls)
	}
}

func TestFaucet_ClaimWaitsForDeposit(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)
	f.balance.set(100)
	f.faucet.onTx = func() {
		go func() {
			time.Sleep(30 * time.Millisecond)
			f.balance.set(150)
		}()
	}

	worked, err := f.runner.Faucet(context.Background(), w)
	if err != nil || !worked {
		t.Fatalf("Expected claim and deposit, got worked=%v err=%v", worked, err)
	}
	if got := f.reload(t, w); got.LastResourceClaimTime == nil || !got.LastResourceClaimTime.Equal(f.now) {
		t.Errorf("Expected claim time %v, got %v", f.now, got.LastResourceClaimTime)
	}

	f.now = f.now.Add(time.Hour)
	if worked, _ := f.runner.Faucet(context.Background(), w); worked || f.faucet.calls != 1 {
		t.Errorf("Expected cool-down to block a second claim, calls=%d", f.faucet.calls)
	}

	f.now = f.now.Add(24 * time.Hour)
	f.faucet.onTx = nil
	f.runner.limits.DepositTimeout = 50 * time.Millisecond
	_, err = f.runner.Faucet(context.Background(), w)
	if !errors.Is(err, ErrPollTimeout) {
		t.Errorf("Expected ErrPollTimeout without a deposit, got %v", err)
	}
}

func TestFaucet_AlreadyClaimedStartsCooldown(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)
	f.faucet.err = interfaces.ErrAlreadyClaimed

	worked, err := f.runner.Faucet(context.Background(), w)
	if err != nil || worked {
		t.Fatalf("Expected skipped claim, got worked=%v err=%v", worked, err)
	}
	if f.faucet.calls != 1 {
		t.Errorf("Expected one claim attempt, got %d", f.faucet.calls)
	}
	if got := f.reload(t, w); got.LastResourceClaimTime == nil {
		t.Error("Expected claim time recorded")
	}
}

func TestSocial_Gates(t *testing.T) {
	f := newFixture(t, "")
	w := f.wallet(t)
	w.SocialToken = nil

	if worked, err := f.runner.Social(context.Background(), w); worked || err != nil {
		t.Fatalf("Expected skip without token, got worked=%v err=%v", worked, err)
	}
	if f.social.calls != 0 {
		t.Error("Expected no remote call without token")
	}

	w = f.wallet(t)
	f.social.err = interfaces.ErrNeedsVerification
	if worked, err := f.runner.Social(context.Background(), w); worked || err != nil {
		t.Fatalf("Expected handled verification request, got worked=%v err=%v", worked, err)
	}
	if got := f.reload(t, w); got.SocialStatus != models.ResourceStatusNeedsVerify {
		t.Errorf("Expected NEEDS_VERIFY, got %s", got.SocialStatus)
	}
	if worked, _ := f.runner.Social(context.Background(), w); worked || f.social.calls != 1 {
		t.Errorf("Expected degraded token to be skipped, calls=%d", f.social.calls)
	}
}
