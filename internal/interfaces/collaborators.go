// Package interfaces defines the contracts of the remote services wallet
// actions talk to. Keeping them here lets actions depend on behavior rather
// than on concrete HTTP or RPC clients.
package interfaces

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAlreadyClaimed the remote side reports the claim was already made
var ErrAlreadyClaimed = errors.New("already claimed")

// ErrNeedsVerification the social account behind a token must be re-verified
var ErrNeedsVerification = errors.New("social account needs verification")

// Session identity an action presents to remote services. Key is the
// decrypted private key and must never be logged.
type Session struct {
	WalletID uint
	Address  common.Address
	Key      string
	Proxy    string
}

// QuestClient completes platform quests for a wallet
type QuestClient interface {
	CompleteQuests(ctx context.Context, s Session) (completed int, err error)
}

// GameClient plays one game round; won reports the outcome
type GameClient interface {
	Play(ctx context.Context, s Session) (won bool, err error)
}

// FaucetClient requests funds from the shared rate-limited faucet
type FaucetClient interface {
	Claim(ctx context.Context, s Session) (txHash string, err error)
}

// SocialClient performs social-media tasks with the wallet's token
type SocialClient interface {
	Engage(ctx context.Context, s Session, token string) error
}

// BalanceSource reads native balances, used to wait for deposits
type BalanceSource interface {
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
}
