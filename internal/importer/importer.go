// Package importer loads wallets from the operator's line-oriented text files
// into the wallet store, re-pairs proxies and social tokens onto existing
// wallets, and exports the store back to text.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wallet-engine/internal/models"
	"wallet-engine/internal/repository"
	"wallet-engine/internal/reserve"
	"wallet-engine/internal/vault"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// ErrNoKeys the private key file is missing or empty
var ErrNoKeys = errors.New("private key file is empty")

// Files source and export locations
type Files struct {
	PrivateKeys  string
	Proxies      string
	SocialTokens string
	ExportDir    string
}

// Result counts of an import or sync run
type Result struct {
	Total    int
	Imported int
	Edited   int
	Invalid  int
}

// Importer moves wallets between text files and the store
type Importer struct {
	repo  repository.WalletRepository
	vault *vault.Vault
	files Files
	log   *logrus.Logger

	// PruneKeys removes successfully imported lines from the key file
	PruneKeys bool
	// Progress receives the progress bar; nil disables it
	Progress io.Writer
}

// New creates a new Importer instance
func New(repo repository.WalletRepository, v *vault.Vault, files Files, log *logrus.Logger) *Importer {
	if v == nil {
		v = vault.Disabled()
	}
	return &Importer{repo: repo, vault: v, files: files, log: log, Progress: os.Stderr}
}

// entry one parsed line triple
type entry struct {
	key   string
	proxy *string
	token *string
}

// Import reads the key file with its proxy and token companions. Proxies
// cycle when the list is shorter than the key list; tokens pair by line and
// are left empty past the end. A wallet whose address already exists is
// updated in place.
func (im *Importer) Import(ctx context.Context) (*Result, error) {
	keys, err := reserve.ReadLines(im.files.PrivateKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", im.files.PrivateKeys, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoKeys, im.files.PrivateKeys)
	}
	entries, err := im.pair(keys)
	if err != nil {
		return nil, err
	}
	if err := im.checkVault(ctx); err != nil {
		return nil, err
	}

	im.log.Infof("🔄 Importing %d wallets into the database...", len(entries))
	res := &Result{Total: len(entries)}
	bar := im.bar(len(entries), "Importing wallets")
	var consumed []string

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		imported, err := im.importOne(ctx, e)
		bar.Add(1)
		if err != nil {
			var ce *vault.CredentialError
			if errors.As(err, &ce) {
				return res, err
			}
			res.Invalid++
			im.log.WithError(err).Warn("⚠️ Skipping invalid key line")
			continue
		}
		if imported {
			res.Imported++
		} else {
			res.Edited++
		}
		consumed = append(consumed, e.key)
	}
	bar.Finish()

	if im.PruneKeys && len(consumed) > 0 {
		if err := removeLines(im.files.PrivateKeys, consumed); err != nil {
			im.log.WithError(err).Warn("⚠️ Failed to prune imported keys from file")
		}
	}

	im.log.WithFields(logrus.Fields{
		"imported": res.Imported,
		"edited":   res.Edited,
		"invalid":  res.Invalid,
		"total":    res.Total,
	}).Info("✅ Wallet import finished")
	return res, nil
}

func (im *Importer) importOne(ctx context.Context, e entry) (bool, error) {
	plain, err := im.vault.Decrypt(e.key)
	if err != nil {
		return false, err
	}
	address, err := vault.AddressFromKey(plain)
	if err != nil {
		return false, fmt.Errorf("invalid private key: %w", err)
	}
	stored, err := im.vault.Encrypt(plain)
	if err != nil {
		return false, err
	}

	existing, err := im.repo.FindByAddress(ctx, address)
	if err != nil {
		return false, err
	}
	if existing != nil {
		_, err := im.repo.Update(ctx, address, map[string]interface{}{
			"private_key":  stored,
			"proxy":        e.proxy,
			"social_token": e.token,
		})
		return false, err
	}

	w := &models.Wallet{
		PrivateKey:  stored,
		Address:     address,
		Proxy:       e.proxy,
		SocialToken: e.token,
	}
	if err := im.repo.Insert(ctx, w); err != nil {
		return false, err
	}
	if e.token == nil {
		im.log.WithField("wallet", w.String()).Warn("⚠️ Social token not found, social actions will be skipped")
	}
	return true, nil
}

// Sync re-pairs proxies and tokens from the text files onto the stored
// wallets by position in id order. A degraded resource that receives a new
// value goes back to OK.
func (im *Importer) Sync(ctx context.Context) (*Result, error) {
	if err := im.checkVault(ctx); err != nil {
		return nil, err
	}
	wallets, err := im.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Total: len(wallets)}
	if len(wallets) == 0 {
		im.log.Warn("⚠️ No wallets in database, nothing to sync")
		return res, nil
	}

	proxies, tokens, err := im.companions()
	if err != nil {
		return nil, err
	}

	im.log.Infof("🔄 Syncing %d wallets...", len(wallets))
	bar := im.bar(len(wallets), "Syncing wallets")
	for i, w := range wallets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		proxy := pickProxy(proxies, i, im.log)
		token := pickToken(tokens, i)

		changed := false
		for _, r := range []struct {
			kind    models.ResourceKind
			current *string
			next    *string
		}{
			{models.ResourceProxy, w.Proxy, proxy},
			{models.ResourceSocial, w.SocialToken, token},
		} {
			if equal(r.current, r.next) {
				continue
			}
			if err := im.assign(ctx, w, r.kind, r.next); err != nil {
				return res, err
			}
			changed = true
		}
		if changed {
			res.Edited++
		}
		bar.Add(1)
	}
	bar.Finish()

	im.log.WithFields(logrus.Fields{
		"edited": res.Edited,
		"total":  res.Total,
	}).Info("✅ Wallet sync finished")
	return res, nil
}

func (im *Importer) assign(ctx context.Context, w *models.Wallet, kind models.ResourceKind, value *string) error {
	if value != nil && w.Status(kind).Degraded() {
		return im.repo.ReplaceResource(ctx, w.ID, kind, *value)
	}
	_, err := im.repo.UpdateByID(ctx, w.ID, map[string]interface{}{kind.ValueColumn(): value})
	return err
}

// Export writes keys, proxies and tokens to exported_*.txt in ExportDir,
// one wallet per line in id order. Keys are written decrypted.
func (im *Importer) Export(ctx context.Context) (int, error) {
	if err := im.checkVault(ctx); err != nil {
		return 0, err
	}
	wallets, err := im.repo.All(ctx)
	if err != nil {
		return 0, err
	}
	if len(wallets) == 0 {
		im.log.Warn("⚠️ Export: no wallets in database, skipping")
		return 0, nil
	}

	var keys, proxies, tokens []string
	for _, w := range wallets {
		key, err := im.vault.Decrypt(w.PrivateKey)
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
		proxies = append(proxies, w.ProxyURL())
		tokens = append(tokens, w.Social())
	}

	for name, lines := range map[string][]string{
		"exported_private_keys.txt":  keys,
		"exported_proxy.txt":         proxies,
		"exported_social_tokens.txt": tokens,
	} {
		path := filepath.Join(im.files.ExportDir, name)
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	im.log.Infof("✅ Exported %d wallets to %s", len(wallets), im.files.ExportDir)
	return len(wallets), nil
}

// checkVault refuses to mix passwords: when the store already holds an
// encrypted key, the current vault must open it
func (im *Importer) checkVault(ctx context.Context) error {
	w, err := im.repo.FirstWithKeyPrefix(ctx, vault.Marker)
	if err != nil || w == nil {
		return err
	}
	if _, err := im.vault.Decrypt(w.PrivateKey); err != nil {
		return fmt.Errorf("database not empty, the same password must be used for new wallets: %w", err)
	}
	return nil
}

func (im *Importer) pair(keys []string) ([]entry, error) {
	proxies, tokens, err := im.companions()
	if err != nil {
		return nil, err
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		entries[i] = entry{key: k, proxy: pickProxy(proxies, i, im.log), token: pickToken(tokens, i)}
	}
	return entries, nil
}

func (im *Importer) companions() (proxies, tokens []string, err error) {
	if proxies, err = reserve.ReadLines(im.files.Proxies); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", im.files.Proxies, err)
	}
	if tokens, err = reserve.ReadLines(im.files.SocialTokens); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", im.files.SocialTokens, err)
	}
	return proxies, tokens, nil
}

func (im *Importer) bar(n int, desc string) *progressbar.ProgressBar {
	if im.Progress == nil {
		return progressbar.DefaultSilent(int64(n), desc)
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(im.Progress),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func pickProxy(proxies []string, i int, log *logrus.Logger) *string {
	if len(proxies) == 0 {
		return nil
	}
	raw := proxies[i%len(proxies)]
	p, ok := models.ParseProxy(raw)
	if !ok {
		log.WithField("line", i+1).Warnf("⚠️ Invalid proxy format: %s", raw)
		return nil
	}
	return &p
}

func pickToken(tokens []string, i int) *string {
	if i >= len(tokens) {
		return nil
	}
	t := tokens[i]
	return &t
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
