// Package reserve holds spare proxies and social tokens used to replace a
// wallet's degraded resource.
package reserve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"wallet-engine/internal/config"
	"wallet-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty the pool has nothing left to hand out
var ErrEmpty = errors.New("reserve pool is empty")

// Pool durable list of spare resource values. Take removes the item it
// returns, so no item is handed out twice.
type Pool interface {
	Take(ctx context.Context) (string, error)
	Add(ctx context.Context, items ...string) (int, error)
	Len(ctx context.Context) (int, error)
}

// Pools reserve pools per resource kind
type Pools map[models.ResourceKind]Pool

// Get pool for kind, nil when none is configured
func (p Pools) Get(kind models.ResourceKind) Pool {
	if p == nil {
		return nil
	}
	return p[kind]
}

// Open builds the configured pools. The redis backend shares one client for
// both kinds; the returned close func releases it.
func Open(cfg *config.Config) (Pools, func() error, error) {
	switch cfg.Reserve.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pools := Pools{
			models.ResourceProxy:  NewRedisPool(client, cfg.Redis.ProxyKey),
			models.ResourceSocial: NewRedisPool(client, cfg.Redis.SocialKey),
		}
		return pools, client.Close, nil
	case "file", "":
		pools := Pools{
			models.ResourceProxy:  NewFilePool(cfg.Path(cfg.Files.ReserveProxy)),
			models.ResourceSocial: NewFilePool(cfg.Path(cfg.Files.ReserveSocial)),
		}
		return pools, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown reserve backend: %s", cfg.Reserve.Backend)
}

// ReadLines returns the non-blank, trimmed lines of a text file. A missing
// file reads as empty.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
