package reserve

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
)

// FilePool reserve pool backed by a line-per-item text file. Take picks a
// random line, removes it and rewrites the file before returning.
type FilePool struct {
	path string
	mu   sync.Mutex
}

// NewFilePool pool over the file at path
func NewFilePool(path string) *FilePool {
	return &FilePool{path: path}
}

// Path of the backing file
func (p *FilePool) Path() string {
	return p.path
}

// Take removes and returns one random item. The item is only handed out once
// the shortened list is on disk.
func (p *FilePool) Take(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	items, err := ReadLines(p.path)
	if err != nil {
		return "", fmt.Errorf("failed to read reserve file: %w", err)
	}
	if len(items) == 0 {
		return "", ErrEmpty
	}

	i := rand.IntN(len(items))
	item := items[i]
	rest := append(items[:i:i], items[i+1:]...)

	if err := p.write(rest); err != nil {
		return "", fmt.Errorf("failed to update reserve file: %w", err)
	}
	return item, nil
}

// Add appends items, returning how many were written
func (p *FilePool) Add(ctx context.Context, items ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := ReadLines(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read reserve file: %w", err)
	}
	if err := p.write(append(existing, items...)); err != nil {
		return 0, fmt.Errorf("failed to update reserve file: %w", err)
	}
	return len(items), nil
}

// Len number of items left
func (p *FilePool) Len(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	items, err := ReadLines(p.path)
	return len(items), err
}

// write replaces the file through a temp file + rename so a crash never
// leaves a half-written list behind.
func (p *FilePool) write(items []string) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, item := range items {
		if _, err := w.WriteString(item + "\n"); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}
