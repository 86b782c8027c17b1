// Package credfile loads API credentials from a JSON file and reloads
// them when the file changes, so token and webhook-secret rotation does
// not require a restart.
package credfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Credentials is the on-disk shape.
type Credentials struct {
	APIToken      string `json:"api_token"`
	WebhookSecret string `json:"webhook_secret"`
}

// Watcher holds the current credentials and refreshes them on file
// change events.
type Watcher struct {
	path   string
	logger Logger

	mu    sync.RWMutex
	creds Credentials
}

// New reads the file once and fails if it is missing or malformed;
// later reload failures keep the previous credentials.
func New(path string, logger Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("credfile: path is required")
	}
	w := &Watcher{path: path, logger: logger}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// APIToken satisfies the upstream client's token provider.
func (w *Watcher) APIToken() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.creds.APIToken
}

// WebhookSecret satisfies the webhook signature scheme's secret provider.
func (w *Watcher) WebhookSecret() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.creds.WebhookSecret
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("credfile: read %s: %w", w.path, err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("credfile: parse %s: %w", w.path, err)
	}
	if creds.APIToken == "" {
		return fmt.Errorf("credfile: %s has no api_token", w.path)
	}
	w.mu.Lock()
	w.creds = creds
	w.mu.Unlock()
	return nil
}

// Watch blocks until ctx is done, reloading on writes to the file. The
// parent directory is watched because editors and secret managers
// typically replace the file via rename.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credfile: watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("credfile: watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if err := w.reload(); err != nil {
				w.logf("credentials reload failed, keeping previous: %v", err)
				continue
			}
			w.logf("credentials reloaded from %s", w.path)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logf("credentials watch error: %v", err)
		}
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
