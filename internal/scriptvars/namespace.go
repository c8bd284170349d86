// Package scriptvars models the shared global namespace that provider scripts assign into.
//
// Eastmoney publishes fund data as scripts that assign top-level variables (apidata,
// Data_netWorthTrend, ...). Every script writes the same names, so the namespace is one
// shared slot: callers must serialize load-then-read sequences through the fetch queue.
package scriptvars

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Namespace holds the variables assigned by loaded scripts
type Namespace struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewNamespace creates an empty namespace
func NewNamespace() *Namespace {
	return &Namespace{vars: make(map[string]any)}
}

// Get returns a variable and whether it is defined
func (n *Namespace) Get(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vars[name]
	return v, ok
}

// Set assigns a variable
func (n *Namespace) Set(name string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vars[name] = value
}

// Reset undefines the named variables so stale values from a previous script never leak
func (n *Namespace) Reset(names ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, name := range names {
		delete(n.vars, name)
	}
}

// Assign merges vars into the namespace
func (n *Namespace) Assign(vars map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, v := range vars {
		n.vars[k] = v
	}
}

// Len returns the number of defined variables
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.vars)
}

// Field reads a member of an object value, as produced by Parse
func Field(obj any, name string) (any, bool) {
	m, ok := obj.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// Loader fetches scripts and assigns their top-level variables into a namespace
type Loader struct {
	client *http.Client
	ns     *Namespace
	log    zerolog.Logger
}

// NewLoader creates a loader writing into ns
func NewLoader(ns *Namespace, log zerolog.Logger) *Loader {
	return &Loader{
		client: &http.Client{Timeout: 10 * time.Second},
		ns:     ns,
		log:    log.With().Str("component", "script_loader").Logger(),
	}
}

// Namespace returns the namespace the loader writes into
func (l *Loader) Namespace() *Namespace {
	return l.ns
}

// Load fetches the script at url and assigns its variables.
// It returns the number of variables assigned.
func (l *Loader) Load(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Referer", "https://fund.eastmoney.com/")

	resp, err := l.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("script request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("script request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read script: %w", err)
	}

	vars := Parse(string(body))
	l.ns.Assign(vars)

	l.log.Debug().Str("url", url).Int("vars", len(vars)).Int("bytes", len(body)).Msg("Loaded script")
	return len(vars), nil
}
