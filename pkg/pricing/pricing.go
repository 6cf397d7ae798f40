package pricing

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"mercator-hq/callisto/pkg/keys"
)

// Rate is the USD cost per million tokens for one model.
type Rate struct {
	// Input is the rate for uncached input tokens.
	Input float64 `yaml:"input"`

	// Output is the rate for output tokens.
	Output float64 `yaml:"output"`

	// CacheWrite is the rate for cache-creation input tokens.
	CacheWrite float64 `yaml:"cache_write"`

	// CacheRead is the rate for cache-read input tokens.
	CacheRead float64 `yaml:"cache_read"`
}

// Table is the full pricing configuration.
type Table struct {
	// Default applies to models with no entry of their own.
	Default Rate `yaml:"default"`

	// Models maps model names (or name prefixes) to rates.
	Models map[string]Rate `yaml:"models"`
}

// builtinTable covers the current model families so the relay prices usage
// sensibly with no pricing file at all.
var builtinTable = Table{
	Default: Rate{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3},
	Models: map[string]Rate{
		"claude-opus-4":   {Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.5},
		"claude-sonnet-4": {Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3},
		"claude-haiku-3":  {Input: 0.8, Output: 4, CacheWrite: 1, CacheRead: 0.08},
	},
}

// Calculator resolves rates and prices usage. Thread-safe; Reload may run
// while requests are being priced.
type Calculator struct {
	mu    sync.RWMutex
	table Table
	path  string
}

// NewCalculator creates a calculator over the builtin table.
func NewCalculator() *Calculator {
	return &Calculator{table: builtinTable}
}

// NewCalculatorFromFile creates a calculator loading rates from a YAML
// file. The file path is retained for Reload.
func NewCalculatorFromFile(path string) (*Calculator, error) {
	c := &Calculator{table: builtinTable, path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the pricing file and swaps the table in atomically.
func (c *Calculator) Reload() error {
	if c.path == "" {
		return nil
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("pricing: reading %q: %w", c.path, err)
	}

	var table Table
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("pricing: parsing %q: %w", c.path, err)
	}
	if table.Default == (Rate{}) {
		table.Default = builtinTable.Default
	}

	c.mu.Lock()
	c.table = table
	c.mu.Unlock()
	return nil
}

// RateFor resolves the rate for a model: exact match first, then the
// longest matching prefix, then the default.
func (c *Calculator) RateFor(model string) Rate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rate, ok := c.table.Models[model]; ok {
		return rate
	}

	var (
		best    Rate
		bestLen = -1
	)
	for prefix, rate := range c.table.Models {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = rate
			bestLen = len(prefix)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return c.table.Default
}

// Cost prices one request's observed usage in USD.
func (c *Calculator) Cost(model string, usage keys.Usage) float64 {
	rate := c.RateFor(model)
	const perMillion = 1e6
	return float64(usage.InputTokens)*rate.Input/perMillion +
		float64(usage.OutputTokens)*rate.Output/perMillion +
		float64(usage.CacheCreationTokens)*rate.CacheWrite/perMillion +
		float64(usage.CacheReadTokens)*rate.CacheRead/perMillion
}
