// Package symbolconfig loads a symbol-mapping JSON file: one display
// symbol plus a per-exchange mapping to that exchange's own name for it.
// Deliberately narrow — this package only parses the file and filters it
// against the caller's exchange set; it does not know about CLI flags.
package symbolconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"marketdata/internal/exchange"
)

// SourceSymbol is one exchange's view of the logical symbol: its own name
// for it, plus the book depth to request.
type SourceSymbol struct {
	Name  string
	Depth int
}

// Symbol is a fully resolved, display symbol plus its surviving per-exchange
// mappings.
type Symbol struct {
	DisplayName string
	Sources     map[exchange.Tag]SourceSymbol
}

type fileFormat struct {
	Symbol  string            `json:"symbol"`
	Mapping map[string]string `json:"mapping"`
}

// Load reads and parses path, keeping only the exchanges in allowed
// (case-insensitive membership filter) and applying depth to every
// surviving mapping. At least one mapping must survive filtering, or Load
// returns an error — configuration errors are fatal at startup.
func Load(path string, allowed []exchange.Tag, depth int) (*Symbol, error) {
	if depth < 1 {
		return nil, fmt.Errorf("symbolconfig: depth must be >= 1, got %d", depth)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("symbolconfig: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("symbolconfig: %s: %w", path, err)
	}
	if ff.Symbol == "" {
		return nil, fmt.Errorf("symbolconfig: %s: missing \"symbol\"", path)
	}
	if len(ff.Mapping) == 0 {
		return nil, fmt.Errorf("symbolconfig: %s: empty \"mapping\"", path)
	}

	allowedSet := make(map[exchange.Tag]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}

	sym := &Symbol{
		DisplayName: ff.Symbol,
		Sources:     make(map[exchange.Tag]SourceSymbol),
	}
	for name, sourceName := range ff.Mapping {
		tag, err := exchange.ParseTag(name)
		if err != nil {
			continue
		}
		if !allowedSet[tag] {
			continue
		}
		if sourceName == "" {
			continue
		}
		sym.Sources[tag] = SourceSymbol{Name: sourceName, Depth: depth}
	}

	if len(sym.Sources) == 0 {
		return nil, fmt.Errorf("symbolconfig: %s: no mapping survived exchange filter", path)
	}
	return sym, nil
}
