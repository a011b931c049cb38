// Package registry exposes the static chain and token reference data.
package registry

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"ipguardian/internal/models"
)

//go:embed chains.yaml
var defaultChains []byte

// chainEntry is one chain in the YAML table
type chainEntry struct {
	models.Chain `yaml:",inline"`
	Tokens       []models.Token `yaml:"tokens"`
}

type registryFile struct {
	Chains []chainEntry `yaml:"chains"`
}

// Registry is an immutable lookup over chains and their well-known tokens
type Registry struct {
	order  []int64
	chains map[int64]*chainEntry
}

// Default returns the registry compiled into the binary
func Default() (*Registry, error) {
	return Load(defaultChains)
}

// Load parses and validates a YAML registry table
func Load(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse chain registry: %w", err)
	}

	r := &Registry{chains: make(map[int64]*chainEntry, len(file.Chains))}

	for i := range file.Chains {
		entry := file.Chains[i]
		if entry.ID <= 0 {
			return nil, fmt.Errorf("chain %q has invalid id %d", entry.Name, entry.ID)
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("chain %d has no name", entry.ID)
		}
		if _, dup := r.chains[entry.ID]; dup {
			return nil, fmt.Errorf("chain %d listed twice", entry.ID)
		}

		native, err := checksum(entry.NativeToken)
		if err != nil {
			return nil, fmt.Errorf("chain %d native token: %w", entry.ID, err)
		}
		entry.NativeToken = native

		seen := make(map[string]bool, len(entry.Tokens))
		for j := range entry.Tokens {
			tok := &entry.Tokens[j]
			key := strings.ToUpper(tok.Symbol)
			if key == "" {
				return nil, fmt.Errorf("chain %d has a token without symbol", entry.ID)
			}
			if seen[key] {
				return nil, fmt.Errorf("chain %d lists token %s twice", entry.ID, tok.Symbol)
			}
			seen[key] = true

			addr, err := checksum(tok.Address)
			if err != nil {
				return nil, fmt.Errorf("chain %d token %s: %w", entry.ID, tok.Symbol, err)
			}
			tok.Address = addr
		}

		r.chains[entry.ID] = &entry
		r.order = append(r.order, entry.ID)
	}

	return r, nil
}

func checksum(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// SupportedChains returns all chains flagged supported, in table order
func (r *Registry) SupportedChains() []models.Chain {
	chains := make([]models.Chain, 0, len(r.order))
	for _, id := range r.order {
		if entry := r.chains[id]; entry.Supported {
			chains = append(chains, entry.Chain)
		}
	}
	return chains
}

// Chain returns the descriptor for chainID, supported or not
func (r *Registry) Chain(chainID int64) (models.Chain, bool) {
	entry, ok := r.chains[chainID]
	if !ok {
		return models.Chain{}, false
	}
	return entry.Chain, true
}

// IsSupported reports whether chainID is known and flagged supported
func (r *Registry) IsSupported(chainID int64) bool {
	entry, ok := r.chains[chainID]
	return ok && entry.Supported
}

// TokenAddress returns the address of symbol on chainID.
// Unknown symbols yield the zero address and false; the native token yields
// the zero address and true.
func (r *Registry) TokenAddress(chainID int64, symbol string) (common.Address, bool) {
	tok, ok := r.token(chainID, func(t *models.Token) bool {
		return strings.EqualFold(t.Symbol, symbol)
	})
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(tok.Address), true
}

// TokenByAddress finds a registered token on chainID by address
func (r *Registry) TokenByAddress(chainID int64, address string) (models.Token, bool) {
	if !common.IsHexAddress(address) {
		return models.Token{}, false
	}
	want := common.HexToAddress(address)
	return r.token(chainID, func(t *models.Token) bool {
		return common.HexToAddress(t.Address) == want
	})
}

// PopularTokens returns the well-known tokens of a supported chain.
// Unknown or unsupported chains yield an empty list.
func (r *Registry) PopularTokens(chainID int64) []models.Token {
	entry, ok := r.chains[chainID]
	if !ok || !entry.Supported {
		return []models.Token{}
	}
	tokens := make([]models.Token, len(entry.Tokens))
	copy(tokens, entry.Tokens)
	return tokens
}

func (r *Registry) token(chainID int64, match func(*models.Token) bool) (models.Token, bool) {
	entry, ok := r.chains[chainID]
	if !ok {
		return models.Token{}, false
	}
	for i := range entry.Tokens {
		if match(&entry.Tokens[i]) {
			return entry.Tokens[i], true
		}
	}
	return models.Token{}, false
}
