package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

// nodeConfig is the on-disk description of one process:
// shared network surfaces, the committee, and the validator
// instances hosted here.
type nodeConfig struct {
	// TCP address for the shared consensus listener.
	ListenAddr string `json:"listen_addr"`

	// TCP address for the HTTP status server; empty disables it.
	HTTPAddr string `json:"http_addr"`

	// Directory holding one block store per hosted validator.
	StoreDir string `json:"store_dir"`

	Committee []authorityConfig `json:"committee"`

	Validators []validatorConfig `json:"validators"`
}

type authorityConfig struct {
	// Hex-encoded ed25519 public key.
	PubKey string `json:"pubkey"`

	Weight uint64 `json:"weight"`

	// Address of the consensus listener hosting this authority.
	Address string `json:"address"`
}

type validatorConfig struct {
	ID uint64 `json:"id"`

	// Path to the hex-encoded ed25519 seed produced by keygen.
	KeyFile string `json:"key_file"`
}

func loadNodeConfig(path string) (nodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nodeConfig{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg nodeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nodeConfig{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		return nodeConfig{}, fmt.Errorf("config %s: listen_addr is required", path)
	}
	if len(cfg.Validators) == 0 {
		return nodeConfig{}, fmt.Errorf("config %s: at least one validator is required", path)
	}

	return cfg, nil
}

func (c nodeConfig) committee() (mconsensus.Committee, error) {
	auths := make([]mconsensus.Authority, len(c.Committee))
	for i, a := range c.Committee {
		raw, err := hex.DecodeString(a.PubKey)
		if err != nil {
			return mconsensus.Committee{}, fmt.Errorf("committee member %d: bad pubkey: %w", i, err)
		}
		key, err := mcrypto.NewEd25519PubKey(raw)
		if err != nil {
			return mconsensus.Committee{}, fmt.Errorf("committee member %d: %w", i, err)
		}
		auths[i] = mconsensus.Authority{
			PubKey:  key,
			Weight:  a.Weight,
			Address: a.Address,
		}
	}

	return mconsensus.NewCommittee(auths)
}

func loadSigner(path string) (mcrypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	seed, err := hex.DecodeString(string(trimNewline(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not hex: %w", path, err)
	}

	return mcrypto.NewEd25519SignerFromSeed(seed)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
