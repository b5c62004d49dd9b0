// Package markets holds the static spot and perp market catalogs of each
// deployment environment.
package markets

import (
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var catalogFS embed.FS

var ErrUnknownEnvironment = errors.New("no market catalog for environment")

type Kind int

const (
	KindSpot Kind = iota
	KindPerp
)

func (k Kind) String() string {
	if k == KindPerp {
		return "perp"
	}
	return "spot"
}

type OracleSource string

const (
	OracleSourcePythPull   OracleSource = "pyth_pull"
	OracleSourceQuoteAsset OracleSource = "quote_asset"
)

type Oracle struct {
	Source OracleSource
	FeedID [32]byte
	Shard  uint16
}

type Descriptor struct {
	Symbol     string
	BaseSymbol string
	Index      uint16
	Kind       Kind
	Oracle     Oracle
	Decimals   uint8
	Mint       solana.PublicKey
	// OpenBookMarket is the external spot order book, zero when none is listed.
	OpenBookMarket solana.PublicKey
}

// Query matches a market by symbol or by index; the first catalog entry
// satisfying either wins.
type Query struct {
	Symbol string
	Index  *uint16
}

func BySymbol(symbol string) Query { return Query{Symbol: symbol} }

func ByIndex(index uint16) Query { return Query{Index: &index} }

type Registry struct {
	env  string
	spot []Descriptor
	perp []Descriptor
}

type catalogFile struct {
	Spot []catalogEntry `yaml:"spot"`
	Perp []catalogEntry `yaml:"perp"`
}

type catalogEntry struct {
	Symbol         string `yaml:"symbol"`
	Base           string `yaml:"base"`
	Index          uint16 `yaml:"index"`
	Decimals       uint8  `yaml:"decimals"`
	Mint           string `yaml:"mint"`
	OpenBookMarket string `yaml:"openbook_market"`
	Oracle         struct {
		Source string `yaml:"source"`
		FeedID string `yaml:"feed_id"`
		Shard  uint16 `yaml:"shard"`
	} `yaml:"oracle"`
}

// Load parses the embedded catalog of env.
func Load(env string) (*Registry, error) {
	body, err := catalogFS.ReadFile("catalogs/" + env + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	return Parse(env, body)
}

// Parse builds a registry from catalog YAML.
func Parse(env string, body []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("parse %s market catalog: %w", env, err)
	}

	reg := &Registry{env: env}
	for _, entry := range file.Spot {
		desc, err := entry.descriptor(KindSpot)
		if err != nil {
			return nil, fmt.Errorf("%s spot market %q: %w", env, entry.Symbol, err)
		}
		reg.spot = append(reg.spot, desc)
	}
	for _, entry := range file.Perp {
		desc, err := entry.descriptor(KindPerp)
		if err != nil {
			return nil, fmt.Errorf("%s perp market %q: %w", env, entry.Symbol, err)
		}
		reg.perp = append(reg.perp, desc)
	}
	return reg, nil
}

func (e catalogEntry) descriptor(kind Kind) (Descriptor, error) {
	symbol := strings.TrimSpace(e.Symbol)
	if symbol == "" {
		return Descriptor{}, errors.New("symbol is required")
	}
	desc := Descriptor{
		Symbol:     symbol,
		BaseSymbol: strings.TrimSpace(e.Base),
		Index:      e.Index,
		Kind:       kind,
		Decimals:   e.Decimals,
	}
	if desc.BaseSymbol == "" {
		desc.BaseSymbol = symbol
	}

	switch source := OracleSource(strings.TrimSpace(e.Oracle.Source)); source {
	case OracleSourcePythPull, OracleSourceQuoteAsset:
		desc.Oracle.Source = source
	default:
		return Descriptor{}, fmt.Errorf("unsupported oracle source %q", e.Oracle.Source)
	}
	feed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(e.Oracle.FeedID), "0x"))
	if err != nil || len(feed) != 32 {
		return Descriptor{}, fmt.Errorf("oracle feed id %q is not 32 hex bytes", e.Oracle.FeedID)
	}
	copy(desc.Oracle.FeedID[:], feed)
	desc.Oracle.Shard = e.Oracle.Shard

	if e.Mint != "" {
		if desc.Mint, err = solana.PublicKeyFromBase58(e.Mint); err != nil {
			return Descriptor{}, fmt.Errorf("mint: %w", err)
		}
	}
	if e.OpenBookMarket != "" {
		if desc.OpenBookMarket, err = solana.PublicKeyFromBase58(e.OpenBookMarket); err != nil {
			return Descriptor{}, fmt.Errorf("openbook market: %w", err)
		}
	}
	return desc, nil
}

func (r *Registry) Environment() string { return r.env }

func (r *Registry) FindSpot(q Query) (Descriptor, bool) {
	return find(r.spot, q)
}

// FindPerp matches the full symbol (SOL-PERP) or the base symbol (SOL).
func (r *Registry) FindPerp(q Query) (Descriptor, bool) {
	return find(r.perp, q)
}

func (r *Registry) Spot() []Descriptor { return append([]Descriptor(nil), r.spot...) }

func (r *Registry) Perp() []Descriptor { return append([]Descriptor(nil), r.perp...) }

func find(list []Descriptor, q Query) (Descriptor, bool) {
	for _, desc := range list {
		if q.Symbol != "" && (desc.Symbol == q.Symbol || desc.BaseSymbol == q.Symbol) {
			return desc, true
		}
		if q.Index != nil && desc.Index == *q.Index {
			return desc, true
		}
	}
	return Descriptor{}, false
}
