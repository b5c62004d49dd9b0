package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/chain"
)

// OpenBook (Serum v3) accounts are framed by a 5-byte "serum" head and a
// 7-byte "padding" tail.
const (
	serumHeadLen = 5
	serumTailLen = 7

	openBookMarketLen = serumHeadLen + 376 + serumTailLen
	slabHeaderLen     = 32
	slabNodeLen       = 72
	nodeTagLeaf       = 2
)

const (
	AccountFlagInitialized uint64 = 1 << iota
	AccountFlagMarket
	AccountFlagOpenOrders
	AccountFlagRequestQueue
	AccountFlagEventQueue
	AccountFlagBids
	AccountFlagAsks
)

var serumHead = []byte("serum")
var serumTail = []byte("padding")

type OpenBookMarket struct {
	AccountFlags           uint64
	OwnAddress             solana.PublicKey
	VaultSignerNonce       uint64
	BaseMint               solana.PublicKey
	QuoteMint              solana.PublicKey
	BaseVault              solana.PublicKey
	BaseDepositsTotal      uint64
	BaseFeesAccrued        uint64
	QuoteVault             solana.PublicKey
	QuoteDepositsTotal     uint64
	QuoteFeesAccrued       uint64
	QuoteDustThreshold     uint64
	RequestQueue           solana.PublicKey
	EventQueue             solana.PublicKey
	Bids                   solana.PublicKey
	Asks                   solana.PublicKey
	BaseLotSize            uint64
	QuoteLotSize           uint64
	FeeRateBps             uint64
	ReferrerRebatesAccrued uint64
}

type openBookMarketSchema struct{}

var OpenBookMarketSchema openBookMarketSchema

func (openBookMarketSchema) Name() string { return "OpenBookMarket" }

func (openBookMarketSchema) Decode(acct *chain.Account) (any, error) {
	if acct == nil {
		return nil, fmt.Errorf("%w: openbook market: nil account", ErrDecode)
	}
	return DecodeOpenBookMarket(acct.Data)
}

func DecodeOpenBookMarket(data []byte) (*OpenBookMarket, error) {
	if len(data) != openBookMarketLen {
		return nil, fmt.Errorf("%w: openbook market: %d bytes, want %d", ErrDecode, len(data), openBookMarketLen)
	}
	r := reader{data: data, offset: serumHeadLen}
	m := &OpenBookMarket{
		AccountFlags:     r.u64(),
		OwnAddress:       r.pubkey(),
		VaultSignerNonce: r.u64(),
		BaseMint:         r.pubkey(),
		QuoteMint:        r.pubkey(),
		BaseVault:        r.pubkey(),
	}
	m.BaseDepositsTotal = r.u64()
	m.BaseFeesAccrued = r.u64()
	m.QuoteVault = r.pubkey()
	m.QuoteDepositsTotal = r.u64()
	m.QuoteFeesAccrued = r.u64()
	m.QuoteDustThreshold = r.u64()
	m.RequestQueue = r.pubkey()
	m.EventQueue = r.pubkey()
	m.Bids = r.pubkey()
	m.Asks = r.pubkey()
	m.BaseLotSize = r.u64()
	m.QuoteLotSize = r.u64()
	m.FeeRateBps = r.u64()
	m.ReferrerRebatesAccrued = r.u64()
	if r.err != nil {
		return nil, r.err
	}

	const want = AccountFlagInitialized | AccountFlagMarket
	if m.AccountFlags&want != want {
		return nil, fmt.Errorf("%w: account flags %#x are not an initialized market", ErrDecode, m.AccountFlags)
	}
	if m.BaseLotSize == 0 || m.QuoteLotSize == 0 {
		return nil, fmt.Errorf("%w: openbook market has zero lot size", ErrDecode)
	}
	return m, nil
}

func EncodeOpenBookMarket(m OpenBookMarket) []byte {
	out := make([]byte, 0, openBookMarketLen)
	out = append(out, serumHead...)
	out = binary.LittleEndian.AppendUint64(out, m.AccountFlags)
	out = append(out, m.OwnAddress[:]...)
	out = binary.LittleEndian.AppendUint64(out, m.VaultSignerNonce)
	out = append(out, m.BaseMint[:]...)
	out = append(out, m.QuoteMint[:]...)
	out = append(out, m.BaseVault[:]...)
	out = binary.LittleEndian.AppendUint64(out, m.BaseDepositsTotal)
	out = binary.LittleEndian.AppendUint64(out, m.BaseFeesAccrued)
	out = append(out, m.QuoteVault[:]...)
	out = binary.LittleEndian.AppendUint64(out, m.QuoteDepositsTotal)
	out = binary.LittleEndian.AppendUint64(out, m.QuoteFeesAccrued)
	out = binary.LittleEndian.AppendUint64(out, m.QuoteDustThreshold)
	out = append(out, m.RequestQueue[:]...)
	out = append(out, m.EventQueue[:]...)
	out = append(out, m.Bids[:]...)
	out = append(out, m.Asks[:]...)
	out = binary.LittleEndian.AppendUint64(out, m.BaseLotSize)
	out = binary.LittleEndian.AppendUint64(out, m.QuoteLotSize)
	out = binary.LittleEndian.AppendUint64(out, m.FeeRateBps)
	out = binary.LittleEndian.AppendUint64(out, m.ReferrerRebatesAccrued)
	return append(out, serumTail...)
}

// OrderLeaf is one resting order in a book side, in lots.
type OrderLeaf struct {
	PriceLots     uint64
	Sequence      uint64
	QuantityLots  uint64
	Owner         solana.PublicKey
	OwnerSlot     uint8
	FeeTier       uint8
	ClientOrderID uint64
}

// BookLevel aggregates every order resting at one price.
type BookLevel struct {
	PriceLots    uint64
	QuantityLots uint64
}

type OrderBookSide struct {
	IsBids bool
	Orders []OrderLeaf
}

// Levels returns price levels best first: descending for bids, ascending
// for asks.
func (s *OrderBookSide) Levels() []BookLevel {
	var levels []BookLevel
	for _, order := range s.Orders {
		if n := len(levels); n > 0 && levels[n-1].PriceLots == order.PriceLots {
			levels[n-1].QuantityLots += order.QuantityLots
			continue
		}
		levels = append(levels, BookLevel{PriceLots: order.PriceLots, QuantityLots: order.QuantityLots})
	}
	return levels
}

type slabSchema struct{}

// OrderBookSideSchema decodes an OpenBook bids or asks slab.
var OrderBookSideSchema slabSchema

func (slabSchema) Name() string { return "OpenBookSlab" }

func (slabSchema) Decode(acct *chain.Account) (any, error) {
	if acct == nil {
		return nil, fmt.Errorf("%w: openbook slab: nil account", ErrDecode)
	}
	return DecodeOrderBookSide(acct.Data)
}

func DecodeOrderBookSide(data []byte) (*OrderBookSide, error) {
	minLen := serumHeadLen + 8 + slabHeaderLen + serumTailLen
	if len(data) < minLen {
		return nil, fmt.Errorf("%w: openbook slab: %d bytes", ErrDecode, len(data))
	}

	r := reader{data: data, offset: serumHeadLen}
	flags := r.u64()
	var isBids bool
	switch {
	case flags&AccountFlagBids != 0:
		isBids = true
	case flags&AccountFlagAsks != 0:
	default:
		return nil, fmt.Errorf("%w: account flags %#x are not a book side", ErrDecode, flags)
	}

	bumpIndex := r.u32()
	r.skip(4)
	r.skip(4 + 4) // free list length, padding
	r.skip(4 + 4) // free list head, root
	leafCount := r.u32()
	r.skip(4)
	if r.err != nil {
		return nil, r.err
	}

	nodesEnd := len(data) - serumTailLen
	capacity := (nodesEnd - r.offset) / slabNodeLen
	if int(bumpIndex) > capacity {
		return nil, fmt.Errorf("%w: slab bump index %d exceeds capacity %d", ErrDecode, bumpIndex, capacity)
	}

	side := &OrderBookSide{IsBids: isBids, Orders: make([]OrderLeaf, 0, leafCount)}
	for i := 0; i < int(bumpIndex); i++ {
		node := data[r.offset+i*slabNodeLen : r.offset+(i+1)*slabNodeLen]
		if binary.LittleEndian.Uint32(node[0:4]) != nodeTagLeaf {
			continue
		}
		side.Orders = append(side.Orders, OrderLeaf{
			OwnerSlot:     node[4],
			FeeTier:       node[5],
			Sequence:      binary.LittleEndian.Uint64(node[8:16]),
			PriceLots:     binary.LittleEndian.Uint64(node[16:24]),
			Owner:         solana.PublicKeyFromBytes(node[24:56]),
			QuantityLots:  binary.LittleEndian.Uint64(node[56:64]),
			ClientOrderID: binary.LittleEndian.Uint64(node[64:72]),
		})
	}
	if len(side.Orders) != int(leafCount) {
		return nil, fmt.Errorf("%w: slab holds %d leaves, header says %d", ErrDecode, len(side.Orders), leafCount)
	}

	sort.SliceStable(side.Orders, func(i, j int) bool {
		a, b := side.Orders[i], side.Orders[j]
		if a.PriceLots != b.PriceLots {
			if isBids {
				return a.PriceLots > b.PriceLots
			}
			return a.PriceLots < b.PriceLots
		}
		return a.Sequence < b.Sequence
	})
	return side, nil
}

// EncodeOrderBookSide lays the orders out as leaves in a flat slab with no
// inner nodes. Tree links are not reconstructed; decoding does not read them.
func EncodeOrderBookSide(isBids bool, orders []OrderLeaf) []byte {
	flags := AccountFlagInitialized | AccountFlagAsks
	if isBids {
		flags = AccountFlagInitialized | AccountFlagBids
	}

	out := make([]byte, 0, serumHeadLen+8+slabHeaderLen+len(orders)*slabNodeLen+serumTailLen)
	out = append(out, serumHead...)
	out = binary.LittleEndian.AppendUint64(out, flags)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(orders)))
	out = append(out, 0, 0, 0, 0)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = append(out, 0, 0, 0, 0)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(orders)))
	out = append(out, 0, 0, 0, 0)

	for _, order := range orders {
		out = binary.LittleEndian.AppendUint32(out, nodeTagLeaf)
		out = append(out, order.OwnerSlot, order.FeeTier, 0, 0)
		out = binary.LittleEndian.AppendUint64(out, order.Sequence)
		out = binary.LittleEndian.AppendUint64(out, order.PriceLots)
		out = append(out, order.Owner[:]...)
		out = binary.LittleEndian.AppendUint64(out, order.QuantityLots)
		out = binary.LittleEndian.AppendUint64(out, order.ClientOrderID)
	}
	return append(out, serumTail...)
}
