package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/chain"
)

var (
	PythPushOracleProgramID = solana.MustPublicKeyFromBase58("pythWSnswVUd12oZpeFP8e9CVaEqJg25g1Vtc2biRsT")
	PythReceiverProgramID   = solana.MustPublicKeyFromBase58("rec5EKMGg6MxZYaMdyBfgwp4d5rB9T1VQH5pJv5LtFJ")

	priceUpdateV2Discriminator = [8]byte{34, 241, 35, 99, 157, 126, 244, 205}
)

// The verification level is allocated at its Partial size, so a Full update
// carries one spare byte.
const priceUpdateV2Len = 8 + 32 + 2 + 32 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8

// OraclePrice is a fully verified price update scaled to PricePrecision.
type OraclePrice struct {
	FeedID      [32]byte
	Price       int64
	Conf        uint64
	PublishTime int64
	PostedSlot  uint64
}

// QuoteAssetPrice is the fixed oracle for the quote spot market.
var QuoteAssetPrice = OraclePrice{Price: PricePrecision}

type pythSchema struct{}

// PriceUpdateSchema decodes Pyth PriceUpdateV2 accounts.
var PriceUpdateSchema pythSchema

func (pythSchema) Name() string { return "PriceUpdateV2" }

func (pythSchema) Decode(acct *chain.Account) (any, error) {
	if acct == nil {
		return nil, fmt.Errorf("%w: price update: nil account", ErrDecode)
	}
	if !acct.Owner.Equals(PythPushOracleProgramID) && !acct.Owner.Equals(PythReceiverProgramID) {
		return nil, fmt.Errorf("%w: price update owner mismatch (%s)", ErrDecode, acct.Owner)
	}
	return DecodePriceUpdate(acct.Data)
}

func DecodePriceUpdate(data []byte) (*OraclePrice, error) {
	if len(data) < discriminatorLen {
		return nil, fmt.Errorf("%w: price update payload too short", ErrDecode)
	}
	if !bytes.Equal(data[:discriminatorLen], priceUpdateV2Discriminator[:]) {
		return nil, fmt.Errorf("%w: want PriceUpdateV2", ErrDiscriminatorMismatch)
	}

	r := reader{data: data, offset: discriminatorLen}
	r.skip(32) // write_authority

	switch variant := r.u8(); variant {
	case 1: // Full
	case 0:
		return nil, fmt.Errorf("%w: price update verification level is partial", ErrDecode)
	default:
		return nil, fmt.Errorf("%w: unknown verification level %d", ErrDecode, variant)
	}

	feedID := r.fixed32()
	price := r.i64()
	conf := r.u64()
	exponent := r.i32()
	publishTime := r.i64()
	r.skip(8 + 8 + 8) // prev_publish_time, ema_price, ema_conf
	postedSlot := r.u64()
	if r.err != nil {
		return nil, r.err
	}
	if len(data) > priceUpdateV2Len {
		return nil, fmt.Errorf("%w: trailing bytes in price update", ErrDecode)
	}

	scaledPrice, err := scalePrice(price, exponent)
	if err != nil {
		return nil, err
	}
	scaledConf, err := scaleUnsigned(new(big.Int).SetUint64(conf), exponent, true)
	if err != nil {
		return nil, err
	}
	if !scaledConf.IsUint64() {
		return nil, fmt.Errorf("%w: scaled oracle confidence overflow", ErrDecode)
	}
	if publishTime < 0 {
		return nil, fmt.Errorf("%w: invalid publish time %d", ErrDecode, publishTime)
	}

	return &OraclePrice{
		FeedID:      feedID,
		Price:       scaledPrice,
		Conf:        scaledConf.Uint64(),
		PublishTime: publishTime,
		PostedSlot:  postedSlot,
	}, nil
}

// EncodePriceUpdate builds a fully verified PriceUpdateV2 payload.
func EncodePriceUpdate(feedID [32]byte, price int64, conf uint64, exponent int32, publishTime int64, postedSlot uint64) []byte {
	out := make([]byte, 0, priceUpdateV2Len)
	out = append(out, priceUpdateV2Discriminator[:]...)
	out = append(out, make([]byte, 32)...)
	out = append(out, 1)
	out = append(out, feedID[:]...)
	out = binary.LittleEndian.AppendUint64(out, uint64(price))
	out = binary.LittleEndian.AppendUint64(out, conf)
	out = binary.LittleEndian.AppendUint32(out, uint32(exponent))
	out = binary.LittleEndian.AppendUint64(out, uint64(publishTime))
	out = binary.LittleEndian.AppendUint64(out, uint64(publishTime))
	out = binary.LittleEndian.AppendUint64(out, uint64(price))
	out = binary.LittleEndian.AppendUint64(out, conf)
	out = binary.LittleEndian.AppendUint64(out, postedSlot)
	return append(out, 0)
}

func scalePrice(price int64, exponent int32) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive oracle price", ErrDecode)
	}
	scaled, err := scaleUnsigned(big.NewInt(price), exponent, false)
	if err != nil {
		return 0, err
	}
	if scaled.Sign() <= 0 || !scaled.IsInt64() {
		return 0, fmt.Errorf("%w: scaled oracle price overflow", ErrDecode)
	}
	return scaled.Int64(), nil
}

func scaleUnsigned(value *big.Int, exponent int32, ceil bool) (*big.Int, error) {
	if exponent > 38 || exponent < -38 {
		return nil, fmt.Errorf("%w: unsupported oracle exponent %d", ErrDecode, exponent)
	}
	abs := int64(exponent)
	if abs < 0 {
		abs = -abs
	}
	tenPow := new(big.Int).Exp(big.NewInt(10), big.NewInt(abs), nil)
	precision := big.NewInt(PricePrecision)

	if exponent >= 0 {
		out := new(big.Int).Mul(value, tenPow)
		return out.Mul(out, precision), nil
	}

	numerator := new(big.Int).Mul(value, precision)
	if ceil {
		numerator.Add(numerator, new(big.Int).Sub(tenPow, big.NewInt(1)))
	}
	return numerator.Div(numerator, tenPow), nil
}

// reader walks a little-endian payload and latches the first short read.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.offset+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated at offset %d (need %d of %d)", ErrDecode, r.offset, n, len(r.data))
		return nil
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out
}

func (r *reader) skip(n int) { r.take(n) }

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) fixed32() [32]byte {
	var out [32]byte
	copy(out[:], r.take(32))
	return out
}

func (r *reader) pubkey() solana.PublicKey {
	return solana.PublicKey(r.fixed32())
}
