package lending

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Packed event words are a versioned wire format consumed by off-chain
// indexers: every sub-field sits at a fixed bit offset inside a 256-bit
// big-endian word. Bit offsets below are counted from the least significant
// bit.
//
// packedRates (six rates, 32 bits each):
//
//	0..31   primary
//	32..63  secondary
//	64..95  moratory
//	96..127 late fee
//	128..159 clawback fee
//	160..191 charge expenses
//
// packedParameters:
//
//	0..7    status
//	8..23   batch index
//	24..39  batch count
//	40..71  duration
//	72..103 freeze timestamp
//	104..135 tracked timestamp
//	136..167 start timestamp
//	168..199 pending timestamp
//
// packed amount parts (one word per component, 64 bits each):
//
//	0..63    tracked
//	64..127  repaid
//	128..191 discount

// PackRates encodes the six rates of a sub-loan into one 256-bit word.
func PackRates(r Rates) *uint256.Int {
	w := new(uint256.Int)
	packField(w, r.Primary, 0)
	packField(w, r.Secondary, 32)
	packField(w, r.Moratory, 64)
	packField(w, r.LateFee, 96)
	packField(w, r.ClawbackFee, 128)
	packField(w, r.ChargeExpenses, 160)
	return w
}

// UnpackRates decodes a word produced by PackRates.
func UnpackRates(w *uint256.Int) Rates {
	return Rates{
		Primary:        unpackField(w, 0, 32),
		Secondary:      unpackField(w, 32, 32),
		Moratory:       unpackField(w, 64, 32),
		LateFee:        unpackField(w, 96, 32),
		ClawbackFee:    unpackField(w, 128, 32),
		ChargeExpenses: unpackField(w, 160, 32),
	}
}

// PackParameters encodes the non-balance portion of a sub-loan snapshot.
func PackParameters(inc *SubLoanInception, st *SubLoanState, pendingTimestamp uint64) *uint256.Int {
	w := new(uint256.Int)
	packField(w, uint64(st.Status), 0)
	packField(w, uint64(inc.Index), 8)
	packField(w, uint64(inc.Count), 24)
	packField(w, uint64(st.Duration), 40)
	packField(w, st.FreezeTimestamp, 72)
	packField(w, st.TrackedTimestamp, 104)
	packField(w, inc.StartTimestamp, 136)
	packField(w, pendingTimestamp, 168)
	return w
}

// SubLoanParameters is the decoded form of a packedParameters word.
type SubLoanParameters struct {
	Status           SubLoanStatus
	Index            uint16
	Count            uint16
	Duration         uint32
	FreezeTimestamp  uint64
	TrackedTimestamp uint64
	StartTimestamp   uint64
	PendingTimestamp uint64
}

// UnpackParameters decodes a word produced by PackParameters.
func UnpackParameters(w *uint256.Int) SubLoanParameters {
	return SubLoanParameters{
		Status:           SubLoanStatus(unpackField(w, 0, 8)),
		Index:            uint16(unpackField(w, 8, 16)),
		Count:            uint16(unpackField(w, 24, 16)),
		Duration:         uint32(unpackField(w, 40, 32)),
		FreezeTimestamp:  unpackField(w, 72, 32),
		TrackedTimestamp: unpackField(w, 104, 32),
		StartTimestamp:   unpackField(w, 136, 32),
		PendingTimestamp: unpackField(w, 168, 32),
	}
}

// PackAmountParts encodes the three running totals of one component.
func PackAmountParts(p BalancePart) *uint256.Int {
	w := new(uint256.Int)
	packField(w, p.Tracked, 0)
	packField(w, p.Repaid, 64)
	packField(w, p.Discount, 128)
	return w
}

// UnpackAmountParts decodes a word produced by PackAmountParts.
func UnpackAmountParts(w *uint256.Int) BalancePart {
	return BalancePart{
		Tracked:  unpackField(w, 0, 64),
		Repaid:   unpackField(w, 64, 64),
		Discount: unpackField(w, 128, 64),
	}
}

// WordHex renders a packed word as a fixed-width 0x-prefixed hex string.
func WordHex(w *uint256.Int) string {
	b := w.Bytes32()
	return "0x" + hex.EncodeToString(b[:])
}

// ParseWord parses a string produced by WordHex. Unlike uint256.FromHex it
// accepts the fixed-width leading-zero form events are emitted with.
func ParseWord(s string) (*uint256.Int, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse packed word: %w", err)
	}
	if len(raw) > 32 {
		return nil, fmt.Errorf("parse packed word: %d bytes exceeds 256 bits", len(raw))
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func packField(w *uint256.Int, value uint64, offset uint) {
	v := new(uint256.Int).SetUint64(value)
	v.Lsh(v, offset)
	w.Or(w, v)
}

func unpackField(w *uint256.Int, offset, bits uint) uint64 {
	v := new(uint256.Int).Rsh(w, offset)
	out := v.Uint64()
	if bits < 64 {
		out &= math.MaxUint64 >> (64 - bits)
	}
	return out
}
