package stellar

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// xdrReader is a minimal, read-only XDR decoder covering exactly the
// Soroban SorobanAuthorizationEntry shape this provider needs. XDR is
// big-endian and 4-byte aligned throughout; no general schema support.
type xdrReader struct {
	buf []byte
	pos int
}

func newXDRReader(buf []byte) *xdrReader { return &xdrReader{buf: buf} }

func (r *xdrReader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.pos < n {
		return nil, fmt.Errorf("stellar: xdr: unexpected eof reading %d bytes at offset %d", n, r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *xdrReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *xdrReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *xdrReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *xdrReader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

// i128 reads XDR's Int128Parts{hi int64, lo uint64} into a big.Int.
func (r *xdrReader) i128() (*big.Int, error) {
	hi, err := r.i64()
	if err != nil {
		return nil, err
	}
	lo, err := r.u64()
	if err != nil {
		return nil, err
	}
	v := new(big.Int).Lsh(big.NewInt(hi), 64)
	v.Or(v, new(big.Int).SetUint64(lo))
	return v, nil
}

// fixed reads n raw bytes with no length prefix, padded to the next 4-byte boundary.
func (r *xdrReader) fixed(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	if pad := (4 - n%4) % 4; pad > 0 {
		if _, err := r.take(pad); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// variable reads a uint32 length prefix followed by that many bytes, padded.
func (r *xdrReader) variable() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}

func (r *xdrReader) str() (string, error) {
	b, err := r.variable()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// scAddress decodes an ScAddress union: type 0 = account (ed25519 key), 1 = contract (32-byte hash).
type scAddress struct {
	isContract bool
	raw        [32]byte
}

func (r *xdrReader) scAddress() (scAddress, error) {
	kind, err := r.u32()
	if err != nil {
		return scAddress{}, err
	}
	switch kind {
	case 0: // SC_ADDRESS_TYPE_ACCOUNT: PublicKey union { PUBLIC_KEY_TYPE_ED25519: uint256 }
		pkType, err := r.u32()
		if err != nil {
			return scAddress{}, err
		}
		if pkType != 0 {
			return scAddress{}, fmt.Errorf("stellar: xdr: unsupported public key type %d", pkType)
		}
		raw, err := r.fixed(32)
		if err != nil {
			return scAddress{}, err
		}
		var out scAddress
		copy(out.raw[:], raw)
		return out, nil
	case 1: // SC_ADDRESS_TYPE_CONTRACT: Hash
		raw, err := r.fixed(32)
		if err != nil {
			return scAddress{}, err
		}
		var out scAddress
		out.isContract = true
		copy(out.raw[:], raw)
		return out, nil
	default:
		return scAddress{}, fmt.Errorf("stellar: xdr: unsupported ScAddress type %d", kind)
	}
}

// ScVal discriminants this provider understands; everything else is skipped
// opaquely via its own encoded length where that's knowable, else rejected.
const (
	scvBool    = 0
	scvVoid    = 1
	scvU32     = 4
	scvI32     = 5
	scvU64     = 6
	scvI64     = 7
	scvI128    = 10
	scvBytes   = 14
	scvString  = 15
	scvSymbol  = 16
	scvVec     = 17
	scvAddress = 19
)

// scVal is a decoded ScVal narrowed to the variants Verify needs.
type scVal struct {
	kind    uint32
	i128    *big.Int
	address scAddress
	symbol  string
}

func (r *xdrReader) scVal() (scVal, error) {
	kind, err := r.u32()
	if err != nil {
		return scVal{}, err
	}
	switch kind {
	case scvBool:
		if _, err := r.u32(); err != nil {
			return scVal{}, err
		}
		return scVal{kind: kind}, nil
	case scvVoid:
		return scVal{kind: kind}, nil
	case scvU32, scvI32:
		if _, err := r.u32(); err != nil {
			return scVal{}, err
		}
		return scVal{kind: kind}, nil
	case scvU64, scvI64:
		if _, err := r.u64(); err != nil {
			return scVal{}, err
		}
		return scVal{kind: kind}, nil
	case scvI128:
		v, err := r.i128()
		if err != nil {
			return scVal{}, err
		}
		return scVal{kind: kind, i128: v}, nil
	case scvBytes:
		if _, err := r.variable(); err != nil {
			return scVal{}, err
		}
		return scVal{kind: kind}, nil
	case scvString, scvSymbol:
		s, err := r.str()
		if err != nil {
			return scVal{}, err
		}
		return scVal{kind: kind, symbol: s}, nil
	case scvAddress:
		addr, err := r.scAddress()
		if err != nil {
			return scVal{}, err
		}
		return scVal{kind: kind, address: addr}, nil
	case scvVec:
		n, err := r.u32()
		if err != nil {
			return scVal{}, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.scVal(); err != nil {
				return scVal{}, err
			}
		}
		return scVal{kind: kind}, nil
	default:
		return scVal{}, fmt.Errorf("stellar: xdr: unsupported ScVal discriminant %d", kind)
	}
}

// xdrWriter builds the handful of big-endian, 4-byte-aligned XDR shapes
// Settle needs to resubmit a decoded authorization entry inside a relayer
// transaction — not a general encoder.
type xdrWriter struct {
	buf []byte
}

func (w *xdrWriter) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *xdrWriter) i32(v int32)  { w.u32(uint32(v)) }
func (w *xdrWriter) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *xdrWriter) i64(v int64)  { w.u64(uint64(v)) }

func (w *xdrWriter) i128(v *big.Int) {
	// v is assumed non-negative and < 2^128, as every amount this provider writes is.
	bz := v.Bytes()
	full := make([]byte, 16)
	copy(full[16-len(bz):], bz)
	w.buf = append(w.buf, full...)
}

func (w *xdrWriter) fixed(b []byte) {
	w.buf = append(w.buf, b...)
	if pad := (4 - len(b)%4) % 4; pad > 0 {
		w.buf = append(w.buf, make([]byte, pad)...)
	}
}

func (w *xdrWriter) variable(b []byte) {
	w.u32(uint32(len(b)))
	w.fixed(b)
}

func (w *xdrWriter) str(s string) { w.variable([]byte(s)) }
func (w *xdrWriter) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *xdrWriter) scAddressAccount(raw [32]byte) {
	w.u32(0) // SC_ADDRESS_TYPE_ACCOUNT
	w.u32(0) // PUBLIC_KEY_TYPE_ED25519
	w.fixed(raw[:])
}
