package near

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// borshReader is a minimal, read-only Borsh decoder covering exactly the
// NEP-366 SignedDelegateAction shape this provider needs: no schema
// reflection, no writer, no support for encoding — verify only ever
// consumes bytes the client already signed.
type borshReader struct {
	buf []byte
	pos int
}

func newBorshReader(buf []byte) *borshReader { return &borshReader{buf: buf} }

func (r *borshReader) remaining() int { return len(r.buf) - r.pos }

func (r *borshReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("near: borsh: unexpected eof reading %d bytes at offset %d", n, r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *borshReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *borshReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *borshReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// u128 reads a 16-byte little-endian unsigned integer into a big.Int.
func (r *borshReader) u128() (*big.Int, error) {
	b, err := r.take(16)
	if err != nil {
		return nil, err
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return new(big.Int).SetBytes(be), nil
}

func (r *borshReader) bytesVec() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *borshReader) str() (string, error) {
	b, err := r.bytesVec()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// publicKey reads a Borsh-encoded NEAR public key: a 1-byte curve
// discriminant (0 = ED25519, 1 = SECP256K1) followed by 32 or 64 raw bytes.
func (r *borshReader) publicKey() (curve byte, raw []byte, err error) {
	curve, err = r.u8()
	if err != nil {
		return 0, nil, err
	}
	switch curve {
	case 0:
		raw, err = r.take(32)
	case 1:
		raw, err = r.take(64)
	default:
		return 0, nil, fmt.Errorf("near: borsh: unknown curve id %d", curve)
	}
	return curve, raw, err
}

// option reads the 1-byte Some/None tag and reports whether a value follows.
func (r *borshReader) option() (bool, error) {
	tag, err := r.u8()
	if err != nil {
		return false, err
	}
	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("near: borsh: invalid option tag %d", tag)
	}
}

// borshWriter builds the handful of Borsh-encoded shapes Settle needs to
// wrap a SignedDelegateAction in a relayer-signed Transaction: no general
// schema support, just the fields this provider writes.
type borshWriter struct {
	buf []byte
}

func (w *borshWriter) u8(v byte)     { w.buf = append(w.buf, v) }
func (w *borshWriter) u32(v uint32)  { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *borshWriter) u64(v uint64)  { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *borshWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *borshWriter) str(s string) { w.bytes([]byte(s)) }
func (w *borshWriter) raw(b []byte) { w.buf = append(w.buf, b...) }
func (w *borshWriter) publicKeyEd25519(raw []byte) {
	w.u8(0)
	w.buf = append(w.buf, raw...)
}

// Action enum discriminants.
const (
	actionCreateAccount = iota
	actionDeployContract
	actionFunctionCall
	actionTransfer
	actionStake
	actionAddKey
	actionDeleteKey
	actionDeleteAccount
)

// skipAction consumes one Borsh-encoded Action without interpreting its
// payload beyond what's needed to know its length — the facilitator only
// cares about delegate_action.receiver_id, not the actions bundled under it.
func (r *borshReader) skipAction() error {
	tag, err := r.u8()
	if err != nil {
		return err
	}
	switch tag {
	case actionCreateAccount:
		return nil
	case actionDeployContract:
		_, err := r.bytesVec()
		return err
	case actionFunctionCall:
		if _, err := r.str(); err != nil { // method_name
			return err
		}
		if _, err := r.bytesVec(); err != nil { // args
			return err
		}
		if _, err := r.u64(); err != nil { // gas
			return err
		}
		_, err := r.u128() // deposit
		return err
	case actionTransfer:
		_, err := r.u128()
		return err
	case actionStake:
		if _, err := r.u128(); err != nil {
			return err
		}
		_, _, err := r.publicKey()
		return err
	case actionAddKey:
		if _, _, err := r.publicKey(); err != nil {
			return err
		}
		if _, err := r.u64(); err != nil { // access_key.nonce
			return err
		}
		permTag, err := r.u8()
		if err != nil {
			return err
		}
		if permTag == 0 { // FunctionCall permission
			hasAllowance, err := r.option()
			if err != nil {
				return err
			}
			if hasAllowance {
				if _, err := r.u128(); err != nil {
					return err
				}
			}
			if _, err := r.str(); err != nil { // receiver_id
				return err
			}
			n, err := r.u32()
			if err != nil {
				return err
			}
			for i := uint32(0); i < n; i++ {
				if _, err := r.str(); err != nil {
					return err
				}
			}
		}
		return nil
	case actionDeleteKey:
		_, _, err := r.publicKey()
		return err
	case actionDeleteAccount:
		_, err := r.str()
		return err
	default:
		return fmt.Errorf("near: borsh: unknown action discriminant %d", tag)
	}
}
