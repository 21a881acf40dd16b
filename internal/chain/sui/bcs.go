package sui

import (
	"encoding/binary"
	"fmt"
)

// bcsReader is a minimal, read-only BCS (Binary Canonical Serialization)
// decoder covering exactly the TransactionData shape this provider needs:
// ULEB128 lengths/enum tags, little-endian fixed-width integers, fixed
// byte arrays, and vectors — not a general BCS schema engine.
type bcsReader struct {
	buf []byte
	pos int
}

func newBCSReader(buf []byte) *bcsReader { return &bcsReader{buf: buf} }

func (r *bcsReader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.pos < n {
		return nil, fmt.Errorf("sui: bcs: unexpected eof reading %d bytes at offset %d", n, r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *bcsReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *bcsReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *bcsReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// uleb128 decodes BCS's variable-length unsigned integer, used for vector
// lengths and enum variant tags.
func (r *bcsReader) uleb128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("sui: bcs: uleb128 overflow")
		}
	}
}

func (r *bcsReader) bytesVec() ([]byte, error) {
	n, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

type address [32]byte

func (r *bcsReader) address() (address, error) {
	var a address
	b, err := r.take(32)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

type objectRef struct {
	id      address
	version uint64
	digest  [32]byte
}

func (r *bcsReader) objectRef() (objectRef, error) {
	var ref objectRef
	id, err := r.address()
	if err != nil {
		return ref, err
	}
	ver, err := r.u64()
	if err != nil {
		return ref, err
	}
	digest, err := r.take(32)
	if err != nil {
		return ref, err
	}
	ref.id = id
	ref.version = ver
	copy(ref.digest[:], digest)
	return ref, nil
}

// callArg is a decoded CallArg: either a Pure BCS-encoded value or a
// reference to an on-chain object.
type callArg struct {
	isPure bool
	pure   []byte
	object objectRef
}

func (r *bcsReader) callArg() (callArg, error) {
	tag, err := r.uleb128()
	if err != nil {
		return callArg{}, err
	}
	switch tag {
	case 0: // Pure(Vec<u8>)
		b, err := r.bytesVec()
		if err != nil {
			return callArg{}, err
		}
		return callArg{isPure: true, pure: b}, nil
	case 1: // Object(ObjectArg)
		objTag, err := r.uleb128()
		if err != nil {
			return callArg{}, err
		}
		switch objTag {
		case 0: // ImmOrOwnedObject(ObjectRef)
			ref, err := r.objectRef()
			if err != nil {
				return callArg{}, err
			}
			return callArg{object: ref}, nil
		case 1: // SharedObject{id, initial_shared_version, mutable}
			id, err := r.address()
			if err != nil {
				return callArg{}, err
			}
			if _, err := r.u64(); err != nil {
				return callArg{}, err
			}
			if _, err := r.u8(); err != nil { // mutable: bool
				return callArg{}, err
			}
			return callArg{object: objectRef{id: id}}, nil
		case 2: // Receiving(ObjectRef)
			ref, err := r.objectRef()
			if err != nil {
				return callArg{}, err
			}
			return callArg{object: ref}, nil
		default:
			return callArg{}, fmt.Errorf("sui: bcs: unsupported ObjectArg variant %d", objTag)
		}
	default:
		return callArg{}, fmt.Errorf("sui: bcs: unsupported CallArg variant %d", tag)
	}
}

// argument is a decoded Argument reference into a PTB's inputs/results.
type argument struct {
	kind  byte // 0=GasCoin, 1=Input, 2=Result, 3=NestedResult
	index uint16
}

func (r *bcsReader) argument() (argument, error) {
	tag, err := r.uleb128()
	if err != nil {
		return argument{}, err
	}
	switch tag {
	case 0:
		return argument{kind: 0}, nil
	case 1:
		idx, err := r.u16()
		if err != nil {
			return argument{}, err
		}
		return argument{kind: 1, index: idx}, nil
	case 2:
		idx, err := r.u16()
		if err != nil {
			return argument{}, err
		}
		return argument{kind: 2, index: idx}, nil
	case 3:
		idx, err := r.u16()
		if err != nil {
			return argument{}, err
		}
		if _, err := r.u16(); err != nil {
			return argument{}, err
		}
		return argument{kind: 3, index: idx}, nil
	default:
		return argument{}, fmt.Errorf("sui: bcs: unsupported Argument variant %d", tag)
	}
}

func (r *bcsReader) argumentVec() ([]argument, error) {
	n, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	out := make([]argument, 0, n)
	for i := uint64(0); i < n; i++ {
		a, err := r.argument()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// command is a decoded PTB Command, narrowed to the two variants a simple
// coin-transfer transaction uses.
type command struct {
	kind           byte // 1=TransferObjects, 2=SplitCoins; others recorded but unused
	transferArgs   []argument
	transferTo     argument
	splitCoinArg   argument
	splitAmountArgs []argument
}

func (r *bcsReader) command() (command, error) {
	tag, err := r.uleb128()
	if err != nil {
		return command{}, err
	}
	switch tag {
	case 0: // MoveCall: package(address) module(string) function(string) type_args(vec) args(vec<Argument>)
		if _, err := r.address(); err != nil {
			return command{}, err
		}
		if _, err := r.bytesVec(); err != nil { // module name
			return command{}, err
		}
		if _, err := r.bytesVec(); err != nil { // function name
			return command{}, err
		}
		ntypes, err := r.uleb128()
		if err != nil {
			return command{}, err
		}
		for i := uint64(0); i < ntypes; i++ {
			if err := skipTypeTag(r); err != nil {
				return command{}, err
			}
		}
		if _, err := r.argumentVec(); err != nil {
			return command{}, err
		}
		return command{kind: 0}, nil
	case 1: // TransferObjects(Vec<Argument>, Argument)
		objs, err := r.argumentVec()
		if err != nil {
			return command{}, err
		}
		to, err := r.argument()
		if err != nil {
			return command{}, err
		}
		return command{kind: 1, transferArgs: objs, transferTo: to}, nil
	case 2: // SplitCoins(Argument, Vec<Argument>)
		coin, err := r.argument()
		if err != nil {
			return command{}, err
		}
		amounts, err := r.argumentVec()
		if err != nil {
			return command{}, err
		}
		return command{kind: 2, splitCoinArg: coin, splitAmountArgs: amounts}, nil
	case 3: // MergeCoins(Argument, Vec<Argument>)
		if _, err := r.argument(); err != nil {
			return command{}, err
		}
		if _, err := r.argumentVec(); err != nil {
			return command{}, err
		}
		return command{kind: 3}, nil
	case 4: // Publish(Vec<Vec<u8>>, Vec<ObjectID>)
		if err := skipVecOfByteVecs(r); err != nil {
			return command{}, err
		}
		if err := skipAddressVec(r); err != nil {
			return command{}, err
		}
		return command{kind: 4}, nil
	case 5: // MakeMoveVec(Option<TypeTag>, Vec<Argument>)
		hasType, err := r.u8()
		if err != nil {
			return command{}, err
		}
		if hasType == 1 {
			if err := skipTypeTag(r); err != nil {
				return command{}, err
			}
		}
		if _, err := r.argumentVec(); err != nil {
			return command{}, err
		}
		return command{kind: 5}, nil
	case 6: // Upgrade(Vec<Vec<u8>>, Vec<ObjectID>, ObjectID, Argument)
		if err := skipVecOfByteVecs(r); err != nil {
			return command{}, err
		}
		if err := skipAddressVec(r); err != nil {
			return command{}, err
		}
		if _, err := r.address(); err != nil {
			return command{}, err
		}
		if _, err := r.argument(); err != nil {
			return command{}, err
		}
		return command{kind: 6}, nil
	default:
		return command{}, fmt.Errorf("sui: bcs: unsupported Command variant %d", tag)
	}
}

func skipVecOfByteVecs(r *bcsReader) error {
	n, err := r.uleb128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		if _, err := r.bytesVec(); err != nil {
			return err
		}
	}
	return nil
}

func skipAddressVec(r *bcsReader) error {
	n, err := r.uleb128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		if _, err := r.address(); err != nil {
			return err
		}
	}
	return nil
}

// skipTypeTag consumes one Move TypeTag without interpreting it: Vector
// (tag 6) recurses into its element type and Struct (tag 7) into
// module/name/type params; everything else is a bare primitive tag with no
// payload.
func skipTypeTag(r *bcsReader) error {
	tag, err := r.uleb128()
	if err != nil {
		return err
	}
	switch tag {
	case 0, 1, 2, 3, 4, 5, 9: // bool,u8,u64,u128,address,signer,u256
		return nil
	case 6: // Vector(Box<TypeTag>)
		return skipTypeTag(r)
	case 7: // Struct{address,module,name,type_params}
		if _, err := r.address(); err != nil {
			return err
		}
		if _, err := r.bytesVec(); err != nil {
			return err
		}
		if _, err := r.bytesVec(); err != nil {
			return err
		}
		n, err := r.uleb128()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := skipTypeTag(r); err != nil {
				return err
			}
		}
		return nil
	case 8: // u16
		return nil
	default:
		return fmt.Errorf("sui: bcs: unsupported TypeTag variant %d", tag)
	}
}

// programmableTransaction is the decoded PTB body this provider reasons about.
type programmableTransaction struct {
	inputs   []callArg
	commands []command
}

func (r *bcsReader) programmableTransaction() (programmableTransaction, error) {
	ninputs, err := r.uleb128()
	if err != nil {
		return programmableTransaction{}, err
	}
	inputs := make([]callArg, 0, ninputs)
	for i := uint64(0); i < ninputs; i++ {
		a, err := r.callArg()
		if err != nil {
			return programmableTransaction{}, fmt.Errorf("sui: bcs: input %d: %w", i, err)
		}
		inputs = append(inputs, a)
	}
	ncommands, err := r.uleb128()
	if err != nil {
		return programmableTransaction{}, err
	}
	commands := make([]command, 0, ncommands)
	for i := uint64(0); i < ncommands; i++ {
		c, err := r.command()
		if err != nil {
			return programmableTransaction{}, fmt.Errorf("sui: bcs: command %d: %w", i, err)
		}
		commands = append(commands, c)
	}
	return programmableTransaction{inputs: inputs, commands: commands}, nil
}

type gasData struct {
	payment []objectRef
	owner   address
	price   uint64
	budget  uint64
}

func (r *bcsReader) gasData() (gasData, error) {
	var g gasData
	n, err := r.uleb128()
	if err != nil {
		return g, err
	}
	for i := uint64(0); i < n; i++ {
		ref, err := r.objectRef()
		if err != nil {
			return g, err
		}
		g.payment = append(g.payment, ref)
	}
	owner, err := r.address()
	if err != nil {
		return g, err
	}
	price, err := r.u64()
	if err != nil {
		return g, err
	}
	budget, err := r.u64()
	if err != nil {
		return g, err
	}
	g.owner, g.price, g.budget = owner, price, budget
	return g, nil
}

// transactionDataV1 is the decoded subset of Sui's TransactionData this
// provider needs: who is transacting, what the PTB does, and who pays gas.
type transactionDataV1 struct {
	ptb    programmableTransaction
	sender address
	gas    gasData
}

// decodeTransactionData parses TransactionData (currently a single-variant
// enum: V1) as produced by the Sui TS/Rust SDKs for a simple programmable
// transaction.
func decodeTransactionData(raw []byte) (transactionDataV1, error) {
	r := newBCSReader(raw)

	dataTag, err := r.uleb128()
	if err != nil {
		return transactionDataV1{}, fmt.Errorf("sui: decode TransactionData variant: %w", err)
	}
	if dataTag != 0 {
		return transactionDataV1{}, fmt.Errorf("sui: unsupported TransactionData variant %d", dataTag)
	}

	kindTag, err := r.uleb128()
	if err != nil {
		return transactionDataV1{}, fmt.Errorf("sui: decode TransactionKind variant: %w", err)
	}
	if kindTag != 0 {
		return transactionDataV1{}, fmt.Errorf("sui: unsupported TransactionKind variant %d (only ProgrammableTransaction is supported)", kindTag)
	}
	ptb, err := r.programmableTransaction()
	if err != nil {
		return transactionDataV1{}, fmt.Errorf("sui: decode ProgrammableTransaction: %w", err)
	}

	sender, err := r.address()
	if err != nil {
		return transactionDataV1{}, fmt.Errorf("sui: decode sender: %w", err)
	}
	gas, err := r.gasData()
	if err != nil {
		return transactionDataV1{}, fmt.Errorf("sui: decode gas data: %w", err)
	}

	expTag, err := r.uleb128() // TransactionExpiration: None=0, Epoch(u64)=1
	if err != nil {
		return transactionDataV1{}, fmt.Errorf("sui: decode expiration: %w", err)
	}
	if expTag == 1 {
		if _, err := r.u64(); err != nil {
			return transactionDataV1{}, fmt.Errorf("sui: decode expiration epoch: %w", err)
		}
	}

	return transactionDataV1{ptb: ptb, sender: sender, gas: gas}, nil
}
