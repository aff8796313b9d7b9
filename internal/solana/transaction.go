package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"keystore/go-backend/internal/contracts"
)

// MaxTransactionSize is the network's hard ceiling for a serialized transaction.
const MaxTransactionSize = 1232

const maxAccountKeys = 256

type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

type MessageHeader struct {
	NumRequiredSignatures uint8
	NumReadonlySigned     uint8
	NumReadonlyUnsigned   uint8
}

type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the legacy (unversioned) transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

type Transaction struct {
	Signatures []Signature
	Message    Message
}

type keyEntry struct {
	key      PublicKey
	signer   bool
	writable bool
}

// NewMessage compiles instructions with feePayer as the first account.
func NewMessage(instructions []Instruction, feePayer PublicKey, blockhash Hash) (Message, error) {
	if feePayer.IsZero() {
		return Message{}, errors.New("fee payer is required")
	}
	entries := []keyEntry{{key: feePayer, signer: true, writable: true}}
	index := map[PublicKey]int{feePayer: 0}
	merge := func(key PublicKey, signer, writable bool) {
		if i, ok := index[key]; ok {
			entries[i].signer = entries[i].signer || signer
			entries[i].writable = entries[i].writable || writable
			return
		}
		index[key] = len(entries)
		entries = append(entries, keyEntry{key: key, signer: signer, writable: writable})
	}
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			merge(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
		merge(ix.ProgramID, false, false)
	}
	if len(entries) > maxAccountKeys {
		return Message{}, fmt.Errorf("too many account keys: %d", len(entries))
	}

	var ordered []keyEntry
	for _, class := range []struct{ signer, writable bool }{
		{true, true}, {true, false}, {false, true}, {false, false},
	} {
		for _, e := range entries {
			if e.signer == class.signer && e.writable == class.writable {
				ordered = append(ordered, e)
			}
		}
	}

	msg := Message{RecentBlockhash: blockhash}
	positions := make(map[PublicKey]uint8, len(ordered))
	for i, e := range ordered {
		positions[e.key] = uint8(i)
		msg.AccountKeys = append(msg.AccountKeys, e.key)
		switch {
		case e.signer:
			msg.Header.NumRequiredSignatures++
			if !e.writable {
				msg.Header.NumReadonlySigned++
			}
		case !e.writable:
			msg.Header.NumReadonlyUnsigned++
		}
	}
	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: positions[ix.ProgramID],
			Accounts:       make([]uint8, 0, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for _, meta := range ix.Accounts {
			compiled.Accounts = append(compiled.Accounts, positions[meta.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

func (m Message) MarshalBinary() ([]byte, error) {
	out := []byte{m.Header.NumRequiredSignatures, m.Header.NumReadonlySigned, m.Header.NumReadonlyUnsigned}
	out = appendCompactU16(out, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		out = append(out, key[:]...)
	}
	out = append(out, m.RecentBlockhash[:]...)
	out = appendCompactU16(out, len(m.Instructions))
	for _, ix := range m.Instructions {
		out = append(out, ix.ProgramIDIndex)
		out = appendCompactU16(out, len(ix.Accounts))
		out = append(out, ix.Accounts...)
		out = appendCompactU16(out, len(ix.Data))
		out = append(out, ix.Data...)
	}
	return out, nil
}

// FeePayer returns the first account key, or the zero key for an empty message.
func (m Message) FeePayer() PublicKey {
	if len(m.AccountKeys) == 0 {
		return PublicKey{}
	}
	return m.AccountKeys[0]
}

func (m Message) isWritable(i int) bool {
	required := int(m.Header.NumRequiredSignatures)
	if i < required {
		return i < required-int(m.Header.NumReadonlySigned)
	}
	return i < len(m.AccountKeys)-int(m.Header.NumReadonlyUnsigned)
}

// Decompile expands compiled instructions back into instructions with account metas.
func (m Message) Decompile() []Instruction {
	out := make([]Instruction, 0, len(m.Instructions))
	for _, ix := range m.Instructions {
		decoded := Instruction{
			ProgramID: m.AccountKeys[ix.ProgramIDIndex],
			Accounts:  make([]AccountMeta, 0, len(ix.Accounts)),
			Data:      append([]byte(nil), ix.Data...),
		}
		for _, idx := range ix.Accounts {
			decoded.Accounts = append(decoded.Accounts, AccountMeta{
				PublicKey:  m.AccountKeys[idx],
				IsSigner:   int(idx) < int(m.Header.NumRequiredSignatures),
				IsWritable: m.isWritable(int(idx)),
			})
		}
		out = append(out, decoded)
	}
	return out
}

// Signers lists the keys whose signatures the message requires.
func (m Message) Signers() []PublicKey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return append([]PublicKey(nil), m.AccountKeys[:n]...)
}

// NewTransaction compiles an unsigned transaction with zeroed signature slots.
func NewTransaction(instructions []Instruction, feePayer PublicKey, blockhash Hash) (*Transaction, error) {
	msg, err := NewMessage(instructions, feePayer, blockhash)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// Sign fills the signature slot of every given key; each key must be a required signer.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return err
	}
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		tx.Signatures = make([]Signature, len(signers))
	}
	for _, key := range keys {
		pub := PublicKeyFromEd25519(key.Public().(ed25519.PublicKey))
		slot := -1
		for i, signer := range signers {
			if signer == pub {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fmt.Errorf("key %s is not a required signer", pub)
		}
		copy(tx.Signatures[slot][:], ed25519.Sign(key, payload))
	}
	return nil
}

func (tx *Transaction) MarshalBinary() ([]byte, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := appendCompactU16(make([]byte, 0, 1+len(tx.Signatures)*SignatureSize+len(msg)), len(tx.Signatures))
	for _, sig := range tx.Signatures {
		out = append(out, sig[:]...)
	}
	return append(out, msg...), nil
}

// Size returns the serialized length in bytes.
func (tx *Transaction) Size() int {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return 0
	}
	return len(raw)
}

// Signature returns the first (fee payer) signature, which identifies the transaction.
func (tx *Transaction) Signature() Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}
	return tx.Signatures[0]
}

type wireReader struct {
	buf []byte
	off int
}

func (r *wireReader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, errors.New("unexpected end of transaction")
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *wireReader) readByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *wireReader) compactLen() (int, error) {
	n, used, err := readCompactU16(r.buf[r.off:])
	if err != nil {
		return 0, err
	}
	r.off += used
	return n, nil
}

// ParseTransaction decodes a legacy wire transaction; versioned messages are rejected.
func ParseTransaction(raw []byte) (*Transaction, error) {
	tx, err := parseTransaction(raw)
	if err != nil {
		return nil, contracts.Validationf("malformed transaction: %v", err)
	}
	return tx, nil
}

func parseTransaction(raw []byte) (*Transaction, error) {
	r := &wireReader{buf: raw}
	sigCount, err := r.compactLen()
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Signatures: make([]Signature, 0, min(sigCount, 16))}
	for i := 0; i < sigCount; i++ {
		b, err := r.take(SignatureSize)
		if err != nil {
			return nil, err
		}
		var sig Signature
		copy(sig[:], b)
		tx.Signatures = append(tx.Signatures, sig)
	}

	header, err := r.take(3)
	if err != nil {
		return nil, err
	}
	if header[0]&0x80 != 0 {
		return nil, errors.New("versioned messages are not supported")
	}
	msg := &tx.Message
	msg.Header = MessageHeader{
		NumRequiredSignatures: header[0],
		NumReadonlySigned:     header[1],
		NumReadonlyUnsigned:   header[2],
	}

	keyCount, err := r.compactLen()
	if err != nil {
		return nil, err
	}
	if keyCount > maxAccountKeys {
		return nil, fmt.Errorf("too many account keys: %d", keyCount)
	}
	for i := 0; i < keyCount; i++ {
		b, err := r.take(PublicKeySize)
		if err != nil {
			return nil, err
		}
		var key PublicKey
		copy(key[:], b)
		msg.AccountKeys = append(msg.AccountKeys, key)
	}
	if int(msg.Header.NumRequiredSignatures) > keyCount ||
		int(msg.Header.NumReadonlySigned) > int(msg.Header.NumRequiredSignatures) ||
		int(msg.Header.NumReadonlyUnsigned) > keyCount-int(msg.Header.NumRequiredSignatures) {
		return nil, errors.New("message header is inconsistent with account keys")
	}
	if sigCount != int(msg.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("signature count %d does not match required %d", sigCount, msg.Header.NumRequiredSignatures)
	}

	blockhash, err := r.take(HashSize)
	if err != nil {
		return nil, err
	}
	copy(msg.RecentBlockhash[:], blockhash)

	ixCount, err := r.compactLen()
	if err != nil {
		return nil, err
	}
	for i := 0; i < ixCount; i++ {
		programIdx, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if int(programIdx) >= keyCount {
			return nil, fmt.Errorf("instruction %d program index out of range", i)
		}
		accCount, err := r.compactLen()
		if err != nil {
			return nil, err
		}
		accounts, err := r.take(accCount)
		if err != nil {
			return nil, err
		}
		for _, idx := range accounts {
			if int(idx) >= keyCount {
				return nil, fmt.Errorf("instruction %d account index out of range", i)
			}
		}
		dataLen, err := r.compactLen()
		if err != nil {
			return nil, err
		}
		data, err := r.take(dataLen)
		if err != nil {
			return nil, err
		}
		msg.Instructions = append(msg.Instructions, CompiledInstruction{
			ProgramIDIndex: programIdx,
			Accounts:       append([]uint8(nil), accounts...),
			Data:           append([]byte(nil), data...),
		})
	}
	if r.off != len(raw) {
		return nil, fmt.Errorf("%d trailing bytes after message", len(raw)-r.off)
	}
	return tx, nil
}
