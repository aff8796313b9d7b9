// Package execute builds keystore program instructions and assembles them
// into transactions.
package execute

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/keystore/account"
	"keystore/go-backend/internal/keystore/message"
	"keystore/go-backend/internal/keystore/signature"
	"keystore/go-backend/internal/keystore/verify"
	"keystore/go-backend/internal/solana"
)

func instructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

var (
	createIdentityDiscriminator = instructionDiscriminator("create_identity")
	addKeyDiscriminator         = instructionDiscriminator("add_key")
	executeDiscriminator        = instructionDiscriminator("execute")
)

// signerEntrySize is key index, signature and recovery id.
const signerEntrySize = 1 + signature.Size + 1

// Accounts addresses the identity an instruction operates on.
type Accounts struct {
	Identity solana.PublicKey
	Vault    solana.PublicKey
}

// ResolveAccounts derives the identity and vault addresses for owner.
func ResolveAccounts(owner solana.PublicKey) (Accounts, error) {
	identity, _, err := account.IdentityAddress(owner)
	if err != nil {
		return Accounts{}, err
	}
	vault, _, err := account.VaultAddress(identity)
	if err != nil {
		return Accounts{}, err
	}
	return Accounts{Identity: identity, Vault: vault}, nil
}

// ExecuteInstruction encodes the action without nonce followed by the
// signer list. The recipient slot is the vault itself for actions that move
// no funds.
func ExecuteInstruction(accts Accounts, action message.Action, signers []signature.Signer) solana.Instruction {
	encoded := message.EncodeAction(action)
	data := make([]byte, 0, 8+len(encoded)+4+len(signers)*signerEntrySize)
	data = append(data, executeDiscriminator...)
	data = append(data, encoded...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(signers)))
	for _, s := range signers {
		data = append(data, s.KeyIndex)
		data = append(data, s.Signature[:]...)
		data = append(data, 0)
	}

	recipient := accts.Vault
	if send, ok := action.(message.Send); ok {
		recipient = send.To
	}
	return solana.Instruction{
		ProgramID: account.ProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: accts.Identity, IsWritable: true},
			{PublicKey: accts.Vault, IsWritable: true},
			{PublicKey: recipient, IsWritable: true},
			{PublicKey: solana.SysvarInstructionsID},
			{PublicKey: solana.SystemProgramID},
		},
		Data: data,
	}
}

func encodeKeyAndName(discriminator []byte, pubkey [account.CompressedKeySize]byte, name string) ([]byte, error) {
	if len(name) > account.MaxNameLen {
		return nil, contracts.Validationf("device name is %d bytes, max %d", len(name), account.MaxNameLen)
	}
	if err := verify.ValidateCompressed(pubkey); err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(discriminator)+len(pubkey)+4+len(name))
	data = append(data, discriminator...)
	data = append(data, pubkey[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(name)))
	return append(data, name...), nil
}

// CreateIdentityInstruction registers the first device key. The owner pays
// and must sign.
func CreateIdentityInstruction(owner solana.PublicKey, pubkey [account.CompressedKeySize]byte, name string) (solana.Instruction, error) {
	data, err := encodeKeyAndName(createIdentityDiscriminator, pubkey, name)
	if err != nil {
		return solana.Instruction{}, err
	}
	accts, err := ResolveAccounts(owner)
	if err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: account.ProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: owner, IsSigner: true, IsWritable: true},
			{PublicKey: accts.Identity, IsWritable: true},
			{PublicKey: accts.Vault},
			{PublicKey: solana.SystemProgramID},
		},
		Data: data,
	}, nil
}

func AddKeyInstruction(owner, identity solana.PublicKey, pubkey [account.CompressedKeySize]byte, name string) (solana.Instruction, error) {
	data, err := encodeKeyAndName(addKeyDiscriminator, pubkey, name)
	if err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: account.ProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: owner, IsSigner: true, IsWritable: true},
			{PublicKey: identity, IsWritable: true},
		},
		Data: data,
	}, nil
}

// Plan returns the verification instructions followed by the execute
// instruction for an action at the identity's current nonce. Each signer is
// verified against the key registered at its own index.
func Plan(accts Accounts, identity *account.Identity, action message.Action, signers []signature.Signer) ([]solana.Instruction, solana.Instruction, error) {
	if identity == nil {
		return nil, solana.Instruction{}, contracts.Validationf("identity is required")
	}
	if err := identity.Validate(); err != nil {
		return nil, solana.Instruction{}, err
	}
	if err := signature.Check(signers, identity); err != nil {
		return nil, solana.Instruction{}, err
	}
	msg := message.Build(action, identity.Nonce)
	verifyIxs := make([]solana.Instruction, 0, len(signers))
	for _, s := range signers {
		key := identity.Keys[s.KeyIndex].PublicKey
		verifyIxs = append(verifyIxs, verify.Instruction(key, msg, s.Signature))
	}
	return verifyIxs, ExecuteInstruction(accts, action, signers), nil
}

// Assemble orders verification instructions before the single execute
// instruction and checks the serialized size.
func Assemble(verifyIxs []solana.Instruction, executeIx *solana.Instruction, feePayer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
	if executeIx == nil {
		return nil, contracts.ErrNoInstructions
	}
	for i, ix := range verifyIxs {
		if !isSignatureCheck(ix) {
			return nil, contracts.Validationf("instruction %d precedes execute but is not a signature check", i)
		}
	}
	ixs := make([]solana.Instruction, 0, len(verifyIxs)+1)
	ixs = append(ixs, verifyIxs...)
	ixs = append(ixs, *executeIx)
	tx, err := solana.NewTransaction(ixs, feePayer, blockhash)
	if err != nil {
		return nil, contracts.Validationf("compile transaction: %v", err)
	}
	if err := CheckSize(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CheckSponsorable accepts only what a fee sponsor may sign for: signature
// checks followed by exactly one keystore execute instruction. No instruction
// may require a signer or reference the sponsor's key.
func CheckSponsorable(ixs []solana.Instruction, sponsor solana.PublicKey) error {
	if len(ixs) == 0 {
		return contracts.ErrNoInstructions
	}
	last := len(ixs) - 1
	for i, ix := range ixs {
		if ix.ProgramID == sponsor {
			return contracts.Validationf("instruction %d invokes the fee payer", i)
		}
		for _, meta := range ix.Accounts {
			if meta.PublicKey == sponsor {
				return contracts.Validationf("instruction %d references the fee payer", i)
			}
			if meta.IsSigner {
				return contracts.Validationf("instruction %d requires signer %s", i, meta.PublicKey)
			}
		}
		if i < last {
			if !isSignatureCheck(ix) {
				return contracts.Validationf("instruction %d precedes execute but is not a signature check", i)
			}
			continue
		}
		if !isExecute(ix) {
			return contracts.Validationf("instruction %d is not a keystore execute", i)
		}
	}
	return nil
}

func isSignatureCheck(ix solana.Instruction) bool {
	return ix.ProgramID == solana.Secp256r1ProgramID && len(ix.Accounts) == 0
}

func isExecute(ix solana.Instruction) bool {
	return ix.ProgramID == account.ProgramID && bytes.HasPrefix(ix.Data, executeDiscriminator)
}

// CheckSize rejects transactions that exceed the network ceiling.
func CheckSize(tx *solana.Transaction) error {
	if size := tx.Size(); size > solana.MaxTransactionSize {
		return fmt.Errorf("%w: %d bytes, max %d", contracts.ErrTooLarge, size, solana.MaxTransactionSize)
	}
	return nil
}
