// Package client drives keystore actions from a device: it reads the
// identity, collects device signatures and submits through a relay or a
// local fee payer.
package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/keystore/account"
	"keystore/go-backend/internal/keystore/confirm"
	"keystore/go-backend/internal/keystore/execute"
	"keystore/go-backend/internal/keystore/message"
	"keystore/go-backend/internal/keystore/signature"
	"keystore/go-backend/internal/keystore/verify"
	"keystore/go-backend/internal/solana"
	"keystore/go-backend/internal/solana/rpc"
)

var (
	ErrIdentityNotFound = errors.New("identity account not found")
	ErrPayerRequired    = errors.New("a local fee payer is required")

	// ErrNonceChanged means the identity executed another action while
	// signatures were being collected. Rebuild and sign again.
	ErrNonceChanged = errors.New("identity nonce changed during signing")
)

type Chain interface {
	confirm.Chain
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.AccountInfo, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (rpc.LatestBlockhash, error)
	SendTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
}

type Relayer interface {
	Relay(ctx context.Context, tx *solana.Transaction, identity solana.PublicKey) (solana.Signature, error)
}

type WalletOptions struct {
	Chain Chain
	// Owner seeds the identity address. Defaults to the payer's key.
	Owner solana.PublicKey
	// Relayer, when set, sponsors Send and SetThreshold.
	Relayer Relayer
	// Payer signs and pays locally. CreateIdentity and AddDevice need it.
	Payer  ed25519.PrivateKey
	Poller *confirm.Poller
	Logger *slog.Logger
}

// Submission is a transaction accepted by the network. Confirmation is set
// when the wallet waited for the outcome.
type Submission struct {
	Signature    solana.Signature
	Confirmation *confirm.Result
}

type Wallet struct {
	chain   Chain
	owner   solana.PublicKey
	accts   execute.Accounts
	relayer Relayer
	payer   ed25519.PrivateKey
	poller  *confirm.Poller
	logger  *slog.Logger
}

func NewWallet(opts WalletOptions) (*Wallet, error) {
	if opts.Chain == nil {
		return nil, errors.New("wallet chain client is required")
	}
	owner := opts.Owner
	if owner.IsZero() && len(opts.Payer) == ed25519.PrivateKeySize {
		owner = solana.PublicKeyFromEd25519(opts.Payer.Public().(ed25519.PublicKey))
	}
	if owner.IsZero() {
		return nil, errors.New("wallet owner is required")
	}
	if opts.Relayer == nil && len(opts.Payer) != ed25519.PrivateKeySize {
		return nil, errors.New("wallet needs a relayer or a fee payer")
	}
	accts, err := execute.ResolveAccounts(owner)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Poller != nil && opts.Poller.Chain == nil {
		opts.Poller.Chain = opts.Chain
	}
	return &Wallet{
		chain:   opts.Chain,
		owner:   owner,
		accts:   accts,
		relayer: opts.Relayer,
		payer:   opts.Payer,
		poller:  opts.Poller,
		logger:  logger,
	}, nil
}

func (w *Wallet) Owner() solana.PublicKey { return w.owner }

func (w *Wallet) Accounts() execute.Accounts { return w.accts }

// Identity reads and decodes the identity account.
func (w *Wallet) Identity(ctx context.Context) (*account.Identity, error) {
	info, err := w.chain.GetAccountInfo(ctx, w.accts.Identity)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, w.accts.Identity)
	}
	if info.Owner != account.ProgramID {
		return nil, contracts.Validationf("identity %s is not owned by the keystore program", w.accts.Identity)
	}
	identity, err := account.Decode(info.Data)
	if err != nil {
		return nil, err
	}
	if err := identity.Validate(); err != nil {
		return nil, fmt.Errorf("identity %s: %w", w.accts.Identity, err)
	}
	return identity, nil
}

// VaultBalance returns the vault's lamports.
func (w *Wallet) VaultBalance(ctx context.Context) (uint64, error) {
	return w.chain.GetBalance(ctx, w.accts.Vault)
}

// Send moves lamports from the vault to to, authorized by devices.
func (w *Wallet) Send(ctx context.Context, to solana.PublicKey, lamports uint64, devices []Device) (Submission, error) {
	if to.IsZero() {
		return Submission{}, contracts.Validationf("recipient is required")
	}
	if lamports == 0 {
		return Submission{}, contracts.Validationf("amount must be positive")
	}
	return w.execute(ctx, message.Send{To: to, Lamports: lamports}, devices)
}

func (w *Wallet) SetThreshold(ctx context.Context, threshold uint8, devices []Device) (Submission, error) {
	if threshold == 0 {
		return Submission{}, contracts.Validationf("threshold must be at least 1")
	}
	return w.execute(ctx, message.SetThreshold{Threshold: threshold}, devices)
}

func (w *Wallet) execute(ctx context.Context, action message.Action, devices []Device) (Submission, error) {
	identity, err := w.Identity(ctx)
	if err != nil {
		return Submission{}, err
	}
	if st, ok := action.(message.SetThreshold); ok && int(st.Threshold) > len(identity.Keys) {
		return Submission{}, contracts.Validationf("threshold %d exceeds %d registered keys", st.Threshold, len(identity.Keys))
	}
	if len(devices) < int(identity.Threshold) {
		return Submission{}, fmt.Errorf("%w: have %d devices, threshold %d", contracts.ErrInsufficientSignatures, len(devices), identity.Threshold)
	}

	msg := message.Build(action, identity.Nonce)
	agg := signature.NewAggregator()
	for _, d := range devices {
		if d.Signer == nil {
			return Submission{}, contracts.Validationf("device %d has no signer", d.KeyIndex)
		}
		sig, err := d.Signer.Sign(ctx, msg)
		if err != nil {
			return Submission{}, fmt.Errorf("device %d: sign: %w", d.KeyIndex, err)
		}
		if err := agg.Add(d.KeyIndex, sig); err != nil {
			return Submission{}, err
		}
	}
	if err := agg.CheckAgainst(identity); err != nil {
		return Submission{}, err
	}
	verifyIxs, executeIx, err := execute.Plan(w.accts, identity, action, agg.Finalize())
	if err != nil {
		return Submission{}, err
	}

	// Signing can take a while behind user prompts; never submit over a
	// nonce that moved.
	current, err := w.Identity(ctx)
	if err != nil {
		return Submission{}, err
	}
	if message.Stale(identity.Nonce, current.Nonce) {
		return Submission{}, fmt.Errorf("%w: signed at %d, now %d", ErrNonceChanged, identity.Nonce, current.Nonce)
	}

	if w.relayer != nil {
		tx, err := execute.Assemble(verifyIxs, &executeIx, w.owner, solana.Hash{})
		if err != nil {
			return Submission{}, err
		}
		sig, err := w.relayer.Relay(ctx, tx, w.accts.Identity)
		if err != nil {
			return Submission{Signature: sig}, err
		}
		w.logger.Info("action relayed", "component", "client", "operation", "execute", "signature", sig.String())
		return Submission{Signature: sig}, nil
	}
	return w.submitLocal(ctx, func(payer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
		return execute.Assemble(verifyIxs, &executeIx, payer, blockhash)
	})
}

// CreateIdentity registers devicePubkey (33 or 65 bytes) as the first key
// of a new identity. The payer is the owner and signs.
func (w *Wallet) CreateIdentity(ctx context.Context, devicePubkey []byte, deviceName string) (Submission, error) {
	if err := w.requireOwnerPayer(); err != nil {
		return Submission{}, err
	}
	key, err := verify.CompressPublicKey(devicePubkey)
	if err != nil {
		return Submission{}, err
	}
	ix, err := execute.CreateIdentityInstruction(w.owner, key, deviceName)
	if err != nil {
		return Submission{}, err
	}
	return w.submitLocal(ctx, singleInstruction(ix))
}

// AddDevice registers another device key on an existing identity.
func (w *Wallet) AddDevice(ctx context.Context, devicePubkey []byte, deviceName string) (Submission, error) {
	if err := w.requireOwnerPayer(); err != nil {
		return Submission{}, err
	}
	key, err := verify.CompressPublicKey(devicePubkey)
	if err != nil {
		return Submission{}, err
	}
	identity, err := w.Identity(ctx)
	if err != nil {
		return Submission{}, err
	}
	if len(identity.Keys) >= account.MaxKeys {
		return Submission{}, contracts.Validationf("identity already has %d keys", account.MaxKeys)
	}
	if identity.KeyIndexOf(key[:]) >= 0 {
		return Submission{}, contracts.Validationf("device key is already registered")
	}
	ix, err := execute.AddKeyInstruction(w.owner, w.accts.Identity, key, deviceName)
	if err != nil {
		return Submission{}, err
	}
	return w.submitLocal(ctx, singleInstruction(ix))
}

func singleInstruction(ix solana.Instruction) func(solana.PublicKey, solana.Hash) (*solana.Transaction, error) {
	return func(payer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
		tx, err := solana.NewTransaction([]solana.Instruction{ix}, payer, blockhash)
		if err != nil {
			return nil, err
		}
		return tx, execute.CheckSize(tx)
	}
}

func (w *Wallet) requireOwnerPayer() error {
	if len(w.payer) != ed25519.PrivateKeySize {
		return ErrPayerRequired
	}
	if solana.PublicKeyFromEd25519(w.payer.Public().(ed25519.PublicKey)) != w.owner {
		return contracts.Validationf("owner %s must be the fee payer", w.owner)
	}
	return nil
}

func (w *Wallet) submitLocal(ctx context.Context, build func(solana.PublicKey, solana.Hash) (*solana.Transaction, error)) (Submission, error) {
	if len(w.payer) != ed25519.PrivateKeySize {
		return Submission{}, ErrPayerRequired
	}
	payer := solana.PublicKeyFromEd25519(w.payer.Public().(ed25519.PublicKey))
	latest, err := w.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return Submission{}, contracts.Submissionf(err, "fetch blockhash")
	}
	tx, err := build(payer, latest.Blockhash)
	if err != nil {
		return Submission{}, err
	}
	if err := tx.Sign(w.payer); err != nil {
		return Submission{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return Submission{}, err
	}
	sig, err := w.chain.SendTransaction(ctx, raw)
	if err != nil {
		return Submission{}, contracts.Submissionf(err, "send transaction")
	}
	if sig.IsZero() {
		sig = tx.Signature()
	}
	out := Submission{Signature: sig}
	if w.poller == nil {
		return out, nil
	}
	res, err := w.poller.Confirm(ctx, sig, latest.LastValidBlockHeight)
	if err != nil {
		return out, err
	}
	out.Confirmation = &res
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("transaction %s: %w", sig, err)
	}
	return out, nil
}
