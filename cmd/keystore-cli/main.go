package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"keystore/go-backend/internal/client"
	"keystore/go-backend/internal/config"
	"keystore/go-backend/internal/keystore/account"
	"keystore/go-backend/internal/keystore/execute"
	"keystore/go-backend/internal/keystore/verify"
	"keystore/go-backend/internal/securestore"
	"keystore/go-backend/internal/solana"
	"keystore/go-backend/internal/solana/rpc"
	"keystore/go-backend/pkg/models"

	"github.com/tyler-smith/go-bip39"
)

const (
	exitOK            = 0
	exitInvalidInput  = 10
	exitNetworkFailed = 20
	exitStorageFailed = 30
)

const (
	defaultRPCURL   = "https://api.devnet.solana.com"
	defaultRelayURL = "http://localhost:3001"
	deviceKeyName   = "keystore_device_key"
	requestTimeout  = 30 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "keygen":
		runKeygen(os.Args[2:])
	case "address":
		runAddress(os.Args[2:])
	case "account":
		runAccount(os.Args[2:])
	case "device":
		runDevice(os.Args[2:])
	case "relay-status":
		runRelayStatus(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "encrypted key file to write")
	passphrase := fs.String("passphrase", "", "key file passphrase (or RELAYER_KEY_PASSPHRASE)")
	withMnemonic := fs.Bool("mnemonic", false, "derive the key from a new BIP-39 mnemonic")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*out) == "" {
		writeStderrln("out is required", exitInvalidInput)
	}
	pass := *passphrase
	if pass == "" {
		pass = os.Getenv("RELAYER_KEY_PASSPHRASE")
	}
	if pass == "" {
		writeStderrln("passphrase is required", exitInvalidInput)
	}

	var (
		key      ed25519.PrivateKey
		mnemonic string
		err      error
	)
	if *withMnemonic {
		mnemonic, err = newMnemonic()
		if err == nil {
			key, err = config.LoadRelayerKey(config.KeyConfig{Mnemonic: mnemonic})
		}
	} else {
		_, key, err = ed25519.GenerateKey(rand.Reader)
	}
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if err := securestore.WriteKeyFile(*out, pass, key); err != nil {
		writeStderrln(err.Error(), exitStorageFailed)
	}

	pub := solana.PublicKeyFromEd25519(key.Public().(ed25519.PublicKey))
	result := map[string]any{"public_key": pub.String(), "key_file": *out}
	if mnemonic != "" {
		result["mnemonic"] = mnemonic
	}
	if *asJSON {
		if err := printJSON(result); err != nil {
			writeStderrln(err.Error(), exitInvalidInput)
		}
	} else {
		writeStdoutf(exitInvalidInput, "public_key=%s key_file=%s\n", pub, *out)
		if mnemonic != "" {
			writeStdoutf(exitInvalidInput, "mnemonic=%q\n", mnemonic)
		}
	}
	os.Exit(exitOK)
}

func newMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func runAddress(args []string) {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	owner := fs.String("owner", "", "owner public key (base58)")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	accts := mustResolve(*owner)
	if *asJSON {
		if err := printJSON(map[string]string{"identity": accts.Identity.String(), "vault": accts.Vault.String()}); err != nil {
			writeStderrln(err.Error(), exitInvalidInput)
		}
	} else {
		writeStdoutf(exitInvalidInput, "identity=%s\nvault=%s\n", accts.Identity, accts.Vault)
	}
	os.Exit(exitOK)
}

type accountReport struct {
	Identity  string       `json:"identity"`
	Vault     string       `json:"vault"`
	Threshold uint8        `json:"threshold"`
	Nonce     uint64       `json:"nonce"`
	Balance   float64      `json:"vault_balance"`
	Keys      []keySummary `json:"keys"`
}

type keySummary struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
	AddedAt   int64  `json:"added_at"`
}

func runAccount(args []string) {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	owner := fs.String("owner", "", "owner public key (base58)")
	rpcURL := fs.String("rpc-url", defaultRPCURL, "Solana JSON-RPC endpoint")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	accts := mustResolve(*owner)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	chain := rpc.New(*rpcURL)
	info, err := chain.GetAccountInfo(ctx, accts.Identity)
	if err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}
	if info == nil {
		writeStderrln(fmt.Sprintf("identity %s does not exist", accts.Identity), exitInvalidInput)
	}
	if info.Owner != account.ProgramID {
		writeStderrln(fmt.Sprintf("identity %s is not owned by the keystore program", accts.Identity), exitInvalidInput)
	}
	id, err := account.Decode(info.Data)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	lamports, err := chain.GetBalance(ctx, accts.Vault)
	if err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}

	report := accountReport{
		Identity:  accts.Identity.String(),
		Vault:     accts.Vault.String(),
		Threshold: id.Threshold,
		Nonce:     id.Nonce,
		Balance:   models.LamportsToSOL(lamports),
	}
	for i, k := range id.Keys {
		report.Keys = append(report.Keys, keySummary{Index: i, Name: k.Name, PublicKey: hex.EncodeToString(k.PublicKey[:]), AddedAt: k.AddedAt})
	}
	if *asJSON {
		if err := printJSON(report); err != nil {
			writeStderrln(err.Error(), exitInvalidInput)
		}
		os.Exit(exitOK)
	}
	writeStdoutf(exitInvalidInput, "identity=%s vault=%s balance=%.9f SOL\n", report.Identity, report.Vault, report.Balance)
	writeStdoutf(exitInvalidInput, "threshold=%d/%d nonce=%d\n", report.Threshold, len(report.Keys), report.Nonce)
	for _, k := range report.Keys {
		writeStdoutf(exitInvalidInput, "[%d] %s %s\n", k.Index, k.Name, k.PublicKey)
	}
	os.Exit(exitOK)
}

// runDevice creates a software device key and stores it with its
// credential record. The public key is what create/add-key registers.
func runDevice(args []string) {
	fs := flag.NewFlagSet("device", flag.ExitOnError)
	storePath := fs.String("store", "", "encrypted credential store path")
	pin := fs.String("pin", "", "credential store passphrase")
	owner := fs.String("owner", "", "owner public key (base58)")
	name := fs.String("name", "device", "device name")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*storePath) == "" || *pin == "" {
		writeStderrln("store and pin are required", exitInvalidInput)
	}
	if len(*name) > account.MaxNameLen {
		writeStderrln(fmt.Sprintf("device name exceeds %d bytes", account.MaxNameLen), exitInvalidInput)
	}
	accts := mustResolve(*owner)

	store, err := securestore.NewFileCredentialStore(*storePath, *pin)
	if err != nil {
		writeStderrln(err.Error(), exitStorageFailed)
	}
	if _, ok, err := client.LoadCredential(store); err != nil {
		writeStderrln(err.Error(), exitStorageFailed)
	} else if ok {
		writeStderrln("credential store already holds a device", exitInvalidInput)
	}

	signer, err := client.NewSoftwareSigner()
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	pub, err := signer.PublicKey()
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	compressed, err := verify.CompressPublicKey(pub)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	der, err := x509.MarshalECPrivateKey(signer.PrivateKey())
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	credID := make([]byte, 16)
	if _, err := rand.Read(credID); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if err := store.Set(deviceKeyName, der); err != nil {
		writeStderrln(err.Error(), exitStorageFailed)
	}
	cred := client.Credential{CredentialID: credID, PublicKey: compressed[:], Owner: accts.Identity.String(), DeviceName: *name}
	if err := client.SaveCredential(store, cred); err != nil {
		writeStderrln(err.Error(), exitStorageFailed)
	}

	if *asJSON {
		if err := printJSON(map[string]string{
			"public_key":    hex.EncodeToString(compressed[:]),
			"credential_id": hex.EncodeToString(credID),
			"identity":      accts.Identity.String(),
		}); err != nil {
			writeStderrln(err.Error(), exitInvalidInput)
		}
	} else {
		writeStdoutf(exitInvalidInput, "public_key=%x credential_id=%x identity=%s\n", compressed, credID, accts.Identity)
	}
	os.Exit(exitOK)
}

func runRelayStatus(args []string) {
	fs := flag.NewFlagSet("relay-status", flag.ExitOnError)
	relayURL := fs.String("relay-url", defaultRelayURL, "relay base URL")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	rc := client.NewRelayerClient(*relayURL)
	health, err := rc.Health(ctx)
	if err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}
	stats, err := rc.Stats(ctx)
	if err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}
	if *asJSON {
		if err := printJSON(map[string]any{"health": health, "stats": stats}); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
		os.Exit(exitOK)
	}
	writeStdoutf(exitNetworkFailed, "status=%s relayer=%s network=%s\n", health.Status, health.Relayer, health.Network)
	writeStdoutf(exitNetworkFailed, "balance=%.9f SOL relayed=%d fees=%.9f SOL uptime=%.2fh\n",
		stats.Balance, stats.TransactionsRelayed, stats.TotalFeesSpent, stats.UptimeHours)
	os.Exit(exitOK)
}

func mustResolve(owner string) execute.Accounts {
	if strings.TrimSpace(owner) == "" {
		writeStderrln("owner is required", exitInvalidInput)
	}
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(owner))
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	accts, err := execute.ResolveAccounts(key)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	return accts
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	writeStdoutln(exitInvalidInput, "keystore-cli <command> [flags]")
	writeStdoutln(exitInvalidInput, "commands:")
	writeStdoutln(exitInvalidInput, "  keygen        --out <path> [--passphrase p] [--mnemonic] [--json]")
	writeStdoutln(exitInvalidInput, "  address       --owner <pubkey> [--json]")
	writeStdoutln(exitInvalidInput, "  account       --owner <pubkey> [--rpc-url url] [--json]")
	writeStdoutln(exitInvalidInput, "  device        --store <path> --pin <pin> --owner <pubkey> [--name n] [--json]")
	writeStdoutln(exitInvalidInput, "  relay-status  [--relay-url url] [--json]")
}

func writeStdoutln(exitCode int, line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitCode)
	}
}

func writeStdoutf(exitCode int, format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(exitCode)
	}
}

func writeStderrln(line string, exitCode int) {
	if _, err := fmt.Fprintln(os.Stderr, line); err != nil {
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}
