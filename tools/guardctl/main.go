// Package main provides guardctl, the operator CLI for a NeoGuard server:
// vault deployment, recovery lifecycle control, and offline signing of
// emergency withdrawal tokens.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/neoguard/internal/authorizer"
	"github.com/R3E-Network/neoguard/internal/httputil"
	"github.com/R3E-Network/neoguard/internal/signer"
)

func main() {
	predictCmd := flag.NewFlagSet("predict", flag.ExitOnError)
	predictServer := serverFlag(predictCmd)
	predictDeployer := predictCmd.String("deployer", "", "Deployer address (sequence-salted prediction)")
	predictSequence := predictCmd.Int64("sequence", -1, "Deployment sequence (-1 for the single-vault salt)")
	predictSalt := predictCmd.String("salt", "", "Raw salt in hex (overrides -deployer)")
	predictImpl := predictCmd.String("implementation", "", "Implementation template hash (empty for the server's current one)")

	deployCmd := flag.NewFlagSet("deploy", flag.ExitOnError)
	deployServer := serverFlag(deployCmd)
	deployOwner := deployCmd.String("owner", "", "Initial owner address (empty defaults to the caller)")
	deployKind := deployCmd.String("kind", "key", "Recovery signer kind: key or attestor")
	deployPubKey := deployCmd.String("recovery-key", "", "Compressed recovery public key in hex (kind=key)")
	deployRecAddr := deployCmd.String("recovery-address", "", "Recovery identity address (kind=attestor)")
	deployTimelock := deployCmd.Duration("timelock", 0, "Recovery timelock (0 for the server default)")
	deployAuthMode := deployCmd.String("auth-mode", "", "Emergency withdrawal authorization: caller or signature")
	deployMulti := deployCmd.Bool("multi", false, "Salt with a per-deployer sequence (many vaults per deployer)")
	deployBootstrap := deployCmd.Bool("bootstrap", false, "Start the vault with a live self-recovery request")

	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusServer := serverFlag(statusCmd)
	statusVault := statusCmd.String("vault", "", "Vault address")

	initiateCmd := flag.NewFlagSet("initiate", flag.ExitOnError)
	initiateServer := serverFlag(initiateCmd)
	initiateVault := initiateCmd.String("vault", "", "Vault address")
	initiateNewOwner := initiateCmd.String("new-owner", "", "Address ownership transfers to after the timelock")

	cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
	cancelServer := serverFlag(cancelCmd)
	cancelVault := cancelCmd.String("vault", "", "Vault address")

	executeCmd := flag.NewFlagSet("execute", flag.ExitOnError)
	executeServer := serverFlag(executeCmd)
	executeVault := executeCmd.String("vault", "", "Vault address")

	emergencyCmd := flag.NewFlagSet("emergency", flag.ExitOnError)
	emergencyServer := serverFlag(emergencyCmd)
	emergencyVault := emergencyCmd.String("vault", "", "Vault address")
	emergencyTo := emergencyCmd.String("to", "", "Destination address")
	emergencyAmount := emergencyCmd.Int64("amount", 0, "Amount to withdraw")
	emergencyCounter := emergencyCmd.Uint64("counter", 0, "Vault replay counter the token was signed for")
	emergencyToken := emergencyCmd.String("token", "", "Hex signature token (empty submits as the recovery key itself)")

	eventsCmd := flag.NewFlagSet("events", flag.ExitOnError)
	eventsServer := serverFlag(eventsCmd)
	eventsVault := eventsCmd.String("vault", "", "Vault address (empty lists all recent events)")
	eventsLimit := eventsCmd.Int("limit", 20, "Maximum events to fetch")

	signCmd := flag.NewFlagSet("sign", flag.ExitOnError)
	signSeed := signCmd.String("seed", "", "Master seed for key derivation")
	signLabel := signCmd.String("label", "recovery", "Derivation label")
	signVault := signCmd.String("vault", "", "Vault address")
	signTo := signCmd.String("to", "", "Destination address")
	signAmount := signCmd.Int64("amount", 0, "Amount to withdraw")
	signCounter := signCmd.Uint64("counter", 0, "Vault replay counter (from status)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "predict":
		predictCmd.Parse(os.Args[2:])
		handlePredict(*predictServer, *predictDeployer, *predictSequence, *predictSalt, *predictImpl)
	case "deploy":
		deployCmd.Parse(os.Args[2:])
		handleDeploy(*deployServer, deployParams{
			owner:           *deployOwner,
			kind:            *deployKind,
			publicKey:       *deployPubKey,
			recoveryAddress: *deployRecAddr,
			timelock:        *deployTimelock,
			authMode:        *deployAuthMode,
			multi:           *deployMulti,
			bootstrap:       *deployBootstrap,
		})
	case "status":
		statusCmd.Parse(os.Args[2:])
		handleStatus(*statusServer, *statusVault)
	case "initiate":
		initiateCmd.Parse(os.Args[2:])
		handleInitiate(*initiateServer, *initiateVault, *initiateNewOwner)
	case "cancel":
		cancelCmd.Parse(os.Args[2:])
		handleSimpleRecoveryOp(*cancelServer, *cancelVault, "cancel")
	case "execute":
		executeCmd.Parse(os.Args[2:])
		handleSimpleRecoveryOp(*executeServer, *executeVault, "execute")
	case "emergency":
		emergencyCmd.Parse(os.Args[2:])
		handleEmergency(*emergencyServer, *emergencyVault, *emergencyTo, *emergencyAmount, *emergencyCounter, *emergencyToken)
	case "events":
		eventsCmd.Parse(os.Args[2:])
		handleEvents(*eventsServer, *eventsVault, *eventsLimit)
	case "sign":
		signCmd.Parse(os.Args[2:])
		handleSign(*signSeed, *signLabel, *signVault, *signTo, *signAmount, *signCounter)
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`NeoGuard CLI

Usage:
  guardctl <command> [options]

Commands:
  predict   Compute the address a deployment would land on
    -deployer <addr>   Deployer address
    -sequence <n>      Deployment sequence (-1 for the single-vault salt)
    -salt <hex>        Raw salt (overrides -deployer)

  deploy    Deploy a vault at its deterministic address
    -owner <addr>          Initial owner (defaults to the caller)
    -kind <key|attestor>   Recovery signer kind
    -recovery-key <hex>    Compressed recovery public key
    -recovery-address <a>  Recovery identity address (attestors)
    -timelock <duration>   Recovery timelock, e.g. 168h
    -auth-mode <mode>      Emergency authorization: caller or signature
    -multi                 Many vaults per deployer
    -bootstrap             Start with a live self-recovery request

  status    Show a vault's state, balances, and pending recovery
    -vault <addr>

  initiate  Start a recovery (recovery key only)
    -vault <addr> -new-owner <addr>

  cancel    Cancel the pending recovery (owner or recovery key)
    -vault <addr>

  execute   Execute an elapsed recovery (anyone)
    -vault <addr>

  emergency Submit an emergency withdrawal
    -vault <addr> -to <addr> -amount <n> -counter <n> [-token <hex>]

  events    Show recent vault activity
    -vault <addr> -limit <n>

  sign      Mint an emergency withdrawal token offline
    -seed <s> -label <l> -vault <addr> -to <addr> -amount <n> -counter <n>

Environment:
  NEOGUARD_SERVER  Server base URL (default http://localhost:8090)
  NEOGUARD_TOKEN   Bearer token for authenticated deployments
  NEOGUARD_CALLER  Caller address for servers running without auth

Examples:
  # Where will my vault land?
  guardctl predict -deployer NVaultOwnerAddr

  # Deploy with a one-week timelock and signature-mode withdrawals
  guardctl deploy -recovery-key 02ab... -timelock 168h -auth-mode signature

  # Mint a withdrawal token without touching the server
  guardctl sign -seed "$SEED" -vault N... -to N... -amount 50 -counter 3`)
}

func serverFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("NEOGUARD_SERVER")
	if def == "" {
		def = "http://localhost:8090"
	}
	return fs.String("server", def, "NeoGuard server base URL")
}

func newClient(server string) *httputil.Client {
	cfg := httputil.ClientConfig{
		BaseURL: server,
		Timeout: 15 * time.Second,
	}
	if token := os.Getenv("NEOGUARD_TOKEN"); token != "" {
		cfg.Token = token
	} else if caller := os.Getenv("NEOGUARD_CALLER"); caller != "" {
		// Dev-mode servers trust the X-Caller header instead of a token.
		cfg.Token = caller
		cfg.TokenHeader = "X-Caller"
	}
	return httputil.NewClient(cfg)
}

func fetch(client *httputil.Client, method, path string, body interface{}) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Do(ctx, method, path, body)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	payload, _, err := httputil.ReadAllWithLimit(resp.Body, 8<<20)
	if err != nil {
		fmt.Printf("Read response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(payload, "error.message").String()
		if msg == "" {
			msg = string(payload)
		}
		fmt.Printf("Server refused (%d): %s\n", resp.StatusCode, msg)
		os.Exit(1)
	}
	return payload
}

// =============================================================================
// Registry commands
// =============================================================================

func handlePredict(server, deployer string, sequence int64, salt, implementation string) {
	body := map[string]interface{}{}
	switch {
	case salt != "":
		body["salt"] = salt
		if implementation != "" {
			body["implementation"] = implementation
		}
	case deployer != "":
		body["deployer"] = deployer
		if sequence >= 0 {
			body["sequence"] = uint64(sequence)
		}
	default:
		fmt.Println("Specify -deployer or -salt")
		os.Exit(1)
	}

	payload := fetch(newClient(server), http.MethodPost, "/v1/registry/predict", body)
	fmt.Println(gjson.GetBytes(payload, "address").String())
}

type deployParams struct {
	owner           string
	kind            string
	publicKey       string
	recoveryAddress string
	timelock        time.Duration
	authMode        string
	multi           bool
	bootstrap       bool
}

func handleDeploy(server string, p deployParams) {
	body := map[string]interface{}{
		"recovery_kind": p.kind,
	}
	if p.owner != "" {
		body["owner"] = p.owner
	}
	if p.publicKey != "" {
		body["recovery_public_key"] = p.publicKey
	}
	if p.recoveryAddress != "" {
		body["recovery_address"] = p.recoveryAddress
	}
	if p.timelock > 0 {
		body["timelock_seconds"] = int64(p.timelock.Seconds())
	}
	if p.authMode != "" {
		body["auth_mode"] = p.authMode
	}
	if p.multi {
		body["multi_vault"] = true
	}
	if p.bootstrap {
		body["bootstrap"] = true
	}

	payload := fetch(newClient(server), http.MethodPost, "/v1/registry/deployments", body)

	fmt.Println("=== Vault Deployed ===")
	fmt.Printf("  Address:        %s\n", gjson.GetBytes(payload, "vault.Address").String())
	fmt.Printf("  Owner:          %s\n", gjson.GetBytes(payload, "vault.Owner").String())
	fmt.Printf("  Recovery key:   %s\n", gjson.GetBytes(payload, "vault.RecoveryKey").String())
	fmt.Printf("  Timelock:       %s\n", timelockString(gjson.GetBytes(payload, "vault.Timelock").Int()))
	fmt.Printf("  Auth mode:      %s\n", gjson.GetBytes(payload, "vault.AuthMode").String())
	fmt.Printf("  Salt:           %s\n", gjson.GetBytes(payload, "record.Salt").String())
	fmt.Printf("  Implementation: %s\n", gjson.GetBytes(payload, "record.Implementation").String())
	if seq := gjson.GetBytes(payload, "record.Sequence").Uint(); seq > 0 {
		fmt.Printf("  Sequence:       %d\n", seq)
	}
}

// timelockString renders the nanosecond duration JSON carries for
// time.Duration fields.
func timelockString(nanos int64) string {
	return time.Duration(nanos).String()
}

// =============================================================================
// Vault commands
// =============================================================================

func handleStatus(server, vault string) {
	requireVault(vault)
	payload := fetch(newClient(server), http.MethodGet, "/v1/vaults/"+vault, nil)

	fmt.Println("=== Vault Status ===")
	fmt.Printf("  Address:   %s\n", gjson.GetBytes(payload, "vault.Address").String())
	fmt.Printf("  State:     %s\n", gjson.GetBytes(payload, "state").String())
	fmt.Printf("  Owner:     %s\n", gjson.GetBytes(payload, "vault.Owner").String())
	fmt.Printf("  Balance:   %d\n", gjson.GetBytes(payload, "vault.Balance").Int())
	fmt.Printf("  Counter:   %d\n", gjson.GetBytes(payload, "vault.Counter").Int())
	fmt.Printf("  Timelock:  %s\n", timelockString(gjson.GetBytes(payload, "vault.Timelock").Int()))

	if req := gjson.GetBytes(payload, "vault.Request"); req.Exists() && req.Get("Active").Bool() {
		fmt.Println("  Pending recovery:")
		fmt.Printf("    New owner:     %s\n", req.Get("NewOwner").String())
		fmt.Printf("    Initiated by:  %s\n", req.Get("InitiatedBy").String())
		fmt.Printf("    Execute after: %s\n", req.Get("ExecuteAfter").String())
	}
}

func handleInitiate(server, vault, newOwner string) {
	requireVault(vault)
	if newOwner == "" {
		fmt.Println("Specify -new-owner")
		os.Exit(1)
	}

	payload := fetch(newClient(server), http.MethodPost, "/v1/vaults/"+vault+"/recovery/initiate",
		map[string]string{"new_owner": newOwner})

	fmt.Println("Recovery initiated")
	fmt.Printf("  Execute after: %s\n", gjson.GetBytes(payload, "Request.ExecuteAfter").String())
}

func handleSimpleRecoveryOp(server, vault, op string) {
	requireVault(vault)
	payload := fetch(newClient(server), http.MethodPost, "/v1/vaults/"+vault+"/recovery/"+op, nil)

	switch op {
	case "cancel":
		fmt.Println("Recovery canceled")
	case "execute":
		fmt.Println("Recovery executed")
		fmt.Printf("  New owner: %s\n", gjson.GetBytes(payload, "Owner").String())
	}
}

func handleEmergency(server, vault, to string, amount int64, counter uint64, token string) {
	requireVault(vault)
	if to == "" || amount <= 0 {
		fmt.Println("Specify -to and a positive -amount")
		os.Exit(1)
	}

	body := map[string]interface{}{
		"to":      to,
		"amount":  amount,
		"counter": counter,
	}
	if token != "" {
		body["token"] = token
	}

	payload := fetch(newClient(server), http.MethodPost, "/v1/vaults/"+vault+"/emergency-withdraw", body)

	fmt.Println("Emergency withdrawal complete")
	fmt.Printf("  Remaining balance: %d\n", gjson.GetBytes(payload, "Balance").Int())
	fmt.Printf("  Counter:           %d\n", gjson.GetBytes(payload, "Counter").Int())
}

func handleEvents(server, vault string, limit int) {
	path := "/v1/events?limit=" + strconv.Itoa(limit)
	if vault != "" {
		path = "/v1/vaults/" + vault + "/events?limit=" + strconv.Itoa(limit)
	}
	payload := fetch(newClient(server), http.MethodGet, path, nil)

	list := gjson.ParseBytes(payload)
	if !list.IsArray() || len(list.Array()) == 0 {
		fmt.Println("No events")
		return
	}
	list.ForEach(func(_, e gjson.Result) bool {
		line := fmt.Sprintf("%s  %-32s %s",
			e.Get("timestamp").String(),
			e.Get("type").String(),
			e.Get("message").String())
		if actor := e.Get("actor").String(); actor != "" {
			line += "  (" + actor + ")"
		}
		fmt.Println(line)
		return true
	})
}

// =============================================================================
// Offline signing
// =============================================================================

func handleSign(seed, label, vault, to string, amount int64, counter uint64) {
	if seed == "" {
		fmt.Println("Specify -seed")
		os.Exit(1)
	}
	requireVault(vault)
	if to == "" || amount <= 0 {
		fmt.Println("Specify -to and a positive -amount")
		os.Exit(1)
	}

	key, err := signer.DerivePrivateKey([]byte(seed), label)
	if err != nil {
		fmt.Printf("Derive key: %v\n", err)
		os.Exit(1)
	}
	compressed := signer.CompressPublicKey(&key.PublicKey)
	ks, err := authorizer.NewKeySigner(compressed)
	if err != nil {
		fmt.Printf("Build signer: %v\n", err)
		os.Exit(1)
	}

	msg := authorizer.WithdrawalMessage{
		Vault:   vault,
		To:      to,
		Amount:  amount,
		Counter: counter,
	}
	digest, err := msg.Digest()
	if err != nil {
		fmt.Printf("Digest message: %v\n", err)
		os.Exit(1)
	}
	token, err := authorizer.Sign(nil, key, digest)
	if err != nil {
		fmt.Printf("Sign: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Withdrawal Token ===")
	fmt.Printf("  Signer address: %s\n", ks.Address())
	fmt.Printf("  Public key:     %s\n", hex.EncodeToString(compressed))
	fmt.Printf("  Counter:        %d\n", counter)
	fmt.Printf("  Token:          %s\n", hex.EncodeToString(token))
	fmt.Println("\nSubmit with:")
	fmt.Printf("  guardctl emergency -vault %s -to %s -amount %d -counter %d -token <token>\n",
		vault, to, amount, counter)
}

func requireVault(vault string) {
	if vault == "" {
		fmt.Println("Specify -vault")
		os.Exit(1)
	}
}
