// cmd/wot/main.go
//
// wot is the operator CLI for the ai-wot reputation engine. It manages
// the local signing key, computes trust scores over the configured
// relays, publishes attestations and revocations, turns DVM service
// results into receipt attestations, and reviews the candidate queue.
//
// Usage:
//
//	wot key init [--force]
//	wot key show
//	wot score <pubkey> [--category name] [--breakdown] [--json]
//	wot attest <pubkey> --type <type> --comment <text> [--ref <event-id>] [--expire-days 90]
//	wot revoke <event-id> --reason <text>
//	wot receipt <result.json> [--rating 1-5] [--text <note>] [--type <type>] [--dry-run]
//	wot candidates [list|show|confirm|reject|publish|publish-all] [flags]
//	wot relays [--json]
//
// Every command accepts --config pointing at an explicit config file;
// otherwise ~/.ai-wot/config.yaml and AI_WOT_* environment variables
// apply.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/config"
	"github.com/jeletor/ai-wot/internal/event"
	"github.com/jeletor/ai-wot/internal/keys"
	"github.com/jeletor/ai-wot/internal/receipt"
	"github.com/jeletor/ai-wot/internal/relay"
	"github.com/jeletor/ai-wot/internal/storage"
	"github.com/jeletor/ai-wot/internal/wot"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "key":
		cmdKey(os.Args[2:])
	case "score":
		cmdScore(os.Args[2:])
	case "attest":
		cmdAttest(os.Args[2:])
	case "revoke":
		cmdRevoke(os.Args[2:])
	case "receipt":
		cmdReceipt(os.Args[2:])
	case "candidates":
		cmdCandidates(os.Args[2:])
	case "relays":
		cmdRelays(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: wot <command> [flags]

Commands:
  key         Manage the local signing key (init, show)
  score       Compute the trust score of a public key
  attest      Publish a signed attestation about a public key
  revoke      Revoke one of your attestations by event id
  receipt     Build an attestation from a DVM service result
  candidates  Review the queue of proposed attestations
  relays      Check the configured relays

Run 'wot <command> --help' for details on each command.
`)
}

// fatalf prints an error to stderr and exits non-zero.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

// loadKeystore opens the signing key named by the config, translating
// the encrypted-without-passphrase case into advice.
func loadKeystore(cfg *config.Config) *keys.Keystore {
	ks, err := keys.Load(cfg.Key.Path, cfg.Key.Passphrase)
	if err != nil {
		if errors.Is(err, keys.ErrPassphraseRequired) {
			fatalf("key file %s is encrypted; set key.passphrase in the config or AI_WOT_KEY_PASSPHRASE", cfg.Key.Path)
		}
		if errors.Is(err, os.ErrNotExist) {
			fatalf("no key at %s; run 'wot key init' first", cfg.Key.Path)
		}
		fatalf("%v", err)
	}
	return ks
}

func newRelayClient(cfg *config.Config) *relay.Client {
	return relay.NewClient(relay.Options{Relays: cfg.Relays, Logger: zap.NewNop()})
}

// openStore loads the persisted candidate queue and wires the store to
// write every change back to the database. The caller closes the DB.
func openStore(cfg *config.Config) (*candidate.Store, *storage.DB) {
	db, err := storage.NewDB(cfg.Candidates.DBPath)
	if err != nil {
		fatalf("open candidate database: %v", err)
	}
	existing, err := db.LoadCandidates()
	if err != nil {
		fatalf("load candidates: %v", err)
	}
	store := candidate.NewStore(candidate.Config{
		MaxAge:        cfg.Candidates.MaxAge,
		MaxCandidates: cfg.Candidates.MaxCandidates,
		Persist:       db.SaveCandidates,
	})
	store.Load(existing)
	return store, db
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("encode output: %v", err)
	}
	fmt.Println(string(data))
}

// shortKey abbreviates a 64-hex key for human output.
func shortKey(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "…" + s[len(s)-8:]
}

// --- key ---

func cmdKey(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot key <init|show>")
		os.Exit(1)
	}
	switch args[0] {
	case "init":
		cmdKeyInit(args[1:])
	case "show":
		cmdKeyShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown key command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: wot key <init|show>")
		os.Exit(1)
	}
}

func cmdKeyInit(args []string) {
	fs := flag.NewFlagSet("key init", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	force := fs.Bool("force", false, "overwrite an existing key")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	if _, err := os.Stat(cfg.Key.Path); err == nil && !*force {
		fatalf("key already exists at %s (use --force to overwrite)", cfg.Key.Path)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Key.Path), 0700); err != nil {
		fatalf("create key directory: %v", err)
	}

	ks, err := keys.Generate()
	if err != nil {
		fatalf("generate key: %v", err)
	}
	if err := ks.Save(cfg.Key.Path, cfg.Key.Passphrase); err != nil {
		fatalf("%v", err)
	}

	mode := "plaintext"
	if cfg.Key.Passphrase != "" {
		mode = "encrypted"
	}
	color.Green("Key created")
	fmt.Printf("  Public key: %s\n", ks.PublicKey())
	fmt.Printf("  Saved to:   %s (%s)\n", cfg.Key.Path, mode)
	if cfg.Key.Passphrase == "" {
		color.Yellow("  The secret is stored as plain hex; set key.passphrase to encrypt it.")
	}
}

func cmdKeyShow(args []string) {
	fs := flag.NewFlagSet("key show", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	asJSON := fs.Bool("json", false, "machine-readable output")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	ks := loadKeystore(cfg)

	if *asJSON {
		printJSON(map[string]string{
			"public_key": ks.PublicKey(),
			"path":       cfg.Key.Path,
		})
		return
	}
	fmt.Printf("Public key:  %s\n", ks.PublicKey())
	fmt.Printf("Fingerprint: %s\n", ks.Fingerprint())
	fmt.Printf("Key file:    %s\n", cfg.Key.Path)
}

// --- score ---

func cmdScore(args []string) {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	category := fs.String("category", "", "restrict scoring to one category (commerce, identity, code, general)")
	breakdown := fs.Bool("breakdown", false, "show per-attestation contributions")
	asJSON := fs.Bool("json", false, "machine-readable output")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot score <pubkey> [--category name] [--breakdown] [--json]")
		os.Exit(1)
	}
	target := strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	if !event.IsValidKey(target) {
		fatalf("invalid public key: expected 64 lowercase hex characters")
	}

	cfg := loadConfig(*configPath)
	client := newRelayClient(cfg)
	ctx := context.Background()

	var result wot.Result
	if *category != "" {
		var err error
		result, err = client.CategoryScore(ctx, target, *category, cfg.ScoringOptions())
		if err != nil {
			fatalf("%v", err)
		}
	} else {
		result = client.Score(ctx, target, cfg.ScoringOptions())
	}

	if *asJSON {
		if !*breakdown {
			result.Breakdown = nil
		}
		printJSON(result)
		return
	}

	fmt.Printf("Score for %s\n", shortKey(target))
	if *category != "" {
		fmt.Printf("  Category:     %s\n", *category)
	}
	fmt.Printf("  Display:      %s\n", displayString(result))
	fmt.Printf("  Raw:          %.2f\n", result.Raw)
	fmt.Printf("  Attestations: %d (%d positive, %d negative, %d gated)\n",
		result.AttestationCount, result.PositiveCount, result.NegativeCount, result.GatedCount)
	fmt.Printf("  Attesters:    %d unique, diversity %.2f\n",
		result.Diversity.UniqueAttesters, result.Diversity.Diversity)

	if *breakdown && len(result.Breakdown) > 0 {
		fmt.Println("  Breakdown:")
		for _, c := range result.Breakdown {
			printContribution(c)
		}
	}
}

// displayString renders the display score with the badge colour bands.
func displayString(r wot.Result) string {
	if r.AttestationCount == 0 {
		return "unrated"
	}
	s := fmt.Sprintf("%d/100", r.Display)
	switch {
	case r.Display >= 60:
		return color.GreenString(s)
	case r.Display >= 20:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func printContribution(c wot.Contribution) {
	switch {
	case c.Skipped:
		fmt.Printf("    %s  %-19s %s\n", c.ID[:8], "-", color.HiBlackString("skipped: %s", c.SkipReason))
	case c.Gated:
		fmt.Printf("    %s  %-19s %s\n", c.ID[:8], c.Type, color.HiBlackString("gated: %s", c.GateReason))
	default:
		value := fmt.Sprintf("%+.2f", c.Value)
		if c.Value >= 0 {
			value = color.GreenString(value)
		} else {
			value = color.RedString(value)
		}
		novel := ""
		if c.Novel {
			novel = "  novel"
		}
		fmt.Printf("    %s  %-19s %s  by %s%s\n", c.ID[:8], c.Type, value, shortKey(c.Author), novel)
	}
}

// --- attest ---

func cmdAttest(args []string) {
	fs := flag.NewFlagSet("attest", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	typeName := fs.String("type", "", "attestation type (service-quality, work-completed, identity-continuity, general-trust, warning, dispute)")
	comment := fs.String("comment", "", "free-form comment; required for warning and dispute")
	ref := fs.String("ref", "", "event id this attestation refers to")
	expireDays := fs.Int("expire-days", event.DefaultExpireDays, "advisory expiration in days; negative disables")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot attest <pubkey> --type <type> --comment <text> [--ref <event-id>]")
		os.Exit(1)
	}
	if *typeName == "" {
		fatalf("--type is required (one of: %s)", typeList())
	}
	typ, err := wot.ParseType(*typeName)
	if err != nil {
		fatalf("%v", err)
	}

	target := strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	ev, err := event.NewAttestation(event.Body{
		Type:       typ,
		Target:     target,
		Comment:    *comment,
		EventRef:   *ref,
		ExpireDays: *expireDays,
	}, nostr.Now())
	if err != nil {
		fatalf("%v", err)
	}

	cfg := loadConfig(*configPath)
	ks := loadKeystore(cfg)
	if target == ks.PublicKey() {
		fatalf("refusing to attest to your own key; scoring ignores self-attestations")
	}
	if err := ks.Sign(ev); err != nil {
		fatalf("sign attestation: %v", err)
	}

	fmt.Printf("Publishing %s attestation about %s\n", typ, shortKey(target))
	publishOrDie(cfg, ev)
	fmt.Printf("Event id: %s\n", ev.ID)
}

func typeList() string {
	names := make([]string, 0, len(wot.AllTypes()))
	for _, t := range wot.AllTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// publishOrDie fans the event out and exits non-zero when no relay
// accepted it.
func publishOrDie(cfg *config.Config, ev *nostr.Event) {
	client := newRelayClient(cfg)
	results := client.Publish(context.Background(), ev)

	accepted := 0
	for _, r := range results {
		if r.Accepted {
			accepted++
			fmt.Printf("  %s %s\n", color.GreenString("✓"), r.Relay)
		} else {
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), r.Relay, r.Reason)
		}
	}
	if accepted == 0 {
		fatalf("no relay accepted the event")
	}
}

// --- revoke ---

func cmdRevoke(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	reason := fs.String("reason", "", "why the attestation no longer holds (required)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot revoke <event-id> --reason <text>")
		os.Exit(1)
	}
	id := strings.ToLower(strings.TrimSpace(fs.Arg(0)))

	ev, err := event.NewRevocation([]string{id}, *reason, nostr.Now())
	if err != nil {
		fatalf("%v", err)
	}

	cfg := loadConfig(*configPath)
	ks := loadKeystore(cfg)
	if err := ks.Sign(ev); err != nil {
		fatalf("sign revocation: %v", err)
	}

	fmt.Printf("Publishing revocation of %s\n", shortKey(id))
	publishOrDie(cfg, ev)
	fmt.Printf("Event id: %s\n", ev.ID)
}

// --- receipt ---

func cmdReceipt(args []string) {
	fs := flag.NewFlagSet("receipt", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	rating := fs.Int("rating", 0, "1-5 star rating; 0 omits it")
	text := fs.String("text", "", "free-form note appended to the comment")
	typeName := fs.String("type", "", "override the service-quality verdict")
	dryRun := fs.Bool("dry-run", false, "print the attestation without signing or publishing")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot receipt <result.json> [--rating 1-5] [--text <note>] [--dry-run]")
		os.Exit(1)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fatalf("read service result: %v", err)
	}
	var resultEv nostr.Event
	if err := json.Unmarshal(data, &resultEv); err != nil {
		fatalf("parse service result: %v", err)
	}

	sr, err := receipt.ParseServiceResult(&resultEv)
	if err != nil {
		fatalf("%v", err)
	}

	opts := receipt.BuildOptions{Rating: *rating, Text: *text}
	if *typeName != "" {
		typ, err := wot.ParseType(*typeName)
		if err != nil {
			fatalf("%v", err)
		}
		opts.Type = typ
	}
	body, err := receipt.BuildBody(sr, opts)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("Receipt for %s result by %s\n", kindLabel(sr), shortKey(sr.ProviderKey))
	fmt.Printf("  Type:    %s\n", body.Type)
	fmt.Printf("  Comment: %s\n", body.Comment)
	fmt.Printf("  Ref:     %s\n", shortKey(body.EventRef))
	if *dryRun {
		color.Yellow("Dry run: nothing published.")
		return
	}

	ev, err := event.NewAttestation(body, nostr.Now())
	if err != nil {
		fatalf("%v", err)
	}
	cfg := loadConfig(*configPath)
	ks := loadKeystore(cfg)
	if err := ks.Sign(ev); err != nil {
		fatalf("sign attestation: %v", err)
	}
	publishOrDie(cfg, ev)
	fmt.Printf("Event id: %s\n", ev.ID)
}

func kindLabel(sr *receipt.ServiceResult) string {
	return fmt.Sprintf("kind %d", sr.ResultKind)
}

// --- candidates ---

func cmdCandidates(args []string) {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		cmdCandidatesList(args)
	case "show":
		cmdCandidatesShow(args)
	case "confirm":
		cmdCandidatesConfirm(args)
	case "reject":
		cmdCandidatesReject(args)
	case "publish":
		cmdCandidatesPublish(args)
	case "publish-all":
		cmdCandidatesPublishAll(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown candidates command: %s\n", sub)
		fmt.Fprintln(os.Stderr, "Usage: wot candidates [list|show|confirm|reject|publish|publish-all]")
		os.Exit(1)
	}
}

func cmdCandidatesList(args []string) {
	fs := flag.NewFlagSet("candidates list", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	status := fs.String("status", "", "filter by status (pending, confirmed, rejected, published, expired)")
	limit := fs.Int("limit", 0, "maximum number of candidates to show")
	asJSON := fs.Bool("json", false, "machine-readable output")
	fs.Parse(args)

	if *status != "" && !candidate.Status(*status).Valid() {
		fatalf("invalid status %q", *status)
	}

	cfg := loadConfig(*configPath)
	store, db := openStore(cfg)
	defer db.Close()
	list := store.List(candidate.Filter{Status: candidate.Status(*status), Limit: *limit})

	if *asJSON {
		if list == nil {
			list = []candidate.Candidate{}
		}
		printJSON(list)
		return
	}
	if len(list) == 0 {
		fmt.Println("No candidates.")
		return
	}
	for _, c := range list {
		fmt.Printf("%s  %-10s %-19s %s  %s\n",
			c.ID, statusString(c.Status), c.Type, shortKey(c.TargetKey), c.Comment)
	}
	st := store.Stats()
	fmt.Printf("\n%d total: %d pending, %d confirmed, %d published, %d rejected, %d expired\n",
		st.Total, st.Pending, st.Confirmed, st.Published, st.Rejected, st.Expired)
}

func statusString(s candidate.Status) string {
	switch s {
	case candidate.StatusPending:
		return color.YellowString(string(s))
	case candidate.StatusConfirmed:
		return color.CyanString(string(s))
	case candidate.StatusPublished:
		return color.GreenString(string(s))
	case candidate.StatusRejected, candidate.StatusExpired:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func cmdCandidatesShow(args []string) {
	fs := flag.NewFlagSet("candidates show", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	asJSON := fs.Bool("json", false, "machine-readable output")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot candidates show <id>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	store, db := openStore(cfg)
	defer db.Close()
	c, ok := store.Get(fs.Arg(0))
	if !ok {
		fatalf("candidate %s not found", fs.Arg(0))
	}

	if *asJSON {
		printJSON(c)
		return
	}
	printCandidate(c)
}

func printCandidate(c candidate.Candidate) {
	fmt.Printf("Candidate %s\n", c.ID)
	fmt.Printf("  Status:  %s\n", statusString(c.Status))
	fmt.Printf("  Type:    %s\n", c.Type)
	fmt.Printf("  Target:  %s\n", c.TargetKey)
	fmt.Printf("  Comment: %s\n", c.Comment)
	if c.EventRef != "" {
		fmt.Printf("  Ref:     %s\n", c.EventRef)
	}
	if c.Source != "" {
		fmt.Printf("  Source:  %s\n", c.Source)
	}
	fmt.Printf("  Created: %s\n", c.CreatedAt.Format(time.RFC3339))
	if c.PublishedEventID != "" {
		fmt.Printf("  Event:   %s\n", c.PublishedEventID)
	}
	if c.RejectReason != "" {
		fmt.Printf("  Reason:  %s\n", c.RejectReason)
	}
	for k, v := range c.Metadata {
		fmt.Printf("  %s: %s\n", k, v)
	}
}

func cmdCandidatesConfirm(args []string) {
	fs := flag.NewFlagSet("candidates confirm", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	typeName := fs.String("type", "", "override the attestation type")
	comment := fs.String("comment", "", "override the comment")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot candidates confirm <id> [--type <type>] [--comment <text>]")
		os.Exit(1)
	}

	edits := candidate.Edits{Comment: *comment}
	if *typeName != "" {
		typ, err := wot.ParseType(*typeName)
		if err != nil {
			fatalf("%v", err)
		}
		edits.Type = typ
	}

	cfg := loadConfig(*configPath)
	store, db := openStore(cfg)
	defer db.Close()
	c, err := store.Confirm(fs.Arg(0), edits)
	if err != nil {
		fatalf("confirm %s: %v", fs.Arg(0), err)
	}
	color.Green("Confirmed %s", c.ID)
	fmt.Println("Run 'wot candidates publish' to sign and publish it.")
}

func cmdCandidatesReject(args []string) {
	fs := flag.NewFlagSet("candidates reject", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	reason := fs.String("reason", "", "why the candidate is rejected")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot candidates reject <id> [--reason <text>]")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	store, db := openStore(cfg)
	defer db.Close()
	c, err := store.Reject(fs.Arg(0), *reason)
	if err != nil {
		fatalf("reject %s: %v", fs.Arg(0), err)
	}
	fmt.Printf("Rejected %s\n", c.ID)
}

func cmdCandidatesPublish(args []string) {
	fs := flag.NewFlagSet("candidates publish", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: wot candidates publish <id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	cfg := loadConfig(*configPath)
	store, db := openStore(cfg)
	defer db.Close()
	ks := loadKeystore(cfg)
	pub := relay.Broadcaster{Client: newRelayClient(cfg)}
	ctx := context.Background()

	// A pending candidate is confirmed on the way; a confirmed one is
	// published as-is.
	c, err := store.ConfirmAndPublish(ctx, id, candidate.Edits{}, ks, pub)
	if errors.Is(err, candidate.ErrNotPending) {
		c, err = store.PublishConfirmed(ctx, id, ks, pub)
	}
	if err != nil {
		fatalf("publish %s: %v", id, err)
	}
	color.Green("Published %s", c.ID)
	fmt.Printf("Event id: %s\n", c.PublishedEventID)
}

func cmdCandidatesPublishAll(args []string) {
	fs := flag.NewFlagSet("candidates publish-all", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	store, db := openStore(cfg)
	defer db.Close()
	ks := loadKeystore(cfg)
	pub := relay.Broadcaster{Client: newRelayClient(cfg)}

	outcomes := store.PublishAllConfirmed(context.Background(), ks, pub)
	if len(outcomes) == 0 {
		fmt.Println("No confirmed candidates to publish.")
		return
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Printf("  %s %s: %v\n", color.RedString("✗"), o.CandidateID, o.Err)
		} else {
			fmt.Printf("  %s %s → %s\n", color.GreenString("✓"), o.CandidateID, o.EventID)
		}
	}
	fmt.Printf("%d published, %d failed\n", len(outcomes)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// --- relays ---

func cmdRelays(args []string) {
	fs := flag.NewFlagSet("relays", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	asJSON := fs.Bool("json", false, "machine-readable output")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	type relayStatus struct {
		URL       string `json:"url"`
		Connected bool   `json:"connected"`
		RTTMillis int64  `json:"rtt_ms,omitempty"`
		Error     string `json:"error,omitempty"`
	}

	statuses := make([]relayStatus, 0, len(cfg.Relays))
	for _, url := range cfg.Relays {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		r, err := nostr.RelayConnect(ctx, url)
		rtt := time.Since(start).Milliseconds()
		cancel()

		st := relayStatus{URL: url}
		if err != nil {
			st.Error = err.Error()
		} else {
			st.Connected = true
			st.RTTMillis = rtt
			r.Close()
		}
		statuses = append(statuses, st)
	}

	if *asJSON {
		printJSON(statuses)
		return
	}
	for _, st := range statuses {
		if st.Connected {
			fmt.Printf("  %s %s (%dms)\n", color.GreenString("✓"), st.URL, st.RTTMillis)
		} else {
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), st.URL, st.Error)
		}
	}
}
