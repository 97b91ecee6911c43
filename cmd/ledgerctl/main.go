package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/clinledger/internal/authgate"
	"github.com/jmerrifield20/clinledger/internal/identity"
	"github.com/jmerrifield20/clinledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

// errIntegrity makes the process exit with status 2 when a verification
// finds a broken chain or entry.
var errIntegrity = errors.New("integrity check failed")

var (
	cfgFile   string
	serverURL string
	token     string
	format    string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errIntegrity) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Inspect and audit a clinledger server",
	Long: `ledgerctl talks to a clinledger server over its HTTP API.

It lists namespace heads, verifies chains and entries, invalidates entries,
and issues operator tokens for the invalidation and attempt-log endpoints.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.clinledger")
			viper.SetConfigName("ledgerctl")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("LEDGER")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.clinledger/ledgerctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "operator bearer token (or LEDGER_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	rootCmd.AddCommand(headsCmd, verifyChainCmd, verifyEntryCmd, invalidateCmd, statsCmd,
		tokenCmd, hashCredentialCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(timeout)}
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── heads ────────────────────────────────────────────────────────────────────

var headsCmd = &cobra.Command{
	Use:   "heads",
	Short: "List the head of every namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		heads, err := c.Heads(context.Background())
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(heads)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAMESPACE\tSEQUENCE\tHEAD HASH")
		for _, h := range heads {
			fmt.Fprintf(w, "%s\t%d\t%s\n", h.Namespace, h.Sequence, h.Hash)
		}
		return w.Flush()
	},
}

// ── verify-chain ─────────────────────────────────────────────────────────────

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain <namespace> [namespace...]",
	Short: "Walk and verify one or more namespace chains",
	Long: `verify-chain recomputes every hash and link in each namespace.

The exit status is 2 if any chain is broken, so the command can gate
scheduled audits and CI jobs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var reports []*client.ChainReport
		broken := false
		for _, ns := range args {
			r, err := c.VerifyChain(context.Background(), ns)
			if err != nil {
				return fmt.Errorf("verify %s: %w", ns, err)
			}
			reports = append(reports, r)
			broken = broken || !r.IsValid
		}

		if format == "json" {
			if err := printJSON(reports); err != nil {
				return err
			}
		} else {
			for _, r := range reports {
				if r.IsValid {
					fmt.Printf("%-12s OK      %d entries, head %s\n", r.Namespace, r.TotalEntries, r.HeadHash)
					continue
				}
				seq := int64(0)
				if r.FirstBrokenSequence != nil {
					seq = *r.FirstBrokenSequence
				}
				fmt.Printf("%-12s BROKEN  %s at sequence %d (%s): %s\n", r.Namespace, r.Break, seq, r.Code, r.Detail)
			}
		}
		if broken {
			return errIntegrity
		}
		return nil
	},
}

// ── verify-entry ─────────────────────────────────────────────────────────────

var verifyEntryCmd = &cobra.Command{
	Use:   "verify-entry <namespace> <entry-id>",
	Short: "Recompute the hash of a single entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.VerifyEntry(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if format == "json" {
			if err := printJSON(v); err != nil {
				return err
			}
		} else {
			fmt.Printf("Entry:     %s (sequence %d)\n", v.EntryID, v.Sequence)
			fmt.Printf("Status:    %s\n", v.Status)
			fmt.Printf("Valid:     %v\n", v.IsValid)
			if v.Code != "" {
				fmt.Printf("Code:      %s\n", v.Code)
				fmt.Printf("Reason:    %s\n", v.Reason)
			}
		}
		// An invalidated entry is intact; only tampering fails the command.
		if v.Code == "TAMPER_DETECTED" {
			return errIntegrity
		}
		return nil
	},
}

// ── invalidate ───────────────────────────────────────────────────────────────

var invalidateReason string

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <namespace> <entry-id> --reason <text>",
	Short: "Mark an entry INVALIDATED (requires an investigator token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Invalidate(context.Background(), args[0], args[1], invalidateReason)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(res)
		}
		fmt.Printf("Invalidated %s sequence %d by %s at %s\n",
			res.Namespace, res.Sequence, res.Invalidation.InvalidatedBy,
			res.Invalidation.InvalidatedAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	invalidateCmd.Flags().StringVar(&invalidateReason, "reason", "", "justification recorded with the invalidation (required)")
	_ = invalidateCmd.MarkFlagRequired("reason")
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsBy []string

var statsCmd = &cobra.Command{
	Use:   "stats <namespace>",
	Short: "Count entries by status and payload field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.Stats(context.Background(), args[0], statsBy...)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(st)
		}
		fmt.Printf("%s: %d entries\n", st.Namespace, st.Total)
		printCounts("status", st.ByStatus)
		fields := make([]string, 0, len(st.ByField))
		for f := range st.ByField {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			printCounts(f, st.ByField[f])
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringSliceVar(&statsBy, "by", nil, "payload fields to group by (comma-separated)")
}

func printCounts(title string, counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("\nby %s:\n", title)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t%d\n", k, counts[k])
	}
	_ = w.Flush()
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
	tokenSecret  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage operator tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue --subject <operator> --role <viewer|investigator|admin>",
	Short: "Issue an operator token signed with the server's token secret",
	Long: `issue signs a token locally with the same secret the server uses
(auth.token_secret in ledgerd.yaml, or LEDGER_AUTH_TOKEN_SECRET).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("auth.token_secret")
		}
		role, err := identity.ParseRole(tokenRole)
		if err != nil {
			return err
		}
		issuer, err := identity.NewTokenIssuer([]byte(secret), "clinledger", tokenTTL)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(tokenSubject, role)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "", "operator identity recorded on invalidations (required)")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", string(identity.RoleViewer), "viewer, investigator or admin")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "token lifetime")
	tokenIssueCmd.Flags().StringVar(&tokenSecret, "secret", "", "token signing secret (default auth.token_secret)")
	_ = tokenIssueCmd.MarkFlagRequired("subject")
	tokenCmd.AddCommand(tokenIssueCmd)
}

// ── hash-credential ──────────────────────────────────────────────────────────

var hashBcrypt bool

var hashCredentialCmd = &cobra.Command{
	Use:   "hash-credential <secret>",
	Short: "Print the stored form of a signer credential",
	Long: `hash-credential prints the value to store in the signers table
(or signers.static in ledgerd.yaml) for a signer's secret.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !hashBcrypt {
			fmt.Println(authgate.HashSHA256(args[0]))
			return nil
		}
		h, err := authgate.HashBcrypt(args[0], 0)
		if err != nil {
			return err
		}
		fmt.Println(h)
		return nil
	},
}

func init() {
	hashCredentialCmd.Flags().BoolVar(&hashBcrypt, "bcrypt", false, "use bcrypt instead of sha256")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl %s\n", version)
	},
}
