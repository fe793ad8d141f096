package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"stonksrelay/internal/config"
	"stonksrelay/internal/journal"
	"stonksrelay/internal/webhook"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration and show delivery statistics",
		Long: `Verifies that the relay's configuration, credentials, journal and
metrics port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("stonksrelay status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkResults

			cfg, found, err := config.LoadOrDefaults(cfgPath)
			switch {
			case err != nil:
				r.fail("Config file", err.Error())
				return r.summary()
			case !found:
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			default:
				r.pass("Config file", cfgPath)
			}

			config.ApplyEnv(cfg)
			if err := config.Validate(cfg); err != nil {
				r.fail("Config validation", err.Error())
			} else {
				r.pass("Config validation", "valid")
			}

			credErr := config.RequireCredentials(cfg)
			if errors.Is(credErr, config.ErrNoToken) {
				r.fail("Discord token", "missing")
			} else {
				r.pass("Discord token", "configured")
			}
			if errors.Is(credErr, config.ErrNoWebhookURL) {
				r.fail("Webhook URL", "missing")
			} else {
				r.pass("Webhook URL", config.Sanitize(cfg).Webhook.URL)
			}

			r.pass("Triggers", describeTriggers(cfg.Discord))

			if cfg.Webhook.Secret != "" {
				if err := checkSigning(cfg.Webhook.Secret); err != nil {
					r.fail("Webhook signing", err.Error())
				} else {
					r.pass("Webhook signing", "HMAC-SHA256 in "+webhook.SignatureHeader)
				}
			} else {
				r.warn("Webhook signing", "no secret, requests are unsigned")
			}

			if cfg.Journal.Enabled {
				if err := showJournal(cfg.Journal.DBPath); err != nil {
					r.fail("Journal", err.Error())
				} else {
					r.pass("Journal", cfg.Journal.DBPath)
				}
			}

			if cfg.Audit.Enabled {
				r.pass("Audit stream", config.Sanitize(cfg).Audit.URL+" -> "+cfg.Audit.Exchange)
			}

			if cfg.Metrics.Enabled {
				addr := net.JoinHostPort(cfg.Metrics.Host, strconv.Itoa(cfg.Metrics.Port))
				if err := checkPort(addr); err != nil {
					r.warn("Metrics port", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("Metrics port", addr+" available")
				}
			}

			return r.summary()
		},
	}
}

type checkResults struct {
	passed, warned, failed int
}

func (r *checkResults) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *checkResults) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *checkResults) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *checkResults) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func describeTriggers(d config.DiscordConfig) string {
	s := ""
	add := func(on bool, name string) {
		if !on {
			return
		}
		if s != "" {
			s += ", "
		}
		s += name
	}
	add(d.Triggers.DirectMessage, "dm")
	add(d.Prefix != "", "prefix "+strconv.Quote(d.Prefix))
	add(d.Triggers.Mention, "mention")
	add(d.Triggers.Reply, "reply")
	return s
}

// showJournal opens the journal and prints its delivery summary.
func showJournal(dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("not created yet at %s", dbPath)
	}
	store, err := journal.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sum, err := store.Summarize(ctx)
	if err != nil {
		return err
	}
	last := "never"
	if !sum.LastDelivery.IsZero() {
		last = sum.LastDelivery.Local().Format(time.RFC3339)
	}
	fmt.Printf("  Deliveries: %d delivered, %d failed, last %s\n", sum.Delivered, sum.Failed, last)
	return nil
}

// checkSigning signs a sample body the way the forwarder does and checks
// that the signature verifies.
func checkSigning(secret string) error {
	body := []byte(`{"trigger_type":"dm","raw_content":"status check"}`)
	sig := webhook.Sign(body, secret)
	if !webhook.Verify(body, secret, sig) {
		return fmt.Errorf("signature did not verify")
	}
	if webhook.Verify(body, secret+"x", sig) {
		return fmt.Errorf("signature verified with the wrong secret")
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
