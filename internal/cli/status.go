package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gzhole/eduguard/internal/access"
	"github.com/gzhole/eduguard/internal/audit"
	"github.com/gzhole/eduguard/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show EduGuard status: config, catalog, access policy, audit log",
	Long: `Report which configuration files are in effect, the catalog version,
the access matrix, and the health of the audit trail.

  eduguard status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out, "  EduGuard Status")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out)

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Fprintf(out, "  Binary:    %s (%s)\n", binPath, Version)
	fmt.Fprintf(out, "  Config:    %s\n", cfg.ConfigDir)
	checkFile(out, "Config file", cfg.Path)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Detection ─────────────────────────────────────────")
	checkFile(out, "Catalog overrides", cfg.CatalogPath)
	if cat, err := buildCatalog(cfg); err != nil {
		fmt.Fprintf(out, "  ❌ Catalog invalid: %v\n", err)
	} else {
		fmt.Fprintf(out, "  ✅ Catalog version: %s\n", cat.Version())
	}
	fmt.Fprintf(out, "     Strategy: %s, max scan length: %d\n", cfg.Detection.Strategy, cfg.Detection.MaxScanLength)
	if cfg.Quota.Addr != "" {
		fmt.Fprintf(out, "  ✅ Quota counters: %s\n", cfg.Quota.Addr)
	} else {
		fmt.Fprintln(out, "  ⬚  Quota counters: not configured")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Access Policy ─────────────────────────────────────")
	checkFile(out, "Access policy", cfg.AccessPath)
	if checks, err := buildAccess(cfg); err != nil {
		fmt.Fprintf(out, "  ❌ Access policy invalid: %v\n", err)
	} else {
		printAccessMatrix(out, checks)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Audit Log ─────────────────────────────────────────")
	checkAuditStore(out, cfg.Audit)
	fmt.Fprintln(out)
	return nil
}

func checkFile(w io.Writer, name, path string) {
	if path == "" {
		fmt.Fprintf(w, "  ⬚  %s: using built-in defaults\n", name)
		return
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  ✅ %s: %s\n", name, path)
	} else {
		fmt.Fprintf(w, "  ⬚  %s: using built-in defaults (no file at %s)\n", name, path)
	}
}

func printAccessMatrix(w io.Writer, checks *access.Checker) {
	fmt.Fprintf(w, "     %-11s %-12s", "role", "feature")
	for _, t := range access.AllTiers() {
		fmt.Fprintf(w, " %-9s", t)
	}
	fmt.Fprintln(w)
	for _, r := range access.AllRoles() {
		for _, f := range access.AllFeatures() {
			fmt.Fprintf(w, "     %-11s %-12s", r, f)
			for _, t := range access.AllTiers() {
				cell := "-"
				if d := checks.Check(r, f, t); d.Allowed {
					cell = "∞"
					if d.Limits.DailyRequests > 0 {
						cell = fmt.Sprintf("%d/day", d.Limits.DailyRequests)
					}
				}
				fmt.Fprintf(w, " %-9s", cell)
			}
			fmt.Fprintln(w)
		}
	}
}

func checkAuditStore(w io.Writer, cfg config.AuditConfig) {
	fmt.Fprintf(w, "     Store: %s\n", cfg.Store)
	if cfg.Store == config.StoreMemory {
		fmt.Fprintln(w, "  ⚠  In-memory audit log: events are lost on exit")
		return
	}
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(w, "  ❌ Cannot open audit store: %v\n", err)
		return
	}
	defer store.Close()

	rep, err := audit.Verify(ctx, store)
	switch {
	case err != nil:
		fmt.Fprintf(w, "  ❌ Cannot read audit store: %v\n", err)
	case rep.OK:
		fmt.Fprintf(w, "  ✅ %d events, hash chain intact\n", rep.Checked)
	default:
		fmt.Fprintf(w, "  ❌ Hash chain broken at seq %d: %s\n", rep.BrokenSeq, rep.Reason)
	}
}
