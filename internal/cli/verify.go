package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/eduguard/internal/audit"
)

var errChainBroken = errors.New("audit chain broken")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Long: `Re-walk every stored security event in sequence order and check the
hash chain. Reports the first gap, duplicate, or record whose content no
longer matches its hash.

  eduguard verify`,
	RunE: verifyCommand,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func verifyCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := openStore(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer store.Close()

	rep, err := audit.Verify(ctx, store)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if rep.OK {
		fmt.Fprintf(out, "\xe2\x9c\x85 Audit chain intact: %d events verified\n", rep.Checked)
		return nil
	}
	fmt.Fprintf(out, "\xe2\x9d\x8c Audit chain broken after %d events\n", rep.Checked)
	fmt.Fprintf(out, "     Seq:    %d\n", rep.BrokenSeq)
	fmt.Fprintf(out, "     Event:  %s\n", rep.BrokenID)
	fmt.Fprintf(out, "     Reason: %s\n", rep.Reason)
	return errChainBroken
}
