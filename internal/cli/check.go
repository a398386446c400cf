package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/eduguard/internal/access"
	"github.com/gzhole/eduguard/internal/guard"
)

var errRejected = errors.New("content rejected")

var (
	checkUser     string
	checkRole     string
	checkTier     string
	checkFeature  string
	checkMetadata map[string]string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one prompt or response through the guard",
	Long: `Check a single prompt (input) or model response (output) and print the
result as JSON. The text is taken from the arguments, or from stdin when
no arguments are given. The decision is written to the audit log.

Examples:
  eduguard check input --user stu-42 --role student --tier free --feature hint "How do loops work?"
  echo "$RESPONSE" | eduguard check output --user stu-42 --feature explanation`,
}

var checkInputCmd = &cobra.Command{
	Use:   "input [text]",
	Short: "Check a learner prompt before it is sent to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args, func(g *guard.Guard) checkFunc { return g.CheckInput })
	},
}

var checkOutputCmd = &cobra.Command{
	Use:   "output [text]",
	Short: "Check a model response before it is shown to the learner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args, func(g *guard.Guard) checkFunc { return g.CheckOutput })
	},
}

type checkFunc func(ctx context.Context, userID, content string, req guard.Request) guard.CheckResult

func init() {
	for _, c := range []*cobra.Command{checkInputCmd, checkOutputCmd} {
		c.Flags().StringVar(&checkUser, "user", "", "User ID of the learner (required)")
		c.Flags().StringVar(&checkRole, "role", string(access.RoleStudent), "Role: student, instructor, admin")
		c.Flags().StringVar(&checkTier, "tier", string(access.TierFree), "Plan tier: free, standard, premium")
		c.Flags().StringVar(&checkFeature, "feature", string(access.FeatureHint), "Feature: hint, explanation, feedback")
		c.Flags().StringToStringVar(&checkMetadata, "meta", nil, "Request metadata as key=value pairs")
		_ = c.MarkFlagRequired("user")
		checkCmd.AddCommand(c)
	}
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string, pick func(*guard.Guard) checkFunc) error {
	content := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		content = string(data)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, nil, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	res := pick(a.guard)(ctx, checkUser, content, guard.Request{
		Role:     access.Role(checkRole),
		Tier:     access.Tier(checkTier),
		Feature:  access.Feature(checkFeature),
		Metadata: checkMetadata,
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.log.Error().Err(err).Msg("audit log did not drain")
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.IsSafe {
		return errRejected
	}
	return nil
}
