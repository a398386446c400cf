package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/eduguard/internal/audit"
	"github.com/gzhole/eduguard/internal/threat"
)

var (
	logFilterUser     string
	logFilterType     string
	logFilterSeverity string
	logFilterBlocked  bool
	logSince          time.Duration
	logLast           int
	logSummary        bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the security audit log",
	Long: `View the EduGuard audit log with filtering and summary options.

Examples:
  eduguard log                           # Show all events
  eduguard log --last 20                 # Show last 20 events
  eduguard log --user stu-42             # Show one learner's events
  eduguard log --min-severity high       # Show high and critical events
  eduguard log --blocked --since 24h     # Show blocks from the last day
  eduguard log --summary                 # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterUser, "user", "", "Filter by user ID")
	logCmd.Flags().StringVar(&logFilterType, "type", "", "Filter by event type (input_check, output_check, access_denied, guard_error)")
	logCmd.Flags().StringVar(&logFilterSeverity, "min-severity", "", "Minimum severity (low, medium, high, critical)")
	logCmd.Flags().BoolVar(&logFilterBlocked, "blocked", false, "Show only blocked decisions")
	logCmd.Flags().DurationVar(&logSince, "since", 0, "Only events newer than this duration")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N events")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter, err := logFilter(time.Now())
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer store.Close()

	events, err := store.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	if logFilterBlocked {
		events = onlyBlocked(events)
	}
	if logLast > 0 && logLast < len(events) {
		events = events[len(events)-logLast:]
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit log entries found.")
		return nil
	}
	if logSummary {
		printSummary(out, events)
		return nil
	}
	printEvents(out, events)
	return nil
}

func logFilter(now time.Time) (audit.Filter, error) {
	f := audit.Filter{UserID: logFilterUser, Type: audit.EventType(logFilterType)}
	if logFilterSeverity != "" {
		lvl, err := threat.ParseLevel(logFilterSeverity)
		if err != nil {
			return f, err
		}
		f.MinSeverity = lvl
	}
	if logSince > 0 {
		f.From = now.Add(-logSince)
	}
	return f, nil
}

func onlyBlocked(events []audit.Event) []audit.Event {
	var out []audit.Event
	for _, e := range events {
		if e.Blocked {
			out = append(out, e)
		}
	}
	return out
}

func printEvents(w io.Writer, events []audit.Event) {
	for _, e := range events {
		flag := ""
		if e.AuditWritePending {
			flag = " [PENDING]"
		}
		fmt.Fprintf(w, "%s %s #%d %-13s %-8s user=%s feature=%s%s\n",
			eventIcon(e), formatTimestamp(e.Timestamp), e.Seq, e.Type, e.Severity, e.UserID, e.Feature, flag)
		fmt.Fprintf(w, "     Action: %s\n", e.ActionTaken)
		if e.Threat != nil {
			if labels := e.Threat.Labels(); len(labels) > 0 {
				fmt.Fprintf(w, "     Rules: %s\n", strings.Join(labels, ", "))
			}
		}
		if reason := e.Context["reason"]; reason != "" {
			fmt.Fprintf(w, "     Reason: %s\n", reason)
		}
		fmt.Fprintf(w, "     Event: %s\n", e.ID)
		fmt.Fprintln(w)
	}
}

func printSummary(w io.Writer, events []audit.Event) {
	byType := map[audit.EventType]int{}
	bySeverity := map[threat.Level]int{}
	blockedUsers := map[string]int{}
	blocked := 0
	for _, e := range events {
		byType[e.Type]++
		bySeverity[e.Severity]++
		if e.Blocked {
			blocked++
			blockedUsers[e.UserID]++
		}
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintln(w, "  EduGuard Audit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintf(w, "  Total events:    %d\n", len(events))
	fmt.Fprintf(w, "  Blocked:         %d\n", blocked)
	for _, t := range []audit.EventType{audit.EventInputCheck, audit.EventOutputCheck, audit.EventAccessDenied, audit.EventGuardError} {
		fmt.Fprintf(w, "  %-16s %d\n", string(t)+":", byType[t])
	}
	for _, l := range []threat.Level{threat.LevelCritical, threat.LevelHigh, threat.LevelMedium, threat.LevelLow} {
		fmt.Fprintf(w, "  %-16s %d\n", l.String()+":", bySeverity[l])
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintf(w, "  First event:     %s\n", formatTimestamp(events[0].Timestamp))
	fmt.Fprintf(w, "  Last event:      %s\n", formatTimestamp(events[len(events)-1].Timestamp))

	if len(blockedUsers) > 0 {
		users := make([]string, 0, len(blockedUsers))
		for u := range blockedUsers {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool {
			if blockedUsers[users[i]] != blockedUsers[users[j]] {
				return blockedUsers[users[i]] > blockedUsers[users[j]]
			}
			return users[i] < users[j]
		})
		if len(users) > 10 {
			users = users[:10]
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Most blocked users:")
		for _, u := range users {
			fmt.Fprintf(w, "    %-24s %d\n", u, blockedUsers[u])
		}
	}
	fmt.Fprintln(w)
}

func eventIcon(e audit.Event) string {
	switch {
	case e.Type == audit.EventGuardError:
		return "\xe2\x9d\x97" // exclamation mark
	case e.Blocked:
		return "\xf0\x9f\x9b\x91" // stop sign
	case e.Severity > threat.LevelNone:
		return "\xf0\x9f\x94\x8d" // magnifying glass
	default:
		return "\xe2\x9c\x85" // check mark
	}
}

func formatTimestamp(ts time.Time) string {
	return ts.Local().Format("2006-01-02 15:04:05")
}
