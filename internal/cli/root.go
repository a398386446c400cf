package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "eduguard",
	Short: "EduGuard - Security guard for LLM features on a learning platform",
	Long: `EduGuard sits between learners and the language model behind hints,
explanations and feedback. It checks who may use which feature, scans
prompts and responses for injection, jailbreaks, personal data and
secrets, sanitizes what can be salvaged, and keeps a tamper-evident
audit trail of every decision.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: $EDUGUARD_CONFIG or ~/.eduguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

func Execute() error {
	return rootCmd.Execute()
}
