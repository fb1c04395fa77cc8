package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rageval/src/infrastructure/log"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rageval",
	Short: "Score the retrieval of a RAG application with LLM relevance judgments",
	Long: `rageval indexes a document corpus in Weaviate, answers a query set with a
retrieval-augmented chat model, asks a judge model whether each retrieved
document is relevant and reports precision@k per query.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	settingDefaultConfig()
}

func initConfig() error {
	// a missing .env is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}

	return log.Configure(viper.GetString("log.level"), viper.GetBool("log.development"))
}
