package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"expertgate/internal/config"
	"expertgate/internal/database"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "expertgate",
		Short: "Expert evaluation and sharing gate for AI agents",
		Long: `expertgate runs expert-authored test plans against AI agents, aggregates the
reviewers' quality judgements and decides whether an agent may be shared.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the API and metrics servers",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE:  runMigrate,
	}
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for a user",
		RunE:  runToken,
	}
	tokenUser string

	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Load users, groups and evaluations from a YAML file",
		Long:  `Creates users and groups, then runs every evaluation plan, result and decision in the file through the same validation as the API.`,
		RunE:  runImport,
	}
	importFile string
)

func init() {
	defaultConfig := os.Getenv("EXPERTGATE_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User id to issue the token for")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "YAML file to import")
	_ = importCmd.MarkFlagRequired("file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s database\n", cfg.Database.Dialect)
	return nil
}
