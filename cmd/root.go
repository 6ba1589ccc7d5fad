package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reunite",
	Short: "Facial-biometric matching engine for missing-person cases",
	Long: `Reunite matches sightings of unidentified persons against a registry
of missing-person cases using face embeddings. It runs an HTTP API for
case intake, sighting submission, reviewer decisions, and notification
delivery to reporters.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
