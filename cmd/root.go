package cmd

import (
	"github.com/crytic/solcov/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the root CLI command object which all other commands are attached to.
var rootCmd = &cobra.Command{
	Use:   "solcov",
	Short: "A coverage reporter for Solidity test suites",
	Long:  "solcov traces transactions executed by a test suite over JSON-RPC and produces source-level coverage reports",
}

// cmdLogger is the logger instance used for all CLI logging.
var cmdLogger = logging.GlobalLogger.NewSubLogger("module", logging.CLI_SERVICE)

// Execute provides an exportable function to invoke the CLI.
// Returns an error if one was encountered.
func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd.Execute()
}
