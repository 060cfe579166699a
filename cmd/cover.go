package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/crytic/solcov/cmd/exitcodes"
	"github.com/crytic/solcov/compilation"
	"github.com/crytic/solcov/coverage"
	"github.com/crytic/solcov/logging"
	"github.com/crytic/solcov/trace"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// coverCmd represents the command provider for coverage runs
var coverCmd = &cobra.Command{
	Use:               "cover [test files]",
	Short:             "Runs the test suite and produces a coverage report",
	Long:              `Runs the test suite against a development node, traces every mined transaction, and produces a source-level coverage report`,
	Args:              cobra.ArbitraryArgs,
	ValidArgsFunction: cmdValidCoverArgs,
	RunE:              cmdRunCover,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// cmdValidCoverArgs will return which flags are valid for dynamic completion for the cover command
func cmdValidCoverArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	// Gather a list of flags that are available to be used in the current command but have not been used yet
	var unusedFlags []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			unusedFlags = append(unusedFlags, "--"+flag.Name)
		}
	})
	return unusedFlags, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	// Add all the flags allowed for the cover command
	addCoverFlags()

	// Add the cover command and its associated flags to the root command
	rootCmd.AddCommand(coverCmd)
}

// cmdRunCover executes the CLI cover command and navigates through the following possibilities:
// #1: We will compile the project, run the test suite, trace every mined transaction, and write the report.
// #2: If --no-compile is provided, compilation is skipped and existing artifacts are used.
// Returns an error if one is encountered, wrapped with the exit code the application should terminate with.
func cmdRunCover(cmd *cobra.Command, args []string) error {
	// Gather our flag values.
	coverageFile, _ := cmd.Flags().GetString("coverage-file")
	lcovFile, _ := cmd.Flags().GetString("lcov")
	noCompile, _ := cmd.Flags().GetBool("no-compile")
	artifactsDir, _ := cmd.Flags().GetString("artifacts-dir")
	rpcURL, _ := cmd.Flags().GetString("rpc-url")
	testCommand, _ := cmd.Flags().GetString("test-command")
	verbose, _ := cmd.Flags().GetBool("verbose")

	// Enable console logging for the run.
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logging.GlobalLogger = logging.NewLogger(level, true)
	cmdLogger = logging.GlobalLogger.NewSubLogger("module", logging.CLI_SERVICE)
	logger := cmdLogger

	// Compile the project unless we were asked not to.
	if !noCompile {
		logger.Info("Compiling project")
		if err := runCommand(DefaultCompileCommand, nil); err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
		}
	}

	// Load compiled artifacts and index every bytecode and source they carry.
	artifacts, err := compilation.LoadBuildInfoDirectory(artifactsDir)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
	}
	sources := coverage.NewSources()
	if err := sources.Crawl(artifacts); err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
	}

	// Precompute the syntax tables coverage attribution resolves against.
	cov := coverage.NewCoverage(sources)
	cov.Cover()

	// Connect to the development node the test suite will run against.
	provider, err := trace.NewRPCProvider(rpcURL)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
	}
	defer provider.Close()

	ctx := context.Background()
	startBlock, err := trace.BlockNumber(ctx, provider)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
	}

	// Run the test suite. A failing suite still produces a report; we surface its failure afterwards.
	logger.Info("Running test suite")
	testErr := runCommand(testCommand, args)

	endBlock, err := trace.BlockNumber(ctx, provider)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
	}

	// Trace every transaction the test suite mined and accumulate coverage. Per-transaction errors are logged and
	// tolerated so a single bad trace cannot abort the run.
	txHashes, err := trace.CrawlBlocks(ctx, provider, startBlock+1, endBlock)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
	}
	logger.Info("Tracing ", len(txHashes), " transactions")
	interceptor := coverage.NewInterceptor(provider, cov)
	for _, txHash := range txHashes {
		interceptor.TraceAndReport(ctx, txHash)
	}

	// Filter and write the report.
	report := interceptor.Report()
	if report == nil {
		report = cov.FreshReport()
	}
	filtered := cov.FilteredReport(report)
	if err := writeReport(filtered, coverageFile, lcovFile); err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCoverError)
	}
	logger.Info("Coverage report written to ", coverageFile)

	// Log a per-file summary.
	for _, path := range filtered.SortedPaths() {
		hit, total := filtered.LineCoverage(path, cov.SyntaxTable(path))
		if total == 0 {
			continue
		}
		logger.Info(path, ": ", fmt.Sprintf("%.1f%%", float64(hit)/float64(total)*100), " line coverage (", hit, "/", total, ")")
	}

	// Surface the test suite failure, if any, now that the report is written.
	if testErr != nil {
		logger.Error("Test suite failed", testErr)
		return exitcodes.NewErrorWithExitCode(testErr, exitcodes.ExitCodeTestFailed)
	}
	return nil
}

// runCommand executes the given shell-style command with any extra arguments appended, inheriting our standard
// streams.
func runCommand(command string, extraArgs []string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	execCmd := exec.Command(fields[0], append(fields[1:], extraArgs...)...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	return execCmd.Run()
}

// writeReport writes the filtered report as JSON, and optionally as an LCOV trace file.
func writeReport(report coverage.Report, coverageFile string, lcovFile string) error {
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(coverageFile, encoded, 0644); err != nil {
		return err
	}

	if lcovFile != "" {
		f, err := os.Create(lcovFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := report.WriteLCOV(f); err != nil {
			return err
		}
	}
	return nil
}
