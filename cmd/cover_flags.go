package cmd

// addCoverFlags adds the various flags for the cover command
func addCoverFlags() {
	// Prevent alphabetical sorting of usage message
	coverCmd.Flags().SortFlags = false

	// Output paths
	coverCmd.Flags().String("coverage-file", DefaultCoverageFile, "path to write the JSON coverage report to")
	coverCmd.Flags().String("lcov", "", "path to additionally write an LCOV trace file to")

	// Compilation
	coverCmd.Flags().Bool("no-compile", false, "skip compiling the project before running the test suite")
	coverCmd.Flags().String("artifacts-dir", DefaultArtifactsDirectory, "directory containing hardhat build info files")

	// Execution
	coverCmd.Flags().String("rpc-url", DefaultRPCEndpoint, "JSON-RPC endpoint of the node the test suite runs against")
	coverCmd.Flags().String("test-command", DefaultTestCommand, "command used to run the test suite")

	// Verbosity
	coverCmd.Flags().Bool("verbose", false, "enable debug logging")
}
