package cmd

const (
	// DefaultCoverageFile describes the default path the JSON coverage report is written to.
	DefaultCoverageFile = "coverage.json"

	// DefaultArtifactsDirectory describes the default directory hardhat writes build info files to.
	DefaultArtifactsDirectory = "artifacts/build-info"

	// DefaultRPCEndpoint describes the default JSON-RPC endpoint of the development node the test suite runs
	// against.
	DefaultRPCEndpoint = "http://127.0.0.1:8545"

	// DefaultTestCommand describes the default command used to run the test suite.
	DefaultTestCommand = "npx hardhat test"

	// DefaultCompileCommand describes the default command used to compile the project before tracing.
	DefaultCompileCommand = "npx hardhat compile"
)
