package logging

// These constants are used to identify the various services that may do some logging
const (
	// CLI_SERVICE is the constant used to identify the cmd package
	CLI_SERVICE = "cli"
	// COMPILATION_SERVICE is the constant used to identify the compilation package
	COMPILATION_SERVICE = "compilation"
	// COVERAGE_SERVICE is the constant used to identify the coverage package
	COVERAGE_SERVICE = "coverage"
	// TRACE_SERVICE is the constant used to identify the trace package
	TRACE_SERVICE = "trace"
)
