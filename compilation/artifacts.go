package compilation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crytic/solcov/compilation/types"
	"github.com/crytic/solcov/logging"
	"github.com/pkg/errors"
)

// Artifacts describes a provider of compiled contract artifacts. It enumerates fully-qualified contract names of the
// form "<path>:<contract>" and resolves each to the build info of the compilation run that produced it.
type Artifacts interface {
	// FullyQualifiedNames returns the fully-qualified names of every compiled contract known to the provider.
	FullyQualifiedNames() []string

	// BuildInfo returns the build info of the compilation run that produced the named contract.
	// Returns an error if the name is unknown.
	BuildInfo(fullyQualifiedName string) (*types.BuildInfo, error)
}

// BuildInfoDirectory is an Artifacts provider backed by a directory of hardhat build-info JSON files
// (conventionally `artifacts/build-info/*.json`).
type BuildInfoDirectory struct {
	// names is the ordered list of fully-qualified contract names discovered across all build info files.
	names []string

	// nameToBuildInfo maps each fully-qualified name to the build info that produced it.
	nameToBuildInfo map[string]*types.BuildInfo

	// logger describes the logger used for artifact loading diagnostics.
	logger *logging.Logger
}

// LoadBuildInfoDirectory reads every hardhat build-info JSON file in the given directory and indexes the
// fully-qualified names of all contracts they contain.
// Returns the resulting provider, or an error if the directory could not be read or a file could not be parsed.
func LoadBuildInfoDirectory(directory string) (*BuildInfoDirectory, error) {
	provider := &BuildInfoDirectory{
		nameToBuildInfo: make(map[string]*types.BuildInfo),
		logger:          logging.GlobalLogger.NewSubLogger("module", logging.COMPILATION_SERVICE),
	}

	// Find all the build info files within our directory.
	matches, err := filepath.Glob(filepath.Join(directory, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no build info files found in '%v', did the project compile?", directory)
	}

	// Loop for each build info file to parse our compilations.
	for _, match := range matches {
		// Read the compiled JSON file data
		b, err := os.ReadFile(match)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read build info file '%v'", match)
		}

		// Parse the JSON
		var buildInfo types.BuildInfo
		err = json.Unmarshal(b, &buildInfo)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse build info file '%v'", match)
		}

		// Index every contract of the compilation under its fully-qualified name.
		for sourcePath, contracts := range buildInfo.Output.Contracts {
			for contractName := range contracts {
				fullyQualifiedName := fmt.Sprintf("%v:%v", sourcePath, contractName)
				provider.names = append(provider.names, fullyQualifiedName)
				provider.nameToBuildInfo[fullyQualifiedName] = &buildInfo
			}
		}

		provider.logger.Debug("Loaded build info file ", match)
	}

	return provider, nil
}

// FullyQualifiedNames returns the fully-qualified names of every compiled contract known to the provider.
func (d *BuildInfoDirectory) FullyQualifiedNames() []string {
	return d.names
}

// BuildInfo returns the build info of the compilation run that produced the named contract.
func (d *BuildInfoDirectory) BuildInfo(fullyQualifiedName string) (*types.BuildInfo, error) {
	buildInfo, ok := d.nameToBuildInfo[fullyQualifiedName]
	if !ok {
		return nil, fmt.Errorf("no build info found for contract '%v'", fullyQualifiedName)
	}
	return buildInfo, nil
}
