package coverage

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/crytic/solcov/compilation"
	"github.com/crytic/solcov/compilation/types"
	"github.com/crytic/solcov/logging"
)

// minimumPrefixMatchLength is the minimum hex-character length a known bytecode must have before it may be matched as
// a prefix of a longer deployed bytecode. This excludes trivially short stubs from matching everything.
const minimumPrefixMatchLength = 42

// Sources owns every bytecode known from compilation artifacts along with its SourceMap, the deployed addresses
// observed during tracing, and the mapping between source unit IDs and (disambiguated) source file paths.
type Sources struct {
	// addressToBytecodes maps deployed addresses (lowercase hex, no 0x prefix) to the runtime bytecode observed at
	// that address.
	addressToBytecodes map[string]string

	// bytecodeToSourceMaps maps bytecode hex strings to their parsed SourceMap. Keys include both compiled
	// bytecodes and deployed bytecodes resolved through fuzzy matching.
	bytecodeToSourceMaps map[string]*SourceMap

	// bytecodeToSourcePaths maps bytecode hex strings to a lookup of source unit ID to disambiguated source path.
	bytecodeToSourcePaths map[string]map[int]string

	// pathToCompilerSources maps disambiguated source paths to the compiler source stored under that path. The
	// stored content is always the exact content the compiler saw for that path.
	pathToCompilerSources map[string]*types.CompilerSource

	// unique counts the disambiguated path suffixes allocated so far; colliding paths are stored as "<path>:<k>"
	// with k drawn from this counter.
	unique int

	// logger describes the logger used for source registry diagnostics.
	logger *logging.Logger
}

// NewSources creates an empty source registry.
func NewSources() *Sources {
	return &Sources{
		addressToBytecodes:    make(map[string]string),
		bytecodeToSourceMaps:  make(map[string]*SourceMap),
		bytecodeToSourcePaths: make(map[string]map[int]string),
		pathToCompilerSources: make(map[string]*types.CompilerSource),
		logger:                logging.GlobalLogger.NewSubLogger("module", logging.COVERAGE_SERVICE),
	}
}

// Crawl walks every contract the artifacts provider knows of, parses the source maps of its runtime and constructor
// bytecodes, and indexes their compiler sources (including compiler-generated ones) under disambiguated paths.
// Returns an error if artifact data could not be resolved.
func (s *Sources) Crawl(artifacts compilation.Artifacts) error {
	for _, fullyQualifiedName := range artifacts.FullyQualifiedNames() {
		buildInfo, err := artifacts.BuildInfo(fullyQualifiedName)
		if err != nil {
			return err
		}

		// Split the fully-qualified name into its source path and contract name.
		separator := strings.LastIndex(fullyQualifiedName, ":")
		if separator == -1 {
			return fmt.Errorf("malformed fully-qualified contract name '%v'", fullyQualifiedName)
		}
		sourcePath := fullyQualifiedName[:separator]
		contractName := fullyQualifiedName[separator+1:]

		contract, ok := buildInfo.Output.Contracts[sourcePath][contractName]
		if !ok {
			return fmt.Errorf("no compiled contract found for '%v'", fullyQualifiedName)
		}

		// Build the ordered compiler source array shared by both bytecodes, indexed by source unit ID.
		baseSources := compilerSourcesFromBuildInfo(buildInfo)

		// Parse both the runtime and the constructor bytecode of the contract.
		for _, code := range []*types.CompilerOutputCode{&contract.EVM.DeployedBytecode, &contract.EVM.Bytecode} {
			if len(code.Object) == 0 {
				continue
			}
			if err := s.addBytecode(fullyQualifiedName, code, baseSources); err != nil {
				// A bytecode that cannot be decoded (e.g. unlinked library placeholders) is skipped rather
				// than aborting the crawl; its contract simply will not be attributable.
				s.logger.Warn("Skipping bytecode of ", fullyQualifiedName, err)
			}
		}
	}
	return nil
}

// compilerSourcesFromBuildInfo builds a sparse compiler source array indexed by source unit ID from the build info's
// input and output source listings.
func compilerSourcesFromBuildInfo(buildInfo *types.BuildInfo) []*types.CompilerSource {
	var sources []*types.CompilerSource
	for path, outputSource := range buildInfo.Output.Sources {
		src := &types.CompilerSource{
			Path:    path,
			Content: buildInfo.Input.Sources[path].Content,
			AST:     outputSource.AST,
			ID:      outputSource.ID,
		}
		sources = growTo(sources, src.ID)
		sources[src.ID] = src
	}
	return sources
}

// growTo extends the given sparse slice so that the provided index is addressable.
func growTo(sources []*types.CompilerSource, index int) []*types.CompilerSource {
	for len(sources) <= index {
		sources = append(sources, nil)
	}
	return sources
}

// addBytecode parses one compiler output code into a SourceMap, appends its compiler-generated sources to a copy of
// the shared source array, and indexes the result.
func (s *Sources) addBytecode(fullyQualifiedName string, code *types.CompilerOutputCode, baseSources []*types.CompilerSource) error {
	// Clone the shared source array and append the synthetic sources generated for this bytecode.
	codeSources := make([]*types.CompilerSource, len(baseSources))
	copy(codeSources, baseSources)
	for _, generated := range code.GeneratedSources {
		src := &types.CompilerSource{
			Path:    generated.Name,
			Content: generated.Contents,
			AST:     generated.AST,
			ID:      generated.ID,
		}
		codeSources = growTo(codeSources, src.ID)
		codeSources[src.ID] = src
	}

	sourceMap, err := NewSourceMap(fullyQualifiedName, code, codeSources)
	if err != nil {
		return err
	}

	// If an identical bytecode was already indexed (e.g. two identical contracts), keep the first mapping.
	if _, exists := s.bytecodeToSourceMaps[sourceMap.Bytecode]; exists {
		return nil
	}
	s.bytecodeToSourceMaps[sourceMap.Bytecode] = sourceMap
	s.indexBytecodeToSourceMap(sourceMap.Bytecode, sourceMap)

	// Also register the metadata-stripped form of the bytecode. The fuzzy rules only reach deployments that are
	// at least as long as the artifact, so a deployed bytecode whose metadata tail was truncated resolves through
	// this key instead.
	if decoded, err := hex.DecodeString(sourceMap.Bytecode); err == nil {
		stripped := hex.EncodeToString(types.RemoveContractMetadata(decoded))
		if _, exists := s.bytecodeToSourceMaps[stripped]; stripped != sourceMap.Bytecode && !exists {
			s.bytecodeToSourceMaps[stripped] = sourceMap
			s.indexBytecodeToSourceMap(stripped, sourceMap)
		}
	}
	return nil
}

// indexBytecodeToSourceMap records, for the given bytecode key, the disambiguated path of every compiler source the
// source map carries. When two different contents compete for the same nominal path, the later one is stored under a
// "<path>:<k>" suffix so that any (bytecode, source ID) pair always resolves to a path whose stored content is the
// exact content the compiler saw.
func (s *Sources) indexBytecodeToSourceMap(bytecode string, sourceMap *SourceMap) {
	idToPath, ok := s.bytecodeToSourcePaths[bytecode]
	if !ok {
		idToPath = make(map[int]string)
		s.bytecodeToSourcePaths[bytecode] = idToPath
	}

	for _, src := range sourceMap.Sources {
		if src == nil {
			continue
		}
		existing, ok := s.pathToCompilerSources[src.Path]
		if !ok {
			// First time we see this path; store the source under it.
			s.pathToCompilerSources[src.Path] = src
			idToPath[src.ID] = src.Path
			continue
		}
		if existing.Content == src.Content {
			// Identical content; reuse the same path.
			idToPath[src.ID] = src.Path
			continue
		}

		// The nominal path is taken by different content. Search previously disambiguated paths for a content
		// match before allocating a new suffix.
		found := false
		for k := 0; k < s.unique; k++ {
			maybePath := fmt.Sprintf("%v:%v", src.Path, k)
			if candidate, ok := s.pathToCompilerSources[maybePath]; ok && candidate.Content == src.Content {
				idToPath[src.ID] = maybePath
				found = true
				break
			}
		}
		if !found {
			newPath := fmt.Sprintf("%v:%v", src.Path, s.unique)
			s.pathToCompilerSources[newPath] = src
			idToPath[src.ID] = newPath
			s.unique++
		}
	}
}

// LoadAddresses merges the given address to bytecode map into the registry, lowercasing every address key and
// normalizing every bytecode to unprefixed lowercase hex.
func (s *Sources) LoadAddresses(addressToBytecodes map[string]string) {
	for address, bytecode := range addressToBytecodes {
		s.addressToBytecodes[strings.ToLower(address)] = normalizeBytecode(bytecode)
	}
}

// AddressToBytecode resolves a deployed address to the bytecode observed at it.
// Returns an UnknownAddressError if no bytecode has been loaded for the address.
func (s *Sources) AddressToBytecode(address string) (string, error) {
	bytecode, ok := s.addressToBytecodes[strings.ToLower(address)]
	if !ok {
		return "", &UnknownAddressError{Address: address}
	}
	return bytecode, nil
}

// BytecodeToSourceMap resolves a bytecode to its SourceMap. Deployed bytecode often differs from its compiled
// artifact: immutable slots are patched in at deploy time (zero nibbles in the artifact), and a metadata tail may be
// truncated or extended. An exact match wins; otherwise fuzzy rules apply, and a successful fuzzy resolution is
// cached under the new bytecode key so later lookups are direct.
// Returns a NoSourceMapError if no known bytecode matches.
func (s *Sources) BytecodeToSourceMap(bytecode string) (*SourceMap, error) {
	normalized := normalizeBytecode(bytecode)

	// Exact match wins.
	if sourceMap, ok := s.bytecodeToSourceMaps[normalized]; ok {
		return sourceMap, nil
	}

	// Otherwise, try each known bytecode under the fuzzy rules.
	var matched *SourceMap
	for known, sourceMap := range s.bytecodeToSourceMaps {
		if bytecodeMatches(normalized, known) {
			matched = sourceMap
			break
		}
	}
	if matched == nil {
		return nil, &NoSourceMapError{Bytecode: normalized}
	}

	// Cache the resolution under the new key and re-run the per-source indexing so later lookups are O(1).
	s.bytecodeToSourceMaps[normalized] = matched
	s.indexBytecodeToSourceMap(normalized, matched)
	s.logMetadataKind(normalized, matched)
	return matched, nil
}

// bytecodeMatches reports whether a deployed bytecode matches a known compiled bytecode under the fuzzy rules: a
// character-wise match where the compiled artifact's zero nibbles act as wildcards (immutable slots), or a prefix
// match when the deployed bytecode carries an extended metadata tail.
func bytecodeMatches(deployed string, known string) bool {
	if len(deployed) == len(known) {
		for i := 0; i < len(known); i++ {
			if deployed[i] != known[i] && known[i] != '0' {
				return false
			}
		}
		return true
	}
	if len(deployed) > len(known) && len(known) > minimumPrefixMatchLength {
		return deployed[:len(known)] == known
	}
	return false
}

// logMetadataKind emits a debug diagnostic describing which metadata hash kind (and bytecode hash) the deployed
// bytecode carries, when a fuzzy match succeeded on a bytecode with a decodable metadata tail.
func (s *Sources) logMetadataKind(deployed string, sourceMap *SourceMap) {
	decoded, err := hex.DecodeString(deployed)
	if err != nil {
		return
	}
	metadata := types.ExtractContractMetadata(decoded)
	if metadata == nil {
		return
	}
	if bytecodeHash := metadata.ExtractBytecodeHash(); bytecodeHash != nil {
		s.logger.Debug("Fuzzy-matched bytecode of ", sourceMap.FQDN, " with ", metadata.HashKind(), " metadata tail (hash ", hex.EncodeToString(bytecodeHash), ")")
	} else {
		s.logger.Debug("Fuzzy-matched bytecode of ", sourceMap.FQDN, " with ", metadata.HashKind(), " metadata tail")
	}
}

// CompilerSourcePath resolves a (bytecode, source index) pair to the disambiguated path of the compiler source it
// references.
// Returns a NoPathForSourceError if the pair is unknown.
func (s *Sources) CompilerSourcePath(bytecode string, sourceIndex int) (string, error) {
	idToPath, ok := s.bytecodeToSourcePaths[bytecode]
	if !ok {
		return "", &NoPathForSourceError{Bytecode: bytecode, SourceIndex: sourceIndex}
	}
	path, ok := idToPath[sourceIndex]
	if !ok {
		return "", &NoPathForSourceError{Bytecode: bytecode, SourceIndex: sourceIndex}
	}
	return path, nil
}

// CompilerSource returns the compiler source stored under the given disambiguated path, or nil if the path is
// unknown.
func (s *Sources) CompilerSource(path string) *types.CompilerSource {
	return s.pathToCompilerSources[path]
}

// normalizeBytecode lowercases a bytecode hex string and strips any 0x prefix.
func normalizeBytecode(bytecode string) string {
	return strings.ToLower(strings.TrimPrefix(bytecode, "0x"))
}
