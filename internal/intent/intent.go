// Package intent classifies a query into one of seven intents (§4.5),
// extracts entities, and derives scope/complexity/budget heuristics used
// downstream by the optimizer's budget allocation phase.
package intent

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/prism/prism/pkg/chunk"
)

// Kind is one of the seven recognized query intents.
type Kind string

const (
	KindBugFix     Kind = "bug_fix"
	KindFeatureAdd Kind = "feature_add"
	KindExplain    Kind = "explain"
	KindRefactor   Kind = "refactor"
	KindTest       Kind = "test"
	KindSearch     Kind = "search"
	KindGeneral    Kind = "general"
)

// orderedKinds fixes the tie-break order of §4.5.
var orderedKinds = []Kind{KindBugFix, KindFeatureAdd, KindExplain, KindRefactor, KindTest, KindSearch, KindGeneral}

var lexicons = map[Kind][]string{
	KindBugFix:     {"bug", "fix", "broken", "error", "crash", "fails", "failing", "issue", "regression", "panic"},
	KindFeatureAdd: {"add", "implement", "feature", "support", "new", "create", "build"},
	KindExplain:    {"explain", "what", "why", "how", "understand", "describe", "clarify"},
	KindRefactor:   {"refactor", "cleanup", "clean", "restructure", "simplify", "rename", "extract"},
	KindTest:       {"test", "tests", "testing", "coverage", "unit", "spec", "assert"},
	KindSearch:     {"find", "search", "locate", "where", "grep", "list"},
}

// Scope is the breadth of retrieval implied by a query.
type Scope string

const (
	ScopeCurrentFile Scope = "current_file"
	ScopeCurrentDir  Scope = "current_dir"
	ScopeProject     Scope = "project"
	ScopeGlobal      Scope = "global"
)

// OptimizationOptions flags which chunk structures must survive compression.
type OptimizationOptions struct {
	PreserveSignatures bool
	PreserveImports    bool
	PreserveTypes      bool
}

// Entities holds the extracted entity sets of §4.5. Symbols, Files and Types
// are in extraction order; Keywords are sorted alphabetically.
type Entities struct {
	Symbols  []string
	Files    []string
	Types    []string
	Keywords []string
}

// Intent is the full classification output of §4.5.
type Intent struct {
	Kind                 Kind
	Entities             Entities
	Scope                Scope
	Complexity           float64
	NeedsHistory         bool
	EstimatedBudget      int
	OptimizationOptions  OptimizationOptions
}

var (
	backtickPattern = regexp.MustCompile("`([^`]+)`")
	filePattern     = regexp.MustCompile(`\b[\w\-/]+\.(go|ts|tsx|js|jsx|py|rs|java|rb|c|cc|cpp|h|hpp|cs|php|kt|swift|scala|sh)\b`)
	// capitalized multi-char tokens not at sentence start: requires a
	// preceding lowercase/space context to rule out sentence-initial caps.
	typePattern = regexp.MustCompile(`(?:^|[a-z,;)\]]\s+)([A-Z][A-Za-z0-9]{2,})`)
	anaphora    = []string{" it ", " that ", " this ", " those ", " these ", "also,", "additionally,"}
)

var technicalLexicon = map[string]bool{
	"api": true, "database": true, "cache": true, "auth": true, "token": true,
	"embedding": true, "vector": true, "query": true, "index": true, "schema": true,
	"async": true, "goroutine": true, "channel": true, "mutex": true, "interface": true,
	"struct": true, "config": true, "middleware": true, "handler": true, "endpoint": true,
}

// budgetTable maps (kind, scope) -> estimated token budget. Absent entries
// fall back to a conservative default.
var budgetTable = map[Kind]map[Scope]int{
	KindBugFix:     {ScopeCurrentFile: 4000, ScopeCurrentDir: 8000, ScopeProject: 16000, ScopeGlobal: 32000},
	KindFeatureAdd: {ScopeCurrentFile: 6000, ScopeCurrentDir: 12000, ScopeProject: 24000, ScopeGlobal: 48000},
	KindExplain:    {ScopeCurrentFile: 3000, ScopeCurrentDir: 6000, ScopeProject: 12000, ScopeGlobal: 20000},
	KindRefactor:   {ScopeCurrentFile: 5000, ScopeCurrentDir: 10000, ScopeProject: 20000, ScopeGlobal: 40000},
	KindTest:       {ScopeCurrentFile: 4000, ScopeCurrentDir: 8000, ScopeProject: 16000, ScopeGlobal: 28000},
	KindSearch:     {ScopeCurrentFile: 2000, ScopeCurrentDir: 4000, ScopeProject: 8000, ScopeGlobal: 16000},
	KindGeneral:    {ScopeCurrentFile: 3000, ScopeCurrentDir: 6000, ScopeProject: 12000, ScopeGlobal: 20000},
}

const defaultBudget = 12000

// defaultOptimizationOptions keyed by kind, per §4.5.
var defaultOptimizationOptions = map[Kind]OptimizationOptions{
	KindBugFix:     {PreserveSignatures: true, PreserveImports: true, PreserveTypes: true},
	KindFeatureAdd: {PreserveSignatures: true, PreserveImports: true, PreserveTypes: true},
	KindExplain:    {PreserveSignatures: true, PreserveImports: false, PreserveTypes: true},
	KindRefactor:   {PreserveSignatures: true, PreserveImports: true, PreserveTypes: true},
	KindTest:       {PreserveSignatures: true, PreserveImports: true, PreserveTypes: false},
	KindSearch:     {PreserveSignatures: true, PreserveImports: false, PreserveTypes: false},
	KindGeneral:    {PreserveSignatures: true, PreserveImports: false, PreserveTypes: false},
}

var crossCuttingTerms = []string{"across the codebase", "everywhere", "whole project", "entire codebase", "all repositories", "all repos", "project-wide", "codebase-wide"}

// Detector implements the IntentDetector contract of §4.5.
type Detector struct{}

func New() Detector { return Detector{} }

// Detect classifies query given the current scoring context.
func (Detector) Detect(ctx context.Context, query string, sctx chunk.ScoringContext) Intent {
	lower := strings.ToLower(query)
	tokens := tokenize(lower)

	kind := classify(tokens)
	entities := extractEntities(query)
	scope := determineScope(lower, entities, sctx)
	complexity := computeComplexity(tokens, entities)
	needsHistory := containsAnaphora(lower)

	budget := defaultBudget
	if byScope, ok := budgetTable[kind]; ok {
		if b, ok := byScope[scope]; ok {
			budget = b
		}
	}

	return Intent{
		Kind:                kind,
		Entities:            entities,
		Scope:               scope,
		Complexity:          complexity,
		NeedsHistory:        needsHistory,
		EstimatedBudget:     budget,
		OptimizationOptions: defaultOptimizationOptions[kind],
	}
}

func tokenize(lower string) []string {
	return regexp.MustCompile(`[a-z0-9_]+`).FindAllString(lower, -1)
}

func classify(tokens []string) Kind {
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}
	for _, kind := range orderedKinds {
		if kind == KindGeneral {
			continue
		}
		for _, lex := range lexicons[kind] {
			if tokenSet[lex] {
				return kind
			}
		}
	}
	return KindGeneral
}

func extractEntities(query string) Entities {
	var e Entities

	for _, m := range backtickPattern.FindAllStringSubmatch(query, -1) {
		e.Symbols = append(e.Symbols, m[1])
	}
	for _, m := range filePattern.FindAllString(query, -1) {
		e.Files = append(e.Files, m)
	}
	for _, m := range typePattern.FindAllStringSubmatch(query, -1) {
		e.Types = append(e.Types, m[1])
	}

	lower := strings.ToLower(query)
	for _, tok := range tokenize(lower) {
		if technicalLexicon[tok] {
			e.Keywords = append(e.Keywords, tok)
		}
	}
	sort.Strings(e.Keywords)
	return e
}

func determineScope(lower string, e Entities, sctx chunk.ScoringContext) Scope {
	for _, term := range crossCuttingTerms {
		if strings.Contains(lower, term) {
			return ScopeGlobal
		}
	}
	if strings.Contains(lower, "this file") {
		return ScopeCurrentFile
	}
	if len(e.Files) == 1 && sctx.CurrentFile != "" && strings.HasSuffix(sctx.CurrentFile, e.Files[0]) {
		return ScopeCurrentFile
	}
	if len(e.Files) > 1 {
		return ScopeCurrentDir
	}
	return ScopeProject
}

func computeComplexity(tokens []string, e Entities) float64 {
	lengthFactor := clamp01(float64(len(tokens)) / 40.0)

	distinct := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		distinct[t] = true
	}
	diversity := 0.0
	if len(tokens) > 0 {
		diversity = float64(len(distinct)) / float64(len(tokens))
	}

	entityCount := len(e.Symbols) + len(e.Files) + len(e.Types) + len(e.Keywords)
	entityFactor := clamp01(float64(entityCount) / 10.0)

	return clamp01((lengthFactor + diversity + entityFactor) / 3.0)
}

func containsAnaphora(lower string) bool {
	padded := " " + lower + " "
	for _, a := range anaphora {
		if strings.Contains(padded, a) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
