package facts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"webpilot-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Fact represents a normalized telemetry event emitted by the action engine.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult represents a binding of variables to values from a Mangle query.
type QueryResult map[string]interface{}

// builtinSchema declares the telemetry predicates the engine emits and a few
// derived views over them. Used when no schema file is configured.
const builtinSchema = `
Decl action_event(Kind, Status, Error, DurationMs).
Decl navigation_event(Url, Direction, Status).
Decl snapshot_event(Epoch, NodeCount, Truncated).

failed_action(Kind, Error) :- action_event(Kind, "failed", Error, _).
failed_navigation(Url) :- navigation_event(Url, _, "failed").
`

// Store wraps the Mangle deductive database with a temporal fact buffer.
// Action dispatch, navigation, and snapshot builds feed it events; MCP
// tools query it for session diagnostics.
type Store struct {
	cfg          config.FactsConfig
	mu           sync.RWMutex
	schemaLoaded bool

	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	// Temporal buffer, trimmed circularly at FactBufferLimit.
	facts []Fact
	// Predicate index into the buffer.
	index map[string][]int
}

// NewStore builds a store and loads either the configured schema file or the
// builtin telemetry schema.
func NewStore(cfg config.FactsConfig) (*Store, error) {
	s := &Store{
		cfg:   cfg,
		facts: make([]Fact, 0, cfg.FactBufferLimit),
		index: make(map[string][]int),
		store: factstore.NewSimpleInMemoryStore(),
	}

	if !cfg.Enable {
		return s, nil
	}

	if cfg.SchemaPath != "" {
		data, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		if err := s.loadSchema(data); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.loadSchema([]byte(builtinSchema)); err != nil {
		return nil, err
	}
	return s, nil
}

// loadSchema parses and analyzes a Mangle program so the store can evaluate
// derived predicates.
func (s *Store) loadSchema(data []byte) error {
	sourceUnit, err := parse.Unit(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(sourceUnit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.programInfo = programInfo
	s.schemaLoaded = true
	return nil
}

// AddFacts appends incoming facts to the temporal buffer and the Mangle
// store, then re-evaluates derived predicates.
func (s *Store) AddFacts(ctx context.Context, incoming []Fact) error {
	if !s.cfg.Enable {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	baseIdx := len(s.facts)
	s.facts = append(s.facts, incoming...)
	if s.cfg.FactBufferLimit > 0 && len(s.facts) > s.cfg.FactBufferLimit {
		trim := len(s.facts) - s.cfg.FactBufferLimit
		s.facts = s.facts[trim:]
		s.rebuildIndex()
	} else {
		for i, f := range incoming {
			s.index[f.Predicate] = append(s.index[f.Predicate], baseIdx+i)
		}
	}

	for _, f := range incoming {
		s.store.Add(factToAtom(f))
	}

	if s.schemaLoaded && s.programInfo != nil {
		if err := engine.EvalProgram(s.programInfo, s.store); err != nil {
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
	}

	return nil
}

// Query executes a Mangle query and returns all satisfying variable bindings.
func (s *Store) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !s.cfg.Enable || !s.schemaLoaded {
		return nil, fmt.Errorf("fact store not ready")
	}

	// Accept bare atoms; the parser wants a period-terminated clause.
	normalized := strings.TrimSpace(queryStr)
	if normalized != "" && !strings.HasSuffix(normalized, ".") {
		normalized += "."
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(normalized)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = s.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if varArg, ok := arg.(ast.Variable); ok {
				result[varArg.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	return results, nil
}

// Evaluate runs full program evaluation and returns derived facts for one
// predicate.
func (s *Store) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !s.cfg.Enable || !s.schemaLoaded {
		return nil, fmt.Errorf("fact store not ready")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := engine.EvalProgram(s.programInfo, s.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	arity := -1
	for sym := range s.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}

	var queryAtom ast.Atom
	predSym := ast.PredicateSym{Symbol: predicate, Arity: arity}
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := 0; i < arity; i++ {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom = ast.Atom{Predicate: predSym, Args: args}
	} else {
		queryAtom = ast.Atom{Predicate: predSym}
	}

	derived := make([]Fact, 0)
	err := s.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		derived = append(derived, atomToFact(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return derived, nil
}

// QueryTemporal returns buffered facts for a predicate within a time window.
// Zero times leave that side of the window open.
func (s *Store) QueryTemporal(predicate string, after, before time.Time) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range s.index[predicate] {
		if idx < 0 || idx >= len(s.facts) {
			continue
		}
		f := s.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns matching facts using the index.
func (s *Store) FactsByPredicate(predicate string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices := s.index[predicate]
	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(s.facts) {
			results = append(results, s.facts[idx])
		}
	}
	return results
}

// Facts returns a shallow copy of the buffered facts.
func (s *Store) Facts() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

// Ready reports whether the store can serve queries.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemaLoaded || !s.cfg.Enable
}

func (s *Store) rebuildIndex() {
	s.index = make(map[string][]int)
	for i, f := range s.facts {
		s.index[f.Predicate] = append(s.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{
		Predicate: atom.Predicate.Symbol,
		Args:      args,
		Timestamp: time.Now(),
	}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case uint64:
		return ast.Number(int64(val))
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	if c == nil {
		return nil
	}
	switch term := c.(type) {
	case ast.Constant:
		if term.Type == ast.StringType {
			val, _ := term.StringValue()
			return val
		} else if term.Type == ast.NumberType {
			return term.NumberValue
		} else if term.Type == ast.Float64Type {
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}
