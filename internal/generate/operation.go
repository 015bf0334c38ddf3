package generate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kalambet/sectiond/internal/render"
)

// Operation describes one generation call site: how to prompt the model and
// how to read its answer back.
type Operation struct {
	Name string `json:"name"`
	// Namespace prefixes cache keys; defaults to Name.
	Namespace   string `json:"namespace"`
	Description string `json:"description"`
	System      string `json:"-"`
	// Format is appended to the system prompt and tells the model which
	// output shape to use.
	Format string `json:"-"`
	// Delimited operations expect ###NAME### blocks.
	Delimited bool `json:"delimited"`
	// JSON asks the backend for a JSON-only response.
	JSON bool `json:"json"`
	// Model overrides the backend default for this operation.
	Model string `json:"model,omitempty"`
	// Vocabulary, when set, lays the result out as a printable document.
	Vocabulary render.Vocabulary `json:"vocabulary,omitempty"`
}

func (o Operation) namespace() string {
	if o.Namespace != "" {
		return o.Namespace
	}
	return o.Name
}

// Registry holds the operations the service can run.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry creates a registry holding ops.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the built-in operations.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinOperations()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds op. Names and namespaces must be unique.
func (r *Registry) Register(op Operation) error {
	if op.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[op.Name]; ok {
		return fmt.Errorf("operation %q already registered", op.Name)
	}
	for _, existing := range r.ops {
		if existing.namespace() == op.namespace() {
			return fmt.Errorf("operation %q reuses namespace %q of %q", op.Name, op.namespace(), existing.Name)
		}
	}
	if op.Namespace == "" {
		op.Namespace = op.Name
	}
	r.ops[op.Name] = op
	return nil
}

// Lookup returns the operation called name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

// List returns all operations sorted by name.
func (r *Registry) List() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Operation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

const baseSystem = `You are an assistant for a digital agency. You receive a JSON description of a client and produce material the agency can show to that client. Write in the language used in the input.`

var proposalVocabulary = render.Vocabulary{
	{Key: "scope", Title: "Scope", Aliases: []string{"escopo"}},
	{Key: "deliverables", Title: "Deliverables", Aliases: []string{"entregaveis"}},
	{Key: "timeline", Title: "Timeline", Aliases: []string{"cronograma", "prazo"}},
	{Key: "investment", Title: "Investment", Aliases: []string{"investimento", "pricing"}},
	{Key: "next_step", Title: "Next Step", Aliases: []string{"next steps", "proximos passos"}},
}

// BuiltinOperations returns the generation call sites shipped with sectiond.
func BuiltinOperations() []Operation {
	return []Operation{
		{
			Name:        "diagnosis",
			Description: "Business diagnosis of a prospect",
			System:      baseSystem,
			Format:      `Answer with ONLY a JSON object with the keys "overview", "risks", "recommendations" and "next_step". Each value is prose or a list of strings.`,
			JSON:        true,
			Vocabulary:  render.DefaultVocabulary,
		},
		{
			Name:        "proposal",
			Description: "Commercial proposal split into named blocks",
			System:      baseSystem,
			Format: `Answer with these blocks, each wrapped in its own markers and nothing outside them:
###SCOPE###...###SCOPE###
###DELIVERABLES###...###DELIVERABLES###
###TIMELINE###...###TIMELINE###
###INVESTMENT###...###INVESTMENT###
###NEXT_STEPS###...###NEXT_STEPS###`,
			Delimited:  true,
			Vocabulary: proposalVocabulary,
		},
		{
			Name:        "process_organization",
			Description: "Internal process map for a client",
			System:      baseSystem,
			Format:      `Answer with ONLY a JSON array. Each element is an object with "title" and "content" describing one process.`,
			JSON:        true,
		},
		{
			Name:        "lead_generation",
			Description: "Lead generation ideas",
			System:      baseSystem,
			Format:      `Answer with ONLY a JSON array of leads. Each lead is an object with "name", "description" and "channel".`,
			JSON:        true,
		},
		{
			Name:        "response",
			Description: "Free-form answer rendered as sections",
			System:      baseSystem,
			Format:      `Answer in markdown. Start every part with a "## " heading.`,
		},
	}
}
