// Package network holds the stock-flow graph: an arena of stocks addressed
// by index and an edge list of mechanisms between them. Networks are
// validated once at construction and are read-only afterwards; the
// With* methods return modified copies.
package network

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/forms"
)

type Options struct {
	// AllowSelfLoops permits mechanisms whose source is their target.
	AllowSelfLoops bool
	// Context lists the active moderator flags.
	Context []string
	// MaxLoops caps simple-cycle enumeration. Zero means DefaultMaxLoops.
	MaxLoops int
}

type Network struct {
	stocks   []Stock
	index    map[string]int
	mechs    []Mechanism
	mindex   map[string]int
	edges    []Edge
	incoming [][]int
	outgoing [][]int
	context  []string
	opts     Options

	components [][]int
	loops      []Loop
	truncated  bool
}

// New validates stocks and mechanisms and builds a network. Every problem
// found is reported; the returned error matches dynamo.ErrNetworkIntegrity.
func New(stocks []Stock, mechs []Mechanism, opts Options) (*Network, error) {
	n := &Network{
		stocks:   append([]Stock(nil), stocks...),
		index:    make(map[string]int, len(stocks)),
		mechs:    append([]Mechanism(nil), mechs...),
		mindex:   make(map[string]int, len(mechs)),
		incoming: make([][]int, len(stocks)),
		outgoing: make([][]int, len(stocks)),
		opts:     opts,
	}

	var errs []error
	for i, s := range n.stocks {
		if err := validateStock(s); err != nil {
			errs = append(errs, err)
		}
		if _, dup := n.index[s.ID]; dup {
			errs = append(errs, &IntegrityError{Code: "duplicate_stock", Stock: s.ID, Message: "stock declared twice"})
			continue
		}
		n.index[s.ID] = i
	}

	for i, m := range n.mechs {
		if err := n.validateMechanism(m); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := n.mindex[m.ID]; dup {
			errs = append(errs, &IntegrityError{Code: "duplicate_mechanism", Mechanism: m.ID, Message: "mechanism declared twice"})
			continue
		}
		n.mindex[m.ID] = i
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	n.resolve(opts.Context)
	n.analyze()
	return n, nil
}

func validateStock(s Stock) error {
	if s.ID == "" {
		return &IntegrityError{Code: "empty_id", Message: "stock without id"}
	}
	if err := s.Bounds.Validate(); err != nil {
		return &IntegrityError{Code: "invalid_bounds", Stock: s.ID, Message: err.Error()}
	}
	if !finite(s.Bounds.Min) || !finite(s.Bounds.Max) {
		return &IntegrityError{Code: "invalid_bounds", Stock: s.ID, Message: "bounds must be finite"}
	}
	switch s.Class {
	case Fixed, Free:
	default:
		return &IntegrityError{Code: "invalid_class", Stock: s.ID, Message: fmt.Sprintf("class %q is neither fixed nor free", s.Class)}
	}
	return nil
}

func (n *Network) validateMechanism(m Mechanism) error {
	if m.ID == "" {
		return &IntegrityError{Code: "empty_id", Message: fmt.Sprintf("mechanism %s->%s without id", m.Source, m.Target)}
	}
	if !m.Form.Valid() {
		return &IntegrityError{Code: "missing_form", Mechanism: m.ID, Message: "functional form missing or unknown"}
	}
	if _, ok := n.index[m.Source]; !ok {
		return &IntegrityError{Code: "dangling_edge", Mechanism: m.ID, Stock: m.Source, Message: "source stock not in network"}
	}
	if _, ok := n.index[m.Target]; !ok {
		return &IntegrityError{Code: "dangling_edge", Mechanism: m.ID, Stock: m.Target, Message: "target stock not in network"}
	}
	if m.Source == m.Target && !n.opts.AllowSelfLoops {
		return &IntegrityError{Code: "self_loop", Mechanism: m.ID, Stock: m.Source, Message: "self-loops are disabled"}
	}
	if !finite(m.Effect.Point) || m.Effect.StdErr < 0 || !finite(m.Effect.StdErr) {
		return &IntegrityError{Code: "invalid_effect", Mechanism: m.ID, Message: "effect size must be finite with non-negative std_err"}
	}
	if m.Effect.Upper < m.Effect.Lower {
		return &IntegrityError{Code: "invalid_effect", Mechanism: m.ID, Message: "confidence interval upper below lower"}
	}
	p := m.Params
	p.Alpha = m.Effect.Point
	if err := forms.Validate(m.Form, p); err != nil {
		return &IntegrityError{Code: "invalid_params", Mechanism: m.ID, Message: err.Error()}
	}
	for _, mod := range m.Moderators {
		if mod.Flag == "" || !finite(mod.Value) {
			return &IntegrityError{Code: "invalid_moderator", Mechanism: m.ID, Message: "moderator needs a flag and a finite value"}
		}
		switch mod.mode() {
		case Multiplicative, Additive:
		default:
			return &IntegrityError{Code: "invalid_moderator", Mechanism: m.ID, Message: fmt.Sprintf("unknown moderator mode %q", mod.Mode)}
		}
	}
	switch m.Direction {
	case "", Forward, Backward, Horizontal:
	default:
		return &IntegrityError{Code: "invalid_direction", Mechanism: m.ID, Message: fmt.Sprintf("unknown direction %q", m.Direction)}
	}
	return nil
}

func (n *Network) resolve(context []string) {
	active := make(map[string]bool, len(context))
	for _, flag := range context {
		active[flag] = true
	}
	n.context = append([]string(nil), context...)
	sort.Strings(n.context)

	n.edges = make([]Edge, len(n.mechs))
	n.incoming = make([][]int, len(n.stocks))
	n.outgoing = make([][]int, len(n.stocks))
	for i, m := range n.mechs {
		p := m.Params
		p.Alpha = m.EffectiveAlpha(active)
		e := Edge{
			Mechanism: i,
			Source:    n.index[m.Source],
			Target:    n.index[m.Target],
			Form:      m.Form,
			Params:    p,
		}
		n.edges[i] = e
		n.incoming[e.Target] = append(n.incoming[e.Target], i)
		n.outgoing[e.Source] = append(n.outgoing[e.Source], i)
	}
}

func (n *Network) clone() *Network {
	c := *n
	c.edges = append([]Edge(nil), n.edges...)
	return &c
}

// Resolve returns a copy with moderators applied for a different context.
func (n *Network) Resolve(context []string) *Network {
	c := n.clone()
	c.resolve(context)
	c.analyze()
	return c
}

// WithEffects returns a copy whose effect sizes are replaced by alphas,
// indexed by mechanism. Moderators are not re-applied.
func (n *Network) WithEffects(alphas []float64) (*Network, error) {
	if len(alphas) != len(n.edges) {
		return nil, fmt.Errorf("network: %d effect sizes for %d mechanisms", len(alphas), len(n.edges))
	}
	c := n.clone()
	for i := range c.edges {
		c.edges[i].Params.Alpha = alphas[i]
	}
	return c, nil
}

func (n *Network) Len() int { return len(n.stocks) }
func (n *Network) Stock(i int) Stock { return n.stocks[i] }
func (n *Network) Stocks() []Stock { return append([]Stock(nil), n.stocks...) }
func (n *Network) Mechanism(i int) Mechanism { return n.mechs[i] }
func (n *Network) Mechanisms() []Mechanism { return append([]Mechanism(nil), n.mechs...) }
func (n *Network) Edges() []Edge { return n.edges }
func (n *Network) Edge(i int) Edge { return n.edges[i] }
func (n *Network) Incoming(i int) []int { return n.incoming[i] }
func (n *Network) Outgoing(i int) []int { return n.outgoing[i] }
func (n *Network) Context() []string { return n.context }

func (n *Network) Index(id string) (int, bool) {
	i, ok := n.index[id]
	return i, ok
}

func (n *Network) MechanismIndex(id string) (int, bool) {
	i, ok := n.mindex[id]
	return i, ok
}

func (n *Network) IDs() []string {
	ids := make([]string, len(n.stocks))
	for i, s := range n.stocks {
		ids[i] = s.ID
	}
	return ids
}

func (n *Network) Units() []string {
	units := make([]string, len(n.stocks))
	for i, s := range n.stocks {
		units[i] = s.Unit
	}
	return units
}

func (n *Network) Bounds() []dynamo.Bounds {
	b := make([]dynamo.Bounds, len(n.stocks))
	for i, s := range n.stocks {
		b[i] = s.Bounds
	}
	return b
}

// Alphas returns the resolved effect size of every mechanism.
func (n *Network) Alphas() []float64 {
	out := make([]float64, len(n.edges))
	for i, e := range n.edges {
		out[i] = e.Params.Alpha
	}
	return out
}

func (n *Network) Free() []int { return n.byClass(Free) }
func (n *Network) Fixed() []int { return n.byClass(Fixed) }

func (n *Network) byClass(c Class) []int {
	var out []int
	for i, s := range n.stocks {
		if s.Class == c {
			out = append(out, i)
		}
	}
	return out
}

// EdgeFlow evaluates one mechanism against state s.
func (n *Network) EdgeFlow(i int, s dynamo.State) (float64, error) {
	e := n.edges[i]
	v, err := forms.Flow(e.Form, s[e.Source], s[e.Target], e.Params)
	if err != nil {
		return 0, fmt.Errorf("mechanism %s: %w", n.mechs[i].ID, err)
	}
	return v, nil
}

// Flows evaluates every mechanism against state s.
func (n *Network) Flows(s dynamo.State) ([]float64, error) {
	out := make([]float64, len(n.edges))
	for i := range n.edges {
		v, err := n.EdgeFlow(i, s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// NetFlow sums every mechanism's flow into its target stock.
func (n *Network) NetFlow(s dynamo.State) (dynamo.State, error) {
	net := make(dynamo.State, len(n.stocks))
	for i, e := range n.edges {
		v, err := n.EdgeFlow(i, s)
		if err != nil {
			return nil, err
		}
		net[e.Target] += v
	}
	return net, nil
}

// StockNetFlow is NetFlow restricted to one stock.
func (n *Network) StockNetFlow(stock int, s dynamo.State) (float64, error) {
	total := 0.0
	for _, ei := range n.incoming[stock] {
		v, err := n.EdgeFlow(ei, s)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// UnsaturatedInflows lists the mechanisms into stock whose form has no
// intrinsic ceiling.
func (n *Network) UnsaturatedInflows(stock int) []string {
	var ids []string
	for _, ei := range n.incoming[stock] {
		e := n.edges[ei]
		if !forms.Saturating(e.Form) && e.Params.Alpha > 0 {
			ids = append(ids, n.mechs[ei].ID)
		}
	}
	return ids
}

// WithLatency returns a copy whose mechanisms carry the given explicit
// per-year latency fractions, indexed by mechanism. A nil entry keeps the
// mechanism's declared latency.
func (n *Network) WithLatency(years [][]float64) (*Network, error) {
	if len(years) != len(n.mechs) {
		return nil, fmt.Errorf("network: %d latency profiles for %d mechanisms", len(years), len(n.mechs))
	}
	c := n.clone()
	c.mechs = append([]Mechanism(nil), n.mechs...)
	for i, y := range years {
		if y != nil {
			c.mechs[i].Latency.Years = append([]float64(nil), y...)
		}
	}
	return c, nil
}
