package network

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Bank is a versioned, read-only set of mechanism definitions together
// with the stocks they reference.
type Bank struct {
	Version    string      `yaml:"version" json:"version"`
	Stocks     []Stock     `yaml:"stocks" json:"stocks"`
	Mechanisms []Mechanism `yaml:"mechanisms" json:"mechanisms"`
}

func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBank(data)
}

func ParseBank(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse mechanism bank: %w", err)
	}
	if len(b.Stocks) == 0 {
		return nil, &IntegrityError{Code: "empty_bank", Message: "bank declares no stocks"}
	}
	return &b, nil
}

// Network builds and validates a network from the bank.
func (b *Bank) Network(opts Options) (*Network, error) {
	return New(b.Stocks, b.Mechanisms, opts)
}

func (b *Bank) Save(path string) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Known maps stock identifiers to observed values.
type Known map[string]float64

func LoadKnown(path string) (Known, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var k Known
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parse known stocks: %w", err)
	}
	return k, nil
}

// IDs returns the known stock identifiers in sorted order.
func (k Known) IDs() []string {
	ids := make([]string, 0, len(k))
	for id := range k {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Check verifies that every fixed stock has an observed value inside its
// bounds and that no value names a stock outside the network. Free stocks
// are solved for, so an observation of one is rejected.
func (k Known) Check(n *Network) error {
	var errs []error
	for _, id := range k.IDs() {
		i, ok := n.Index(id)
		if !ok {
			errs = append(errs, &IntegrityError{Code: "unknown_stock", Stock: id, Message: "observed value for a stock not in network"})
			continue
		}
		v := k[id]
		s := n.Stock(i)
		if s.Class == Free {
			errs = append(errs, &IntegrityError{
				Code:    "observed_free_stock",
				Stock:   id,
				Message: fmt.Sprintf("observed %g for a free stock; declare it fixed or drop the observation", v),
			})
			continue
		}
		if !finite(v) || !s.Bounds.Contains(v) {
			errs = append(errs, &IntegrityError{
				Code:    "out_of_range",
				Stock:   id,
				Message: fmt.Sprintf("observed %g outside [%g, %g]", v, s.Bounds.Min, s.Bounds.Max),
			})
		}
	}
	for _, i := range n.Fixed() {
		id := n.Stock(i).ID
		if _, ok := k[id]; !ok {
			errs = append(errs, &IntegrityError{Code: "missing_observation", Stock: id, Message: "fixed stock has no observed value"})
		}
	}
	return errors.Join(errs...)
}
