// Package catalog loads the static rule table: rule identifiers, severity
// tiers, and base punishment specs. The catalog is read once at startup and
// never mutated; a malformed catalog is a startup failure, not a runtime
// error.
package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

// EscalationMode controls how repeat offenses change the punishment.
type EscalationMode string

const (
	// ModeAdditive adds the increment once per prior offense.
	ModeAdditive EscalationMode = "additive"
	// ModeReplace switches to the continuation duration on any repeat
	// offense, e.g. "48 hour ban, continuing indefinite".
	ModeReplace EscalationMode = "replace"
)

// Tier is one severity classification within a rule.
type Tier struct {
	Name       string
	Kind       domain.SanctionKind
	Base       Span
	Increment  Span
	Escalation EscalationMode
}

// RuleEntry is the immutable catalog entry for one rule.
type RuleEntry struct {
	ID    string
	Title string
	Tiers []Tier
}

// Tier returns the tier with the given name, or false if absent.
func (r *RuleEntry) Tier(name string) (Tier, bool) {
	for _, t := range r.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// Catalog is the loaded rule table. Read-only after Load.
type Catalog struct {
	rules map[string]*RuleEntry
	order []string
}

// Lookup returns the entry for ruleID or domain.ErrUnknownRule.
func (c *Catalog) Lookup(ruleID string) (*RuleEntry, error) {
	entry, ok := c.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRule, ruleID)
	}
	return entry, nil
}

// Rules returns all entries in document order.
func (c *Catalog) Rules() []*RuleEntry {
	out := make([]*RuleEntry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.rules[id])
	}
	return out
}

// --- YAML document shape ---

type yamlDoc struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	ID    string     `yaml:"id"`
	Title string     `yaml:"title"`
	Tiers []yamlTier `yaml:"tiers"`
}

type yamlTier struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Base       string `yaml:"base"`
	Increment  string `yaml:"increment"`
	Escalation string `yaml:"escalation"`
}

// LoadFile reads and validates a catalog YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Load(data)
}

// Load parses and validates a catalog YAML document.
func Load(data []byte) (*Catalog, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("catalog defines no rules")
	}

	c := &Catalog{rules: make(map[string]*RuleEntry, len(doc.Rules))}
	for _, yr := range doc.Rules {
		entry, err := buildRule(yr)
		if err != nil {
			return nil, err
		}
		if _, dup := c.rules[entry.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", entry.ID)
		}
		c.rules[entry.ID] = entry
		c.order = append(c.order, entry.ID)
	}
	return c, nil
}

func buildRule(yr yamlRule) (*RuleEntry, error) {
	if yr.ID == "" {
		return nil, fmt.Errorf("rule with empty id")
	}
	if len(yr.Tiers) == 0 {
		return nil, fmt.Errorf("rule %q defines no tiers", yr.ID)
	}

	entry := &RuleEntry{ID: yr.ID, Title: yr.Title}
	seen := make(map[string]struct{}, len(yr.Tiers))
	for _, yt := range yr.Tiers {
		tier, err := buildTier(yr.ID, yt)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tier.Name]; dup {
			return nil, fmt.Errorf("rule %q: duplicate tier %q", yr.ID, tier.Name)
		}
		seen[tier.Name] = struct{}{}
		entry.Tiers = append(entry.Tiers, tier)
	}
	return entry, nil
}

func buildTier(ruleID string, yt yamlTier) (Tier, error) {
	if yt.Name == "" {
		return Tier{}, fmt.Errorf("rule %q: tier with empty name", ruleID)
	}

	kind := domain.SanctionKind(yt.Kind)
	if !kind.Valid() {
		return Tier{}, fmt.Errorf("rule %q tier %q: unknown sanction kind %q", ruleID, yt.Name, yt.Kind)
	}

	base, err := ParseSpan(yt.Base)
	if err != nil {
		return Tier{}, fmt.Errorf("rule %q tier %q: invalid base: %w", ruleID, yt.Name, err)
	}

	mode := ModeAdditive
	switch yt.Escalation {
	case "", string(ModeAdditive):
	case string(ModeReplace):
		mode = ModeReplace
	default:
		return Tier{}, fmt.Errorf("rule %q tier %q: unknown escalation mode %q", ruleID, yt.Name, yt.Escalation)
	}

	increment := Span{}
	if yt.Increment != "" {
		increment, err = ParseSpan(yt.Increment)
		if err != nil {
			return Tier{}, fmt.Errorf("rule %q tier %q: invalid increment: %w", ruleID, yt.Name, err)
		}
	}

	if base.Unbounded && yt.Increment != "" {
		return Tier{}, fmt.Errorf("rule %q tier %q: unbounded base cannot carry an increment", ruleID, yt.Name)
	}
	if increment.Unbounded && mode != ModeReplace {
		return Tier{}, fmt.Errorf("rule %q tier %q: unbounded increment requires replace escalation", ruleID, yt.Name)
	}

	return Tier{
		Name:       yt.Name,
		Kind:       kind,
		Base:       base,
		Increment:  increment,
		Escalation: mode,
	}, nil
}

// Span is a punishment duration: either a bounded time.Duration or an
// explicit unbounded marker (permanent / indefinite).
type Span struct {
	Duration  time.Duration
	Unbounded bool
}
