// Package builtin provides the rules shipped with the correlator.
package builtin

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"correlator/internal/config"
	"correlator/internal/ctxstore"
	"correlator/internal/rules"
	"correlator/internal/topology"
)

// Rule names.
const (
	TopologyRule = "topology"
	PriorityRule = "priority"
	HLSRule      = "hls"
	SilenceRule  = "silence"
)

// ErrUnknownRule is returned for a configured rule name no builtin provides.
var ErrUnknownRule = errors.New("unknown rule")

// Deps are the services the builtin rules work with.
type Deps struct {
	Context *ctxstore.Store
	Lookup  *topology.Lookup
	Config  config.CorrelatorConfig
	Logger  *slog.Logger
}

// base carries the identity shared by every builtin rule.
type base struct {
	name string
	deps []string
}

func (b base) Name() string      { return b.name }
func (b base) Depends() []string { return b.deps }

// Build instantiates the configured rules. Dependencies declared in the
// configuration replace the builtin defaults.
func Build(ruleConfigs []config.RuleConfig, deps Deps) ([]rules.Rule, error) {
	built := make([]rules.Rule, 0, len(ruleConfigs))
	for _, rc := range ruleConfigs {
		r, err := newRule(rc, deps)
		if err != nil {
			return nil, err
		}
		built = append(built, r)
	}
	return built, nil
}

func newRule(rc config.RuleConfig, deps Deps) (rules.Rule, error) {
	b := base{name: rc.Name, deps: rc.DependsOn}
	logger := deps.Logger.With("rule", rc.Name)

	switch rc.Name {
	case TopologyRule:
		return &Topology{base: b, context: deps.Context, lookup: deps.Lookup, logger: logger}, nil
	case PriorityRule:
		priorities := make(map[string]int, len(deps.Config.Priorities))
		for state, p := range deps.Config.Priorities {
			priorities[strings.ToUpper(state)] = p
		}
		return &Priority{base: b, context: deps.Context, priorities: priorities}, nil
	case HLSRule:
		if b.deps == nil {
			b.deps = []string{TopologyRule}
		}
		return &HLS{base: b, context: deps.Context, topo: deps.Lookup.Topology()}, nil
	case SilenceRule:
		return newSilence(b, deps.Context, deps.Config.Silenced, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, rc.Name)
	}
}
