package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TierLimits holds the rate limits for one access tier. DailyCallLimit of 0
// means unlimited.
type TierLimits struct {
	DailyCallLimit    int64 `yaml:"daily_call_limit"`
	RequestsPerSecond int64 `yaml:"requests_per_second"`
}

// Pricing is the static pricing table: per-tool costs in millicents and
// per-tier rate limits. Loaded once at startup; treated as immutable after.
type Pricing struct {
	// ToolCostsMillicents maps tool ID to its per-call cost. 1000 = one cent.
	ToolCostsMillicents map[string]int64      `yaml:"tools"`
	Tiers               map[string]TierLimits `yaml:"tiers"`
}

// DefaultPricing returns the compiled-in pricing table, used when no pricing
// file is configured.
func DefaultPricing() *Pricing {
	return &Pricing{
		ToolCostsMillicents: map[string]int64{
			"slugify":    300,  // 0.3 cent
			"reverse":    300,  // 0.3 cent
			"hex-to-rgb": 500,  // 0.5 cent
			"rgb-to-hex": 500,  // 0.5 cent
			"thumbnail":  2000, // 2 cents
		},
		Tiers: map[string]TierLimits{
			"free": {DailyCallLimit: 100, RequestsPerSecond: 1},
			"paid": {DailyCallLimit: 0, RequestsPerSecond: 10},
		},
	}
}

// LoadPricing reads a pricing table from a YAML file, falling back to the
// compiled-in defaults when path is empty. Missing tiers are filled from the
// defaults so a partial file cannot leave a tier without limits.
func LoadPricing(path string) (*Pricing, error) {
	if path == "" {
		return DefaultPricing(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read pricing file: %w", err)
	}

	var p Pricing
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("config: parse pricing file: %w", err)
	}

	defaults := DefaultPricing()
	if p.ToolCostsMillicents == nil {
		p.ToolCostsMillicents = defaults.ToolCostsMillicents
	}
	if p.Tiers == nil {
		p.Tiers = map[string]TierLimits{}
	}
	for name, limits := range defaults.Tiers {
		if _, ok := p.Tiers[name]; !ok {
			p.Tiers[name] = limits
		}
	}

	for tool, cost := range p.ToolCostsMillicents {
		if cost < 0 {
			return nil, fmt.Errorf("config: tool %q has negative cost", tool)
		}
	}

	return &p, nil
}

// ToolCost returns the per-call cost for a tool and whether it is priced.
func (p *Pricing) ToolCost(toolID string) (int64, bool) {
	cost, ok := p.ToolCostsMillicents[toolID]
	return cost, ok
}

// TierLimitsFor returns the limits for a tier name, defaulting to the free
// tier for unknown names so an unrecognised tier can never be unlimited.
func (p *Pricing) TierLimitsFor(tier string) TierLimits {
	if limits, ok := p.Tiers[tier]; ok {
		return limits
	}
	return p.Tiers["free"]
}
