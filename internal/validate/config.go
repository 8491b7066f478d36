package validate

// Config selects and parameterizes the rules of a RuleSet.
type Config struct {
	ForbiddenReferences []string `koanf:"forbidden_references"`
	MaxOutputBytes      int      `koanf:"max_output_bytes"`
	DetectSecrets       bool     `koanf:"detect_secrets"`
	RejectEmpty         bool     `koanf:"reject_empty"`
}

// DefaultConfig returns the validation defaults.
func DefaultConfig() Config {
	return Config{
		MaxOutputBytes: 1 << 20,
		DetectSecrets:  true,
		RejectEmpty:    true,
	}
}

// FromConfig builds the RuleSet described by cfg. The dependency cycle rule
// is always present; it is inert for outputs that declare no edges.
func FromConfig(cfg Config) (*RuleSet, error) {
	var rules []Rule
	if cfg.RejectEmpty {
		rules = append(rules, EmptyOutputRule{})
	}
	if cfg.MaxOutputBytes > 0 {
		rules = append(rules, MaxBytesRule{Limit: cfg.MaxOutputBytes})
	}
	if len(cfg.ForbiddenReferences) > 0 {
		rules = append(rules, ForbiddenReferenceRule{Patterns: cfg.ForbiddenReferences})
	}
	if cfg.DetectSecrets {
		sr, err := NewSecretRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, sr)
	}
	rules = append(rules, DependencyCycleRule{})
	return NewRuleSet(rules...), nil
}
