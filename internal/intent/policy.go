package intent

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the wording of the fallback classification predicates. The
// categories the classifier distinguishes are fixed; the phrases that trigger
// them are operator-tunable.
type Policy struct {
	// CasualOpeners mark a message as casual conversation when it starts
	// with one of them and carries no question.
	CasualOpeners []string `yaml:"casualOpeners"`

	// CasualMaxLength treats very short messages without a question mark
	// as casual regardless of content.
	CasualMaxLength int `yaml:"casualMaxLength"`

	// MinQuestionLength is the minimum text length for a '?' message to be
	// routed as a question rather than ignored.
	MinQuestionLength int `yaml:"minQuestionLength"`
}

// DefaultPolicy returns the built-in fallback predicates.
func DefaultPolicy() Policy {
	return Policy{
		CasualOpeners: []string{
			"hi", "hello", "hey", "yo", "thanks", "thank you",
			"good morning", "good evening", "good night", "lol", "haha",
		},
		CasualMaxLength:   12,
		MinQuestionLength: 8,
	}
}

// LoadPolicy reads a YAML policy file and overlays it on the defaults.
// A missing file is not an error: the defaults apply.
func LoadPolicy(path string, logger *slog.Logger) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("routing policy file does not exist, using defaults", "path", path)
			return policy, nil
		}
		return policy, fmt.Errorf("read routing policy: %w", err)
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return DefaultPolicy(), fmt.Errorf("parse routing policy %s: %w", path, err)
	}

	if policy.MinQuestionLength < 1 {
		policy.MinQuestionLength = DefaultPolicy().MinQuestionLength
	}
	if policy.CasualMaxLength < 1 {
		policy.CasualMaxLength = DefaultPolicy().CasualMaxLength
	}

	logger.Info("loaded routing policy", "path", path, "casualOpeners", len(policy.CasualOpeners))
	return policy, nil
}
