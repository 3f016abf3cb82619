package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReviewerEntry configures one reviewer slot in the roster file.
type ReviewerEntry struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
}

// ReviewerRoster is the optional on-disk override for the default
// reviewer triple.
type ReviewerRoster struct {
	Reviewers []ReviewerEntry `yaml:"reviewers"`
}

// LoadReviewerRoster reads a reviewer roster YAML file. A missing path
// returns (nil, nil) so callers fall back to the built-in roster.
func LoadReviewerRoster(path string) (*ReviewerRoster, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reviewer roster: %w", err)
	}

	var roster ReviewerRoster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse reviewer roster: %w", err)
	}

	if len(roster.Reviewers) == 0 {
		return nil, fmt.Errorf("reviewer roster %s lists no reviewers", path)
	}

	for i, r := range roster.Reviewers {
		if r.Name == "" {
			return nil, fmt.Errorf("reviewer roster %s: entry %d has no name", path, i)
		}
	}

	return &roster, nil
}
