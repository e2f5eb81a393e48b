package codeflow

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deepnoodle-ai/codeflow/retry"
	"gopkg.in/yaml.v3"
)

// RetrySettings configures the transient-retry wrapper around collaborator
// calls.
type RetrySettings struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// UnmarshalYAML accepts delays as duration strings like "500ms" or "10s",
// which yaml.v3 does not decode into time.Duration on its own.
func (r *RetrySettings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRetries int    `yaml:"max_retries"`
		BaseDelay  string `yaml:"base_delay"`
		MaxDelay   string `yaml:"max_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	r.MaxRetries = raw.MaxRetries
	if raw.BaseDelay != "" {
		d, err := time.ParseDuration(raw.BaseDelay)
		if err != nil {
			return fmt.Errorf("invalid base_delay: %w", err)
		}
		r.BaseDelay = d
	}
	if raw.MaxDelay != "" {
		d, err := time.ParseDuration(raw.MaxDelay)
		if err != nil {
			return fmt.Errorf("invalid max_delay: %w", err)
		}
		r.MaxDelay = d
	}
	return nil
}

// Policy converts the settings into a retry policy, filling zero fields with
// defaults.
func (r RetrySettings) Policy() retry.Policy {
	policy := retry.DefaultPolicy()
	if r.MaxRetries > 0 {
		policy.MaxRetries = r.MaxRetries
	}
	if r.BaseDelay > 0 {
		policy.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		policy.MaxDelay = r.MaxDelay
	}
	return policy
}

// Profile bundles the per-workspace execution settings: iteration budgets,
// retry behavior, and the optional auto-approval policy script.
type Profile struct {
	Name                    string        `yaml:"name"`
	Workspace               string        `yaml:"workspace"`
	MaxReviewIterations     int           `yaml:"max_review_iterations"`
	MaxTaskReviewIterations int           `yaml:"max_task_review_iterations"`
	Retry                   RetrySettings `yaml:"retry"`

	// AutoApprove is an optional script evaluated at the approval gate. When
	// empty, every workflow waits for a human decision.
	AutoApprove string `yaml:"auto_approve"`

	Model string `yaml:"model"`
}

// ProfileFileName is looked up in the workspace root by
// LoadWorkspaceProfile.
const ProfileFileName = ".codeflow.yaml"

// DefaultProfile returns a profile with standard iteration and retry
// budgets.
func DefaultProfile() *Profile {
	return &Profile{
		Name:                    "default",
		MaxReviewIterations:     3,
		MaxTaskReviewIterations: 3,
	}
}

// applyDefaults fills unset budget fields after unmarshaling.
func (p *Profile) applyDefaults() {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.MaxReviewIterations <= 0 {
		p.MaxReviewIterations = 3
	}
	if p.MaxTaskReviewIterations <= 0 {
		p.MaxTaskReviewIterations = 3
	}
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	profile.applyDefaults()
	return &profile, nil
}

// LoadWorkspaceProfile loads the profile stored in the workspace root, or
// the default profile when the workspace carries none.
func LoadWorkspaceProfile(workspace string) (*Profile, error) {
	path := filepath.Join(workspace, ProfileFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		profile := DefaultProfile()
		profile.Workspace = workspace
		return profile, nil
	}
	profile, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	if profile.Workspace == "" {
		profile.Workspace = workspace
	}
	return profile, nil
}
