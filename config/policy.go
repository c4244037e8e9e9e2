package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lokeshkhabiya/round0/internal/models"
)

// LoadRoundPolicy reads a YAML policy file. Fields missing from the file keep their defaults.
func LoadRoundPolicy(filename string) (*RoundPolicy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", filename, err)
	}

	policy := DefaultRoundPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &policy, nil
}

func (p *RoundPolicy) Validate() error {
	if p.EvaluationTimeout <= 0 {
		return fmt.Errorf("evaluation_timeout must be > 0")
	}
	if p.EvaluationMaxRetries < 0 {
		return fmt.Errorf("evaluation_max_retries cannot be negative")
	}
	if p.UploadMaxAttempts <= 0 {
		return fmt.Errorf("upload_max_attempts must be > 0")
	}
	if p.UploadWorkers <= 0 || p.UploadQueueSize <= 0 {
		return fmt.Errorf("upload_workers and upload_queue_size must be > 0")
	}
	if p.UploadGrace < 0 {
		return fmt.Errorf("upload_grace cannot be negative")
	}
	for rt, kinds := range p.RequiredArtifacts {
		if !rt.Valid() {
			return fmt.Errorf("required_artifacts: unknown round type %q", rt)
		}
		for _, k := range kinds {
			if k != string(models.ArtifactCode) && k != string(models.ArtifactDesign) {
				return fmt.Errorf("required_artifacts[%s]: unknown artifact %q", rt, k)
			}
		}
	}
	return nil
}

// Required returns the artifact kinds a round type must submit before it ends.
func (p *RoundPolicy) Required(rt models.RoundType) []string {
	return p.RequiredArtifacts[rt]
}
