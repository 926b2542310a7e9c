package main

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/types"
)

// Seed file shapes. These are the operator-facing yaml forms of the issue
// and claimant records.
type issueSeed struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title"`
	Priority     string   `yaml:"priority"`
	Labels       []string `yaml:"labels"`
	Repository   string   `yaml:"repository"`
	Capabilities []string `yaml:"capabilities"`
}

type claimantSeed struct {
	ID           string   `yaml:"id"`
	Kind         string   `yaml:"kind"`
	AgentType    string   `yaml:"agent_type"`
	MaxClaims    int      `yaml:"max_claims"`
	Capabilities []string `yaml:"capabilities"`
}

// seed loads the issue and claimant seed files into the coordinator's
// registries. Either path may be empty.
func seed(core *coord.Coordinator, issuesPath, claimantsPath string) error {
	if issuesPath != "" {
		var issues []issueSeed
		if err := readSeed(issuesPath, &issues); err != nil {
			return err
		}
		for _, is := range issues {
			err := core.Issues().Register(types.IssueRef{
				ID:           is.ID,
				Title:        is.Title,
				Priority:     types.Priority(is.Priority),
				Labels:       is.Labels,
				Repository:   is.Repository,
				Capabilities: is.Capabilities,
			})
			if err != nil {
				return fmt.Errorf("seed issue %s: %w", is.ID, err)
			}
		}
		log.Printf("seeded %d issues from %s", len(issues), issuesPath)
	}

	if claimantsPath != "" {
		var claimants []claimantSeed
		if err := readSeed(claimantsPath, &claimants); err != nil {
			return err
		}
		for _, cs := range claimants {
			kind := types.ClaimantKind(cs.Kind)
			if cs.Kind == "" {
				kind = types.KindAgent
			}
			err := core.Claimants().Register(types.Claimant{
				ID:                  cs.ID,
				Kind:                kind,
				AgentType:           cs.AgentType,
				MaxConcurrentClaims: cs.MaxClaims,
				Capabilities:        cs.Capabilities,
			})
			if err != nil {
				return fmt.Errorf("seed claimant %s: %w", cs.ID, err)
			}
		}
		log.Printf("seeded %d claimants from %s", len(claimants), claimantsPath)
	}
	return nil
}

func readSeed(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
