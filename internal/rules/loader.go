package rules

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/status"
)

// Catalogue is the rules.yaml structure.
type Catalogue struct {
	Teams  []models.Team  `yaml:"teams"`
	Queues []models.Queue `yaml:"queues"`
	Rules  []RuleSpec     `yaml:"rules"`
}

type RuleSpec struct {
	ID       string   `yaml:"id"`
	Team     string   `yaml:"team"`
	Status   string   `yaml:"status"`
	Tier     int      `yaml:"tier"`
	Queue    string   `yaml:"queue"`
	Reviewer string   `yaml:"reviewer,omitempty"`
	Active   *bool    `yaml:"active,omitempty"`
	Tags     []string `yaml:"tags"`
}

func (r RuleSpec) Rule() models.RoutingRule {
	rule := models.RoutingRule{
		ID:      r.ID,
		TeamID:  r.Team,
		Status:  models.Status(r.Status),
		Tier:    r.Tier,
		QueueID: r.Queue,
		Active:  r.Active == nil || *r.Active,
		Tags:    r.Tags,
	}
	if r.Reviewer != "" {
		reviewer := r.Reviewer
		rule.ReviewerID = &reviewer
	}
	return rule
}

func LoadFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalogue, error) {
	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalogue) Validate() error {
	teams := map[string]bool{}
	for _, t := range c.Teams {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("team with empty id")
		}
		teams[t.ID] = true
	}
	queues := map[string]bool{}
	for _, q := range c.Queues {
		if !teams[q.TeamID] {
			return fmt.Errorf("queue %s: unknown team %q", q.ID, q.TeamID)
		}
		queues[q.ID] = true
	}
	ids := map[string]bool{}
	for _, r := range c.Rules {
		switch {
		case r.ID == "":
			return fmt.Errorf("rule with empty id")
		case ids[r.ID]:
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		case !teams[r.Team]:
			return fmt.Errorf("rule %s: unknown team %q", r.ID, r.Team)
		case !queues[r.Queue]:
			return fmt.Errorf("rule %s: unknown queue %q", r.ID, r.Queue)
		case !status.Known(models.Status(r.Status)):
			return fmt.Errorf("rule %s: unknown status %q", r.ID, r.Status)
		case r.Tier < 1:
			return fmt.Errorf("rule %s: tier must be positive", r.ID)
		}
		ids[r.ID] = true
	}
	return nil
}

// Writer is the transaction slice Import needs.
type Writer interface {
	UpsertTeam(ctx context.Context, t models.Team) error
	UpsertQueue(ctx context.Context, q models.Queue) error
	UpsertRule(ctx context.Context, r models.RoutingRule) error
}

type ImportSummary struct {
	Teams  int `json:"teams"`
	Queues int `json:"queues"`
	Rules  int `json:"rules"`
}

func Import(ctx context.Context, w Writer, c *Catalogue) (ImportSummary, error) {
	var sum ImportSummary
	for _, t := range c.Teams {
		if err := w.UpsertTeam(ctx, t); err != nil {
			return sum, fmt.Errorf("upsert team %s: %w", t.ID, err)
		}
		sum.Teams++
	}
	for _, q := range c.Queues {
		if err := w.UpsertQueue(ctx, q); err != nil {
			return sum, fmt.Errorf("upsert queue %s: %w", q.ID, err)
		}
		sum.Queues++
	}
	for _, r := range c.Rules {
		if err := w.UpsertRule(ctx, r.Rule()); err != nil {
			return sum, fmt.Errorf("upsert rule %s: %w", r.ID, err)
		}
		sum.Rules++
	}
	return sum, nil
}
