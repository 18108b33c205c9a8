// Package rules serves routing rules to the engine and loads the offline
// rule catalogue.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/caseroute/backend/internal/models"
)

type Reader interface {
	ListRules(ctx context.Context, teamID string, status models.Status) ([]models.RoutingRule, error)
}

type Store struct{}

// ForTeam returns the team's active rules at status, tier ascending with the
// rule id as tiebreak. No rules is a valid answer.
func (Store) ForTeam(ctx context.Context, r Reader, teamID string, status models.Status) ([]models.RoutingRule, error) {
	all, err := r.ListRules(ctx, teamID, status)
	if err != nil {
		return nil, fmt.Errorf("list rules for team %s at %s: %w", teamID, status, err)
	}
	active := make([]models.RoutingRule, 0, len(all))
	for _, rule := range all {
		if rule.Active {
			active = append(active, rule)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Tier == active[j].Tier {
			return active[i].ID < active[j].ID
		}
		return active[i].Tier < active[j].Tier
	})
	return active, nil
}

// SortTeams puts teams in canonical evaluation order: name, then id.
func SortTeams(teams []models.Team) {
	sort.SliceStable(teams, func(i, j int) bool {
		if teams[i].Name == teams[j].Name {
			return teams[i].ID < teams[j].ID
		}
		return teams[i].Name < teams[j].Name
	})
}
