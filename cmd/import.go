package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"expertgate/internal/config"
	"expertgate/internal/logger"
	"expertgate/internal/models"
)

// seed is the content of an import file. Evaluation plans use the same field
// names as the API bodies.
type seed struct {
	Users       []models.User       `json:"users"`
	Groups      map[string][]string `json:"groups"`
	Evaluations []seedEvaluation    `json:"evaluations"`
}

type seedEvaluation struct {
	CreatedBy string                `json:"createdBy"`
	Plan      models.EvaluationPlan `json:"plan"`
	Results   []seedResult          `json:"results"`
	Decision  *seedDecision         `json:"decision,omitempty"`
}

type seedResult struct {
	TestedBy string `json:"testedBy,omitempty"`
	models.TestResultInput
}

type seedDecision struct {
	Status models.EvaluationStatus `json:"status"`
	By     string                  `json:"by"`
	Reason string                  `json:"reason,omitempty"`
}

type importSummary struct {
	Users       int
	Memberships int
	Evaluations []string
	Results     int
}

// parseSeed decodes YAML into the JSON-tagged model types by going through JSON.
func parseSeed(data []byte) (*seed, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize import file: %w", err)
	}

	var s seed
	if err := json.Unmarshal(encoded, &s); err != nil {
		return nil, fmt.Errorf("failed to decode import file: %w", err)
	}
	for _, u := range s.Users {
		if u.ID == "" || !u.Role.Valid() {
			return nil, fmt.Errorf("user %q needs an id and a role of user, expert, admin or superadmin", u.ID)
		}
	}
	return &s, nil
}

func applySeed(ctx context.Context, svc *services, s *seed, log *zerolog.Logger) (*importSummary, error) {
	summary := &importSummary{}

	for i := range s.Users {
		if err := svc.store.SaveUser(ctx, &s.Users[i]); err != nil {
			return summary, err
		}
		summary.Users++
	}
	for group, members := range s.Groups {
		for _, userID := range members {
			if err := svc.store.AddGroupMember(ctx, group, userID); err != nil {
				return summary, err
			}
			summary.Memberships++
		}
	}

	for _, se := range s.Evaluations {
		author, err := svc.store.GetUser(ctx, se.CreatedBy)
		if err != nil {
			return summary, fmt.Errorf("evaluation of %s: %w", se.Plan.AgentID, err)
		}

		e, err := svc.evaluations.CreateEvaluation(ctx, author.Actor(), se.Plan)
		if err != nil {
			return summary, fmt.Errorf("evaluation of %s: %w", se.Plan.AgentID, err)
		}
		summary.Evaluations = append(summary.Evaluations, e.ID)

		for _, r := range se.Results {
			tester := author
			if r.TestedBy != "" && r.TestedBy != author.ID {
				if tester, err = svc.store.GetUser(ctx, r.TestedBy); err != nil {
					return summary, fmt.Errorf("result of %s/%s: %w", e.ID, r.QuestionID, err)
				}
			}
			if _, err := svc.evaluations.RecordTestResult(ctx, tester.Actor(), e.ID, r.TestResultInput); err != nil {
				return summary, fmt.Errorf("result of %s/%s: %w", e.ID, r.QuestionID, err)
			}
			summary.Results++
		}

		if d := se.Decision; d != nil {
			reviewer, err := svc.store.GetUser(ctx, d.By)
			if err != nil {
				return summary, fmt.Errorf("decision on %s: %w", e.ID, err)
			}
			if _, err := svc.evaluations.UpdateEvaluationStatus(ctx, reviewer.Actor(), e.ID, d.Status, d.Reason); err != nil {
				return summary, fmt.Errorf("decision on %s: %w", e.ID, err)
			}
		}

		log.Info().Str("evaluation_id", e.ID).Int("results", len(se.Results)).Msg("Evaluation imported")
	}
	return summary, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	data, err := os.ReadFile(importFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", importFile, err)
	}
	s, err := parseSeed(data)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := newServices(store, nil, nil, nil, 1, &log)
	summary, err := applySeed(cmd.Context(), svc, s, &log)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d users, %d group memberships, %d evaluations, %d results\n",
		summary.Users, summary.Memberships, len(summary.Evaluations), summary.Results)
	for _, id := range summary.Evaluations {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
	}
	return nil
}
