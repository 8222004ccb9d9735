package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/riskguard/internal/application"
	"github.com/turtacn/riskguard/internal/application/dto"
	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/internal/infrastructure/policy"
)

func newScoreCmd(opts *options) *cobra.Command {
	var (
		factors       []string
		operationType string
		policyFile    string
	)
	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Dry-run the scoring model on hand-picked factor values",
		Example: `  riskguard-admin score --factor ip_reputation_score=0.9 --factor impossible_travel=1
  riskguard-admin score -o json --operation wire_transfer --factor operation_velocity=0.4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := parseFactors(factors)
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if policyFile == "" {
				policyFile = cfg.Policy.File
			}
			rules := policy.Compile(nil)
			if policyFile != "" {
				if rules, err = policy.LoadFile(policyFile); err != nil {
					return err
				}
			}
			return opts.render(cmd.OutOrStdout(), dryRun(application.NewSettings(cfg), rules, operationType, values))
		},
	}
	scoreCmd.Flags().StringArrayVarP(&factors, "factor", "f", nil, "factor value as name=value, value in [0,1] (repeatable)")
	scoreCmd.Flags().StringVar(&operationType, "operation", "login", "operation type used to pick recommended actions")
	scoreCmd.Flags().StringVar(&policyFile, "policy", "", "policy file overriding policy.file")
	_ = scoreCmd.MarkFlagRequired("factor")
	return scoreCmd
}

func dryRun(settings *application.Settings, rules *policy.RuleSet, operationType string, values []models.FactorValue) *dto.ScoreReport {
	score, contributions := service.Aggregate(values, settings.Weights)
	level := service.Classify(score, settings.Thresholds, settings.Floors, values)
	return &dto.ScoreReport{
		Score:               score,
		Level:               level,
		RecommendedActions:  rules.Recommend(operationType, level),
		ContributingFactors: contributions,
	}
}

// parseFactors parses name=value pairs. Names must be known factors and values within [0,1].
func parseFactors(raw []string) ([]models.FactorValue, error) {
	seen := make(map[string]bool, len(raw))
	values := make([]models.FactorValue, 0, len(raw))
	for _, pair := range raw {
		name, val, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid factor %q, expected name=value", pair)
		}
		if !config.IsKnownFactor(name) {
			return nil, fmt.Errorf("unknown factor %q, known factors: %s", name, strings.Join(config.KnownFactors, ", "))
		}
		if seen[name] {
			return nil, fmt.Errorf("factor %q given twice", name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("factor %q: value must be a number in [0,1]", name)
		}
		seen[name] = true
		values = append(values, models.FactorValue{Name: name, Value: v})
	}
	return values, nil
}
