package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/risk"
)

type evaluateOptions struct {
	tenant string
	farm   string
	pond   string
	sensor string
	values []string
	file   string
	score  bool
}

// evaluation is the JSON printed by the evaluate command.
type evaluation struct {
	TenantID  string            `json:"tenant_id"`
	Evaluated int               `json:"evaluated"`
	Matches   []evaluationMatch `json:"matches"`
}

type evaluationMatch struct {
	RuleID   uint              `json:"rule_id"`
	Name     string            `json:"name"`
	Severity string            `json:"severity"`
	Values   map[string]any    `json:"values"`
	Risk     *risk.ScoreResult `json:"risk,omitempty"`
}

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate readings against a tenant's rules without opening incidents",
		Example: `  aquasentinel evaluate --tenant acme --pond pond-3 --value dissolved_oxygen=2.4
  aquasentinel evaluate --tenant acme --file readings.json --score`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root.logLevel == "" {
				root.logLevel = "error"
			}
			settings, log, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			values, err := opts.readValues()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), settings, log)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := evaluate(cmd.Context(), a, opts, values)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.tenant, "tenant", "", "Tenant whose rules are evaluated")
	f.StringVar(&opts.farm, "farm", "", "Farm the readings come from")
	f.StringVar(&opts.pond, "pond", "", "Pond the readings come from")
	f.StringVar(&opts.sensor, "sensor", "", "Sensor that produced the readings")
	f.StringArrayVar(&opts.values, "value", nil, "Reading as parameter=value, repeatable")
	f.StringVar(&opts.file, "file", "", "JSON object of readings, merged under --value")
	f.BoolVar(&opts.score, "score", false, "Include a risk score for every match")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// readValues merges the readings file with the --value flags. Numeric flag
// values are parsed as floats, anything else is kept as a string.
func (o *evaluateOptions) readValues() (map[string]any, error) {
	values := make(map[string]any)
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return nil, errors.New(err).
				Component("main").
				Category(errors.CategoryValidation).
				Context("file", o.file).
				Build()
		}
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, errors.Newf("readings file %s must be a JSON object: %w", o.file, err).
				Component("main").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	for _, kv := range o.values {
		key, raw, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Newf("invalid --value %q, want parameter=value", kv).
				Component("main").
				Category(errors.CategoryValidation).
				Build()
		}
		if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			values[key] = n
		} else {
			values[key] = raw
		}
	}
	if len(values) == 0 {
		return nil, errors.Newf("no readings given, use --value or --file").
			Component("main").
			Category(errors.CategoryValidation).
			Build()
	}
	return values, nil
}

// evaluate runs the declared logic of every applicable rule. Cooldowns and
// history are left untouched.
func evaluate(ctx context.Context, a *app, o *evaluateOptions, values map[string]any) (*evaluation, error) {
	now := time.Now().UTC()
	fc := &alerting.FactContext{
		TenantID:  o.tenant,
		FarmID:    o.farm,
		PondID:    o.pond,
		SensorID:  o.sensor,
		Values:    values,
		Timestamp: now,
	}
	rules, err := a.engine.GetApplicableRules(ctx, &alerting.EvaluationRequest{Facts: fc})
	if err != nil {
		return nil, err
	}

	out := &evaluation{TenantID: o.tenant, Evaluated: len(rules), Matches: []evaluationMatch{}}
	for _, rule := range rules {
		m := alerting.EvaluateDeclared(rule, fc)
		if !m.Matched {
			continue
		}
		match := evaluationMatch{
			RuleID:   rule.ID,
			Name:     rule.Name,
			Severity: m.Severity.String(),
			Values:   alerting.ReportValues(m.Values),
		}
		if o.score && len(m.MatchedConditions) > 0 {
			lead := m.MatchedConditions[0]
			rc := risk.Context{
				TenantID:       o.tenant,
				RuleSeverity:   m.Severity,
				CurrentValue:   m.Values[lead.Parameter],
				ThresholdValue: lead.Threshold,
				Impact: risk.ImpactContext{
					TenantID:       o.tenant,
					AssetID:        firstNonEmpty(o.pond, o.farm, o.sensor),
					FarmID:         o.farm,
					PondID:         o.pond,
					SensorID:       o.sensor,
					Severity:       m.Severity,
					AffectedAssets: 1,
				},
				Now: now,
			}
			if count, last, err := a.engine.IncidentStats(ctx, rule.ID); err == nil {
				n := int(count)
				rc.PreviousIncidents = &n
				rc.LastIncidentAt = last
			}
			score := a.calculator.Calculate(rc)
			match.Risk = &score
		}
		out.Matches = append(out.Matches, match)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
