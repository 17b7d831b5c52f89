package repository

import "github.com/aquasentinel/aquasentinel/internal/errors"

// Sentinel lookup errors returned by the repositories.
var (
	ErrAlertRuleNotFound  = errors.NewStd("alert rule not found")
	ErrPolicyNotFound     = errors.NewStd("escalation policy not found")
	ErrIncidentNotFound   = errors.NewStd("incident not found")
	ErrPreferenceNotFound = errors.NewStd("notification preference not found")
)
