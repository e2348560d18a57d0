package engine

import (
	"context"
	"time"

	"appforge/internal/clock"
)

// Step is one named stage of a generation run. Run must return promptly once ctx is done.
type Step struct {
	Label string
	Run   func(ctx context.Context) error
}

// StepLabels are shown to the user in order while a project generates.
var StepLabels = []string{
	"Analyzing your requirements...",
	"Designing the application architecture...",
	"Generating frontend components...",
	"Creating backend API endpoints...",
	"Setting up database schema...",
	"Configuring authentication...",
	"Optimizing and finalizing code...",
}

const DefaultStepDelay = 2 * time.Second

// DelaySteps holds each label for d.
func DelaySteps(d time.Duration) []Step {
	steps := make([]Step, len(StepLabels))
	for i, label := range StepLabels {
		steps[i] = Step{Label: label, Run: func(ctx context.Context) error { return clock.Sleep(ctx, d) }}
	}
	return steps
}
