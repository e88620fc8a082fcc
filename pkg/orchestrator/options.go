package orchestrator

import (
	"github.com/gradingco/gradingd/pkg/config"
	"github.com/gradingco/gradingd/pkg/models"
)

// StartInput bundles the transport-agnostic inputs a caller submits to
// start a run (spec §6.1). How these bytes reach the process — multipart
// upload, object-storage fetch, gRPC stream — is a transport concern
// outside the graph.
type StartInput struct {
	Files              [][]byte
	Rubrics            [][]byte
	RubricText         string
	StudentBoundaries  []int
	ExpectedStudents   *int
	ExpectedTotalScore *float64
	GradingMode        string // "assist" | "strict"; "" defers to Defaults
	EnableReview       *bool  // nil defers to Defaults
	StudentMapping     []models.StudentMapping
}

// StartResult is the orchestrator's answer to a submitted run (spec §6.1).
type StartResult struct {
	RunID      string
	Status     string // "queued"
	TotalPages int
}

// ReviewDecision is the payload of a submit_review call (spec §6.3).
type ReviewDecision struct {
	Gate   models.ReviewGate
	Action string // e.g. "approve", "reject", "patch"

	// RubricPatch overwrites fields of the parsed rubric when non-nil.
	RubricPatch *models.ParsedRubric

	// StudentResultsPatch overwrites the student results set when non-nil.
	StudentResultsPatch []models.StudentResult
}

// resolveOptions merges a submitted run's overrides onto the configured
// system defaults, producing the concrete RunOptions persisted on
// GradingState (spec §3: config is immutable after intake).
func resolveOptions(input StartInput, defaults *config.Defaults) *models.RunOptions {
	opts := &models.RunOptions{
		EnableReview:             defaults.EnableReview,
		GradingMode:              string(defaults.GradingMode),
		MaxTokensPerBatch:        defaults.MaxTokensPerBatch,
		MaxParallelWorkers:       defaults.MaxParallelWorkers,
		MaxRetries:               defaults.MaxRetries,
		FallbackRubricConfidence: defaults.FallbackRubricConfidence,
		LLMCallTimeoutSeconds:    defaults.LLMCallTimeoutSeconds,
		NodeTimeoutSeconds:       defaults.NodeTimeoutSeconds,
		RunTimeoutSeconds:        defaults.RunTimeoutSeconds,
		EventBufferSize:          defaults.EventBufferSize,
		LLMProvider:              defaults.LLMProvider,
	}

	if input.GradingMode != "" {
		opts.GradingMode = input.GradingMode
	}
	if input.EnableReview != nil {
		opts.EnableReview = *input.EnableReview
	}
	opts.ExpectedStudents = input.ExpectedStudents
	opts.ExpectedTotalScore = input.ExpectedTotalScore
	opts.StudentBoundaries = input.StudentBoundaries
	opts.StudentMapping = input.StudentMapping

	return opts
}
