// Package models defines the domain models for the episode production workflow
package models

import (
	"time"
)

// Discipline identifies the production discipline a SubWork belongs to
type Discipline string

const (
	DisciplineCreative       Discipline = "creative"
	DisciplineProduction     Discipline = "production"
	DisciplinePromotion      Discipline = "promotion"
	DisciplineEditor         Discipline = "editor"
	DisciplineEditorPromosi  Discipline = "editor_promosi"
	DisciplineDesignGrafis   Discipline = "design_grafis"
	DisciplineQualityControl Discipline = "quality_control"
)

// Disciplines lists every discipline in pipeline order.
func Disciplines() []Discipline {
	return []Discipline{
		DisciplineCreative,
		DisciplineProduction,
		DisciplinePromotion,
		DisciplineEditor,
		DisciplineEditorPromosi,
		DisciplineDesignGrafis,
		DisciplineQualityControl,
	}
}

// Valid reports whether d is a known discipline.
func (d Discipline) Valid() bool {
	for _, known := range Disciplines() {
		if d == known {
			return true
		}
	}
	return false
}

func (d Discipline) String() string { return string(d) }

// SubWorkStatus is a discipline-specific lifecycle status. The set of legal
// values and transitions is owned by the workflow definition.
type SubWorkStatus string

const (
	StatusDraft         SubWorkStatus = "draft"
	StatusPlanning      SubWorkStatus = "planning"
	StatusPending       SubWorkStatus = "pending"
	StatusInProgress    SubWorkStatus = "in_progress"
	StatusSubmitted     SubWorkStatus = "submitted"
	StatusPendingQC     SubWorkStatus = "pending_qc"
	StatusCompleted     SubWorkStatus = "completed"
	StatusRejected      SubWorkStatus = "rejected"
	StatusNeedsRevision SubWorkStatus = "needs_revision"
)

// EpisodeStatus is the derived overall status of an episode
type EpisodeStatus string

const (
	EpisodeStatusNotStarted EpisodeStatus = "not_started"
	EpisodeStatusInProgress EpisodeStatus = "in_progress"
	EpisodeStatusCompleted  EpisodeStatus = "completed"
)

// Episode is one scheduled unit of broadcast content
type Episode struct {
	ID            string        `json:"id"`
	ProgramID     string        `json:"program_id"`
	EpisodeNumber int           `json:"episode_number"`
	Title         string        `json:"title"`
	Status        EpisodeStatus `json:"status"`       // derived by the evaluator
	CurrentStep   int           `json:"current_step"` // first step that is not completed, 0 when all are
	CreatedBy     string        `json:"created_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewEpisode creates an Episode that has not entered the pipeline yet.
func NewEpisode(id, programID string, number int, title string) *Episode {
	now := time.Now().UTC()
	return &Episode{
		ID:            id,
		ProgramID:     programID,
		EpisodeNumber: number,
		Title:         title,
		Status:        EpisodeStatusNotStarted,
		CurrentStep:   1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Status   int      `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	Instance string   `json:"instance,omitempty"`
	Allowed  []string `json:"allowed,omitempty"`
	Unmet    []string `json:"unmet,omitempty"`
}
