package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChecklistStatus is the review state of a single QC checklist item
type ChecklistStatus string

const (
	ChecklistPending  ChecklistStatus = "pending"
	ChecklistApproved ChecklistStatus = "approved"
	ChecklistRevision ChecklistStatus = "revision"
	ChecklistRevised  ChecklistStatus = "revised"
)

// Valid reports whether s is a known checklist status.
func (s ChecklistStatus) Valid() bool {
	switch s {
	case ChecklistPending, ChecklistApproved, ChecklistRevision, ChecklistRevised:
		return true
	}
	return false
}

// allowedChecklistTransitions. revised means fixed and awaiting re-check.
var allowedChecklistTransitions = map[ChecklistStatus][]ChecklistStatus{
	ChecklistPending:  {ChecklistApproved, ChecklistRevision},
	ChecklistRevision: {ChecklistRevised},
	ChecklistRevised:  {ChecklistApproved, ChecklistRevision},
	ChecklistApproved: {ChecklistRevision},
}

// ValidChecklistTransition checks if a checklist item may move from one status to another.
func ValidChecklistTransition(from, to ChecklistStatus) bool {
	for _, allowed := range allowedChecklistTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ChecklistTransitionsFrom returns the statuses reachable from s.
func ChecklistTransitionsFrom(s ChecklistStatus) []string {
	out := make([]string, 0, len(allowedChecklistTransitions[s]))
	for _, to := range allowedChecklistTransitions[s] {
		out = append(out, string(to))
	}
	return out
}

// ChecklistItem is a named deliverable inside a QualityControlWork
type ChecklistItem struct {
	Status    ChecklistStatus `json:"status"`
	Note      string          `json:"note,omitempty"`
	UpdatedBy string          `json:"updated_by,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SubWork is a discipline-specific unit of work tied to one episode
type SubWork struct {
	ID           string                   `json:"id"`
	EpisodeID    string                   `json:"episode_id"`
	Discipline   Discipline               `json:"discipline"`
	Status       SubWorkStatus            `json:"status"`
	AssignedTo   string                   `json:"assigned_to,omitempty"`
	Notes        string                   `json:"notes,omitempty"`
	CreatedBy    string                   `json:"created_by,omitempty"`
	Fields       map[string]string        `json:"fields,omitempty"`
	Predecessors map[Discipline]string    `json:"predecessors,omitempty"`
	Checklist    map[string]ChecklistItem `json:"checklist,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// NewSubWork creates a SubWork in the given initial status.
func NewSubWork(id, episodeID string, discipline Discipline, status SubWorkStatus) *SubWork {
	now := time.Now().UTC()
	return &SubWork{
		ID:           id,
		EpisodeID:    episodeID,
		Discipline:   discipline,
		Status:       status,
		Fields:       make(map[string]string),
		Predecessors: make(map[Discipline]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of the SubWork.
func (w *SubWork) Clone() *SubWork {
	if w == nil {
		return nil
	}
	c := *w
	c.Fields = make(map[string]string, len(w.Fields))
	for k, v := range w.Fields {
		c.Fields[k] = v
	}
	c.Predecessors = make(map[Discipline]string, len(w.Predecessors))
	for k, v := range w.Predecessors {
		c.Predecessors[k] = v
	}
	if w.Checklist != nil {
		c.Checklist = make(map[string]ChecklistItem, len(w.Checklist))
		for k, v := range w.Checklist {
			c.Checklist[k] = v
		}
	}
	return &c
}

// AppendNote appends note on its own line. Blank notes are ignored. It
// reports whether the notes changed.
func (w *SubWork) AppendNote(note string) bool {
	note = strings.TrimSpace(note)
	if note == "" {
		return false
	}
	if strings.TrimSpace(w.Notes) == "" {
		w.Notes = note
	} else {
		w.Notes = strings.TrimRight(w.Notes, "\n") + "\n" + note
	}
	w.UpdatedAt = time.Now().UTC()
	return true
}

// AppendNoteOnce appends note unless its text is already present. It is
// meant for generated notes such as QCRevisionNote.
func (w *SubWork) AppendNoteOnce(note string) bool {
	if strings.Contains(w.Notes, strings.TrimSpace(note)) {
		return false
	}
	return w.AppendNote(note)
}

// RevisionKeys returns the checklist keys currently marked for revision, sorted.
func (w *SubWork) RevisionKeys() []string {
	var keys []string
	for key, item := range w.Checklist {
		if item.Status == ChecklistRevision {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// QCRevisionNote formats the note attached to a sub-work that must fix a QC item.
func QCRevisionNote(itemKey, reviewerNote string) string {
	return strings.TrimSpace(fmt.Sprintf("[QC Revision: %s] %s", itemKey, strings.TrimSpace(reviewerNote)))
}
