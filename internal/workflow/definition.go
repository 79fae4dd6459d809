// Package workflow holds the declarative episode workflow definition and the
// pure evaluation logic that derives step state from sub-work state.
package workflow

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"broadcast-ops/backend/pkg/models"
)

//go:embed definition.yaml
var defaultDefinition []byte

// DisciplineDef describes the lifecycle of one discipline.
type DisciplineDef struct {
	Name         models.Discipline                               `yaml:"-" json:"name"`
	Initial      models.SubWorkStatus                            `yaml:"initial" json:"initial"`
	UserCreated  bool                                            `yaml:"user_created" json:"user_created"`
	Statuses     []models.SubWorkStatus                          `yaml:"statuses" json:"statuses"`
	Transitions  map[models.SubWorkStatus][]models.SubWorkStatus `yaml:"transitions" json:"transitions"`
	Predecessors []models.Discipline                             `yaml:"predecessors" json:"predecessors,omitempty"`
	CopyFields   map[string]models.Discipline                    `yaml:"copy_fields" json:"copy_fields,omitempty"`

	revision models.SubWorkStatus
}

// StepDef describes one workflow step and its completion predicate.
type StepDef struct {
	Number    int                                          `yaml:"number" json:"number"`
	Key       string                                       `yaml:"key" json:"key"`
	Name      string                                       `yaml:"name" json:"name"`
	Requires  map[models.Discipline][]models.SubWorkStatus `yaml:"requires" json:"requires"`
	Provision []models.Discipline                          `yaml:"provision" json:"provision,omitempty"`

	required []models.Discipline
}

// Definition is the full workflow table. It is loaded once and read-only afterwards.
type Definition struct {
	RevisionStatus models.SubWorkStatus                 `yaml:"revision_status" json:"revision_status"`
	Disciplines    map[models.Discipline]*DisciplineDef `yaml:"disciplines" json:"disciplines"`
	Steps          []*StepDef                           `yaml:"steps" json:"steps"`
	Checklist      map[models.Discipline][]string       `yaml:"checklist" json:"checklist"`

	owners map[string]models.Discipline
}

// Default returns the embedded workflow definition.
func Default() (*Definition, error) {
	return Parse(defaultDefinition)
}

// MustDefault is Default for tests and static initialisation.
func MustDefault() *Definition {
	def, err := Default()
	if err != nil {
		panic(err)
	}
	return def
}

// Load reads a definition file. An empty path yields the embedded default.
func Load(path string) (*Definition, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	if err := def.init(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) init() error {
	if d.RevisionStatus == "" {
		d.RevisionStatus = models.StatusNeedsRevision
	}
	for name, disc := range d.Disciplines {
		if disc == nil {
			return fmt.Errorf("workflow definition: discipline %s is empty", name)
		}
		disc.Name = name
		disc.revision = d.RevisionStatus
	}
	for _, step := range d.Steps {
		if step == nil {
			continue
		}
		step.required = step.required[:0]
		for disc := range step.Requires {
			step.required = append(step.required, disc)
		}
		sortDisciplines(step.required)
	}
	d.owners = make(map[string]models.Discipline)
	for disc, keys := range d.Checklist {
		for _, key := range keys {
			if prev, dup := d.owners[key]; dup {
				return fmt.Errorf("workflow definition: checklist key %q owned by both %s and %s", key, prev, disc)
			}
			d.owners[key] = disc
		}
	}
	return d.Validate()
}

// Validate checks the table for internal consistency.
func (d *Definition) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for _, name := range models.Disciplines() {
		if _, ok := d.Disciplines[name]; !ok {
			add("discipline %s is not defined", name)
		}
	}
	for name, disc := range d.Disciplines {
		if !name.Valid() {
			add("unknown discipline %s", name)
			continue
		}
		statuses := make(map[models.SubWorkStatus]bool, len(disc.Statuses))
		for _, s := range disc.Statuses {
			statuses[s] = true
		}
		if !statuses[disc.Initial] {
			add("%s: initial status %q is not a declared status", name, disc.Initial)
		}
		if !statuses[d.RevisionStatus] {
			add("%s: revision status %q is not a declared status", name, d.RevisionStatus)
		}
		for from, tos := range disc.Transitions {
			if !statuses[from] {
				add("%s: transition source %q is not a declared status", name, from)
			}
			for _, to := range tos {
				if !statuses[to] {
					add("%s: transition target %q is not a declared status", name, to)
				}
			}
		}
		for _, pred := range disc.Predecessors {
			if _, ok := d.Disciplines[pred]; !ok {
				add("%s: unknown predecessor %s", name, pred)
			}
		}
		for field, src := range disc.CopyFields {
			if _, ok := d.Disciplines[src]; !ok {
				add("%s: field %s copied from unknown discipline %s", name, field, src)
			}
		}
	}

	// available tracks disciplines that can exist by the time a step is evaluated.
	available := make(map[models.Discipline]bool)
	for name, disc := range d.Disciplines {
		if disc.UserCreated {
			available[name] = true
		}
	}
	for i, step := range d.Steps {
		if step == nil {
			add("step %d is empty", i+1)
			continue
		}
		if step.Number != i+1 {
			add("step %q has number %d, expected %d", step.Key, step.Number, i+1)
		}
		if step.Key == "" {
			add("step %d has no key", step.Number)
		}
		if len(step.Requires) == 0 {
			add("step %d (%s) has no requirements", step.Number, step.Key)
		}
		for _, disc := range step.Provision {
			def, ok := d.Disciplines[disc]
			if !ok {
				add("step %d provisions unknown discipline %s", step.Number, disc)
				continue
			}
			if def.UserCreated {
				add("step %d provisions user-created discipline %s", step.Number, disc)
			}
			for _, pred := range def.Predecessors {
				if !available[pred] {
					add("step %d provisions %s before its predecessor %s exists", step.Number, disc, pred)
				}
			}
			available[disc] = true
		}
		for disc, accepted := range step.Requires {
			def, ok := d.Disciplines[disc]
			if !ok {
				add("step %d requires unknown discipline %s", step.Number, disc)
				continue
			}
			if !available[disc] {
				add("step %d requires %s which is never created by then", step.Number, disc)
			}
			if len(accepted) == 0 {
				add("step %d: %s has an empty terminal set", step.Number, disc)
			}
			for _, s := range accepted {
				if !def.HasStatus(s) {
					add("step %d: %s terminal status %q is not a declared status", step.Number, disc, s)
				}
			}
		}
	}

	for disc, keys := range d.Checklist {
		if _, ok := d.Disciplines[disc]; !ok {
			add("checklist owner %s is not a discipline", disc)
		}
		if disc == models.DisciplineQualityControl {
			add("checklist keys cannot be owned by %s", disc)
		}
		for _, key := range keys {
			if strings.TrimSpace(key) == "" {
				add("checklist owner %s has an empty key", disc)
			}
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid workflow definition: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Discipline returns the definition of a discipline.
func (d *Definition) Discipline(name models.Discipline) (*DisciplineDef, error) {
	disc, ok := d.Disciplines[name]
	if !ok {
		return nil, fmt.Errorf("%w: discipline %q", models.ErrNotFound, name)
	}
	return disc, nil
}

// Step returns the definition of step n (1-based).
func (d *Definition) Step(n int) (*StepDef, error) {
	if n < 1 || n > len(d.Steps) {
		return nil, fmt.Errorf("%w: step %d", models.ErrNotFound, n)
	}
	return d.Steps[n-1], nil
}

// Owner returns the discipline responsible for fixing a checklist item.
func (d *Definition) Owner(itemKey string) (models.Discipline, bool) {
	disc, ok := d.owners[itemKey]
	return disc, ok
}

// ChecklistKeys returns every classified checklist key, sorted.
func (d *Definition) ChecklistKeys() []string {
	keys := make([]string, 0, len(d.owners))
	for key := range d.owners {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// HasStatus reports whether s is a declared status of the discipline.
func (dd *DisciplineDef) HasStatus(s models.SubWorkStatus) bool {
	for _, known := range dd.Statuses {
		if known == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether the table allows from -> to. Any status may
// move to the revision status.
func (dd *DisciplineDef) CanTransition(from, to models.SubWorkStatus) bool {
	if !dd.HasStatus(to) {
		return false
	}
	if to == dd.revision && from != dd.revision {
		return true
	}
	for _, allowed := range dd.Transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionsFrom lists the legal targets from a status.
func (dd *DisciplineDef) TransitionsFrom(from models.SubWorkStatus) []string {
	var out []string
	for _, to := range dd.Transitions[from] {
		out = append(out, string(to))
	}
	if from != dd.revision {
		out = append(out, string(dd.revision))
	}
	return out
}

// ValidateTransition returns a *models.TransitionError when from -> to is not allowed.
func (dd *DisciplineDef) ValidateTransition(from, to models.SubWorkStatus) error {
	if dd.CanTransition(from, to) {
		return nil
	}
	return &models.TransitionError{
		Subject: fmt.Sprintf("%s sub-work", dd.Name),
		From:    string(from),
		To:      string(to),
		Allowed: dd.TransitionsFrom(from),
	}
}

// RequiredDisciplines returns the disciplines named by the predicate in pipeline order.
func (s *StepDef) RequiredDisciplines() []models.Discipline {
	return s.required
}

// Accepts reports whether status is in the terminal set of disc for this step.
func (s *StepDef) Accepts(disc models.Discipline, status models.SubWorkStatus) bool {
	for _, accepted := range s.Requires[disc] {
		if accepted == status {
			return true
		}
	}
	return false
}

func sortDisciplines(list []models.Discipline) {
	order := make(map[models.Discipline]int)
	for i, d := range models.Disciplines() {
		order[d] = i
	}
	sort.Slice(list, func(i, j int) bool { return order[list[i]] < order[list[j]] })
}
