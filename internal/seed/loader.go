// Package seed loads tree test studies from YAML fixtures. Fixtures seed a
// fresh deployment and feed offline analysis in treectl.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/storage"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// Fixture is a fully resolved study: settings, compiled tree, tasks and
// any recorded participants with their attempts
type Fixture struct {
	Study        models.Study
	Notation     string
	Nodes        []models.TreeNode
	Tasks        []models.Task
	Participants []models.Participant
}

// Attempts returns every recorded attempt of the fixture
func (f *Fixture) Attempts() []models.TaskAttempt {
	var out []models.TaskAttempt
	for _, p := range f.Participants {
		out = append(out, p.Attempts...)
	}
	return out
}

// Index returns the arena of the fixture's tree
func (f *Fixture) Index() *tree.Index {
	return tree.NewIndex(f.Nodes)
}

// Loader reads study fixtures
type Loader struct {
	// now stamps fixtures that do not carry their own started_at
	now func() time.Time
}

// NewLoader creates a new fixture loader
func NewLoader() *Loader {
	return &Loader{now: time.Now}
}

// LoadFromDir loads every YAML fixture in dir. Broken files are logged and skipped.
func (l *Loader) LoadFromDir(dir string) ([]*Fixture, error) {
	slog.Info("loading study fixtures", "dir", dir)

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list fixtures: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var fixtures []*Fixture
	for _, file := range files {
		f, err := l.LoadFromFile(file)
		if err != nil {
			slog.Warn("failed to load fixture", "file", file, "error", err)
			continue
		}
		fixtures = append(fixtures, f)
	}

	slog.Info("study fixtures loaded", "count", len(fixtures), "total_files", len(files))
	return fixtures, nil
}

// LoadFromFile loads a single fixture
func (l *Loader) LoadFromFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	f, err := l.Parse(data)
	if err != nil {
		return nil, err
	}
	if f.Study.ID == "" {
		base := filepath.Base(path)
		f.Study.ID = strings.TrimSuffix(base, filepath.Ext(base))
		f.restamp()
	}
	return f, nil
}

// Parse builds a fixture from YAML. The tree must compile and every
// expected answer must be one of its leaves.
func (l *Loader) Parse(data []byte) (*Fixture, error) {
	var sf studyFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if strings.TrimSpace(sf.Name) == "" {
		return nil, apperr.Validation("study name is required")
	}

	now := l.now()
	f := &Fixture{
		Study: models.Study{
			ID:                sf.ID,
			Name:              sf.Name,
			RequireConfidence: sf.RequireConfidence,
			AllowRetries:      sf.AllowRetries,
			MaxTimeLimit:      sf.MaxTimeLimit,
			CreatedAt:         now,
		},
		Notation: sf.Tree,
	}

	if strings.TrimSpace(sf.Tree) != "" {
		nodes, err := tree.Compile(sf.Tree)
		if err != nil {
			return nil, fmt.Errorf("failed to compile tree: %w", err)
		}
		f.Nodes = nodes
	}
	index := tree.NewIndex(f.Nodes)

	taskByID := make(map[string]models.Task, len(sf.Tasks))
	for i, tf := range sf.Tasks {
		if tf.ID == "" {
			return nil, apperr.Validation("task %d: id is required", i+1)
		}
		if _, dup := taskByID[tf.ID]; dup {
			return nil, apperr.Validation("task %q is defined twice", tf.ID)
		}

		task := models.Task{
			ID:             tf.ID,
			Position:       i + 1,
			Description:    tf.Description,
			ExpectedAnswer: tf.ExpectedAnswer,
			MaxTimeSeconds: tf.MaxTimeSeconds,
			CreatedAt:      now,
		}
		if len(task.ExpectedPaths()) == 0 {
			return nil, apperr.Validation("task %q: expected answer is required", tf.ID)
		}
		for _, p := range task.ExpectedPaths() {
			if index.Empty() {
				break
			}
			if id, ok := index.ByPath(p); !ok || !index.IsLeaf(id) {
				return nil, apperr.Validation("task %q: expected answer %q is not a leaf", tf.ID, p)
			}
		}
		f.Tasks = append(f.Tasks, task)
		taskByID[tf.ID] = task
	}

	for i, pf := range sf.Participants {
		p, err := buildParticipant(pf, i, now, taskByID)
		if err != nil {
			return nil, err
		}
		f.Participants = append(f.Participants, p)
	}

	f.restamp()
	return f, nil
}

func buildParticipant(pf participantFile, i int, now time.Time, tasks map[string]models.Task) (models.Participant, error) {
	p := models.Participant{ID: pf.ID, StartedAt: now}
	if p.ID == "" {
		p.ID = fmt.Sprintf("participant-%d", i+1)
	}
	if pf.StartedAt != nil {
		p.StartedAt = *pf.StartedAt
	}

	at := p.StartedAt
	sequences := make(map[string]int)
	for j, af := range pf.Attempts {
		task, ok := tasks[af.Task]
		if !ok {
			return p, apperr.Validation("participant %q: unknown task %q", p.ID, af.Task)
		}
		if af.Confidence != nil && (*af.Confidence < 1 || *af.Confidence > 7) {
			return p, apperr.Validation("participant %q: confidence must be between 1 and 7", p.ID)
		}
		if !af.Skipped && af.Selected == "" {
			return p, apperr.Validation("participant %q: attempt %d needs a selected path or skipped", p.ID, j+1)
		}

		sequences[af.Task]++
		at = at.Add(time.Duration(af.Seconds * float64(time.Second)))

		a := models.TaskAttempt{
			ID:                    fmt.Sprintf("%s-%d", p.ID, j+1),
			TaskID:                task.ID,
			ParticipantID:         p.ID,
			Sequence:              sequences[af.Task],
			Skipped:               af.Skipped,
			PathTaken:             af.PathTaken,
			Clicks:                af.Clicks,
			CompletionTimeSeconds: af.Seconds,
			ConfidenceRating:      af.Confidence,
			CreatedAt:             at,
		}
		if !af.Skipped {
			a.SelectedPath = af.Selected
			a.Successful = task.IsCorrect(af.Selected)
		}
		switch {
		case af.Direct != nil:
			a.DirectPathTaken = *af.Direct
		case af.Skipped:
			a.DirectPathTaken = af.PathTaken == ""
		default:
			a.DirectPathTaken = af.PathTaken == "" || af.PathTaken == af.Selected
		}
		if a.PathTaken == "" && !af.Skipped {
			a.PathTaken = af.Selected
		}
		p.Attempts = append(p.Attempts, a)
	}

	if pf.Completed {
		done := at
		p.CompletedAt = &done
	}
	return p, nil
}

// restamp propagates the study id to every owned record
func (f *Fixture) restamp() {
	for i := range f.Tasks {
		f.Tasks[i].StudyID = f.Study.ID
	}
	for i := range f.Participants {
		f.Participants[i].StudyID = f.Study.ID
		for j := range f.Participants[i].Attempts {
			f.Participants[i].Attempts[j].StudyID = f.Study.ID
		}
	}
}

// Apply writes a fixture into the repository. Studies that already exist
// are left untouched so seeding is safe on every boot.
func Apply(ctx context.Context, repo storage.Repository, f *Fixture) error {
	if _, err := repo.GetStudy(ctx, f.Study.ID); err == nil {
		slog.Debug("study already seeded", "study_id", f.Study.ID)
		return nil
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return err
	}

	st := f.Study
	if err := repo.CreateStudy(ctx, &st); err != nil {
		return fmt.Errorf("failed to create study: %w", err)
	}
	if len(f.Nodes) > 0 {
		if err := repo.SaveCompiledTree(ctx, st.ID, f.Nodes, f.Notation); err != nil {
			return fmt.Errorf("failed to save tree: %w", err)
		}
	}
	for i := range f.Tasks {
		if err := repo.CreateTask(ctx, &f.Tasks[i]); err != nil {
			return fmt.Errorf("failed to create task %s: %w", f.Tasks[i].ID, err)
		}
	}

	attempts := 0
	for _, p := range f.Participants {
		rec := p
		if err := repo.CreateParticipant(ctx, &rec); err != nil {
			return fmt.Errorf("failed to create participant %s: %w", p.ID, err)
		}
		for i := range p.Attempts {
			a := p.Attempts[i]
			if err := repo.SaveOutcome(ctx, p.ID, a.TaskID, &a); err != nil {
				return fmt.Errorf("failed to save attempt %s: %w", a.ID, err)
			}
			attempts++
		}
		if p.CompletedAt != nil {
			if err := repo.CompleteParticipant(ctx, p.ID, *p.CompletedAt); err != nil {
				return fmt.Errorf("failed to complete participant %s: %w", p.ID, err)
			}
		}
	}

	slog.Info("study seeded",
		"study_id", st.ID,
		"tasks", len(f.Tasks),
		"participants", len(f.Participants),
		"attempts", attempts,
	)
	return nil
}

// ApplyDir loads every fixture in dir and applies it
func ApplyDir(ctx context.Context, repo storage.Repository, dir string) error {
	fixtures, err := NewLoader().LoadFromDir(dir)
	if err != nil {
		return err
	}
	for _, f := range fixtures {
		if err := Apply(ctx, repo, f); err != nil {
			return fmt.Errorf("failed to seed study %s: %w", f.Study.ID, err)
		}
	}
	return nil
}

// --- YAML file structs ---

type studyFile struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	RequireConfidence bool              `yaml:"require_confidence"`
	AllowRetries      bool              `yaml:"allow_retries"`
	MaxTimeLimit      int               `yaml:"max_time_limit"`
	Tree              string            `yaml:"tree"`
	Tasks             []taskFile        `yaml:"tasks"`
	Participants      []participantFile `yaml:"participants"`
}

type taskFile struct {
	ID             string `yaml:"id"`
	Description    string `yaml:"description"`
	ExpectedAnswer string `yaml:"expected_answer"`
	MaxTimeSeconds int    `yaml:"max_time_seconds"`
}

type participantFile struct {
	ID        string        `yaml:"id"`
	StartedAt *time.Time    `yaml:"started_at"`
	Completed bool          `yaml:"completed"`
	Attempts  []attemptFile `yaml:"attempts"`
}

type attemptFile struct {
	Task       string   `yaml:"task"`
	Selected   string   `yaml:"selected"`
	PathTaken  string   `yaml:"path_taken"`
	Skipped    bool     `yaml:"skipped"`
	Direct     *bool    `yaml:"direct"`
	Seconds    float64  `yaml:"seconds"`
	Confidence *int     `yaml:"confidence"`
	Clicks     []string `yaml:"clicks"`
}
