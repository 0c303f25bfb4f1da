package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultTool is the check tool used when a job template names none.
const DefaultTool = "exec"

// Definition declares one pipeline: when it triggers, which job templates it
// expands, and whether it computes a release.
type Definition struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name,omitempty" yaml:"name,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	On          Triggers      `json:"on,omitempty" yaml:"on,omitempty"`
	Runtime     RuntimeConfig `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Jobs        []JobTemplate `json:"jobs" yaml:"jobs"`
	Release     ReleaseConfig `json:"release,omitempty" yaml:"release,omitempty"`

	// Source is the file the definition was loaded from, if any.
	Source string `json:"-" yaml:"-"`
}

// Triggers lists the events a pipeline reacts to. A nil filter means the
// pipeline ignores that event kind.
type Triggers struct {
	Push        *BranchFilter `json:"push,omitempty" yaml:"push,omitempty"`
	PullRequest *BranchFilter `json:"pull_request,omitempty" yaml:"pull_request,omitempty"`
	Schedule    []string      `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// BranchFilter selects branches by glob. An empty Branches list matches every
// branch; BranchesIgnore always wins.
type BranchFilter struct {
	Branches       []string `json:"branches,omitempty" yaml:"branches,omitempty"`
	BranchesIgnore []string `json:"branches_ignore,omitempty" yaml:"branches_ignore,omitempty"`
}

// RuntimeConfig configures execution constraints for a pipeline.
type RuntimeConfig struct {
	MaxParallel int      `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	JobTimeout  Duration `json:"job_timeout,omitempty" yaml:"job_timeout,omitempty"`
}

// ReleaseConfig turns on the version arbiter and release gate for a pipeline.
type ReleaseConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// APIDiffFrom names the api_check job whose classification feeds the gate.
	// When empty the classification must be supplied with the run request.
	APIDiffFrom string `json:"api_diff_from,omitempty" yaml:"api_diff_from,omitempty"`
}

// JobTemplate is a check plus the matrix it is expanded over.
type JobTemplate struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Tool        string            `json:"tool,omitempty" yaml:"tool,omitempty"`
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDir  string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Matrix      Axes              `json:"matrix,omitempty" yaml:"matrix,omitempty"`
	// Exclude drops product combinations whose values match every key given.
	Exclude []map[string]string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// Include appends combinations that the product does not produce. Each
	// entry must assign every axis.
	Include  []map[string]string `json:"include,omitempty" yaml:"include,omitempty"`
	Tolerant bool                `json:"tolerant,omitempty" yaml:"tolerant,omitempty"`
	Timeout  Duration            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	OnlyOn   []EventKind         `json:"only_on,omitempty" yaml:"only_on,omitempty"`
	// APICheck marks the job as the API-compatibility checker; its tool must
	// report a diff classification.
	APICheck bool `json:"api_check,omitempty" yaml:"api_check,omitempty"`
}

// Clone returns a deep copy of the template.
func (t JobTemplate) Clone() JobTemplate {
	clone := t
	clone.Command = cloneStringSlice(t.Command)
	clone.Env = cloneStringMap(t.Env)
	clone.Matrix = t.Matrix.Clone()
	clone.Exclude = cloneAssignments(t.Exclude)
	clone.Include = cloneAssignments(t.Include)
	if len(t.OnlyOn) > 0 {
		clone.OnlyOn = append([]EventKind(nil), t.OnlyOn...)
	}
	return clone
}

// RunsOn reports whether the template applies to the given event kind.
func (t JobTemplate) RunsOn(kind EventKind) bool {
	if len(t.OnlyOn) == 0 {
		return true
	}
	for _, k := range t.OnlyOn {
		if k == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	clone.On = def.On.clone()
	if len(def.Jobs) > 0 {
		clone.Jobs = make([]JobTemplate, len(def.Jobs))
		for i, job := range def.Jobs {
			clone.Jobs[i] = job.Clone()
		}
	}
	return clone
}

// Job looks up a template by name.
func (def Definition) Job(name string) (JobTemplate, bool) {
	for _, job := range def.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return JobTemplate{}, false
}

// JobNames returns the template names in declaration order.
func (def Definition) JobNames() []string {
	names := make([]string, len(def.Jobs))
	for i, job := range def.Jobs {
		names[i] = job.Name
	}
	return names
}

// Normalized clones the definition, applies defaults and validates the result.
// Every problem is reported as a *ConfigurationError.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.Name = strings.TrimSpace(clone.Name)
	if clone.Name == "" {
		clone.Name = clone.ID
	}
	clone.Runtime = clone.Runtime.normalized()
	clone.Release.APIDiffFrom = strings.TrimSpace(clone.Release.APIDiffFrom)
	for i := range clone.On.Schedule {
		clone.On.Schedule[i] = strings.Join(strings.Fields(clone.On.Schedule[i]), " ")
	}
	for i := range clone.Jobs {
		clone.Jobs[i] = clone.Jobs[i].normalized()
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if def.ID == "" {
		return Configf("", "id", "is required")
	}
	if len(def.Jobs) == 0 {
		return Configf(def.ID, "jobs", "at least one job is required")
	}
	if def.Runtime.MaxParallel < 0 {
		return Configf(def.ID, "runtime.max_parallel", "must be >= 0")
	}
	if def.Runtime.JobTimeout < 0 {
		return Configf(def.ID, "runtime.job_timeout", "must be >= 0")
	}
	seen := map[string]struct{}{}
	apiCheck := ""
	for idx, job := range def.Jobs {
		field := fmt.Sprintf("jobs[%d]", idx)
		if err := job.validate(def.ID, field); err != nil {
			return err
		}
		if _, dup := seen[job.Name]; dup {
			return Configf(def.ID, field+".name", "duplicate job name %s", job.Name)
		}
		seen[job.Name] = struct{}{}
		if job.APICheck {
			if apiCheck != "" {
				return Configf(def.ID, field+".api_check", "only one api_check job is allowed (%s already is)", apiCheck)
			}
			apiCheck = job.Name
		}
	}
	if from := def.Release.APIDiffFrom; from != "" {
		if !def.Release.Enabled {
			return Configf(def.ID, "release.api_diff_from", "set but release is not enabled")
		}
		job, ok := def.Job(from)
		if !ok {
			return Configf(def.ID, "release.api_diff_from", "references unknown job %s", from)
		}
		if !job.APICheck {
			return Configf(def.ID, "release.api_diff_from", "job %s is not marked api_check", from)
		}
	}
	for idx, filter := range []*BranchFilter{def.On.Push, def.On.PullRequest} {
		if filter == nil {
			continue
		}
		for _, pattern := range append(cloneStringSlice(filter.Branches), filter.BranchesIgnore...) {
			if strings.TrimSpace(pattern) == "" {
				return Configf(def.ID, []string{"on.push", "on.pull_request"}[idx], "empty branch pattern")
			}
		}
	}
	for idx, cron := range def.On.Schedule {
		if len(strings.Fields(cron)) != 5 {
			return Configf(def.ID, fmt.Sprintf("on.schedule[%d]", idx), "expected 5 cron fields in %q", cron)
		}
	}
	return nil
}

func (t JobTemplate) normalized() JobTemplate {
	t.Name = strings.TrimSpace(t.Name)
	t.Tool = strings.ToLower(strings.TrimSpace(t.Tool))
	if t.Tool == "" {
		t.Tool = DefaultTool
	}
	for i := range t.Matrix {
		t.Matrix[i].Name = strings.TrimSpace(t.Matrix[i].Name)
	}
	for i, kind := range t.OnlyOn {
		if parsed, err := ParseEventKind(string(kind)); err == nil {
			t.OnlyOn[i] = parsed
		}
	}
	return t
}

func (t JobTemplate) validate(pipelineID, field string) error {
	if t.Name == "" {
		return Configf(pipelineID, field+".name", "is required")
	}
	field = fmt.Sprintf("jobs[%s]", t.Name)
	if t.Timeout < 0 {
		return Configf(pipelineID, field+".timeout", "must be >= 0")
	}
	if err := ValidateAxes(pipelineID, field, t.Matrix); err != nil {
		return err
	}
	for i, entry := range t.Exclude {
		if len(entry) == 0 {
			return Configf(pipelineID, fmt.Sprintf("%s.exclude[%d]", field, i), "entry is empty")
		}
		for axis := range entry {
			if _, ok := t.Matrix.Lookup(axis); !ok {
				return Configf(pipelineID, fmt.Sprintf("%s.exclude[%d]", field, i), "unknown axis %s", axis)
			}
		}
	}
	for i, entry := range t.Include {
		if len(entry) != len(t.Matrix) {
			return Configf(pipelineID, fmt.Sprintf("%s.include[%d]", field, i), "must assign all %d axes", len(t.Matrix))
		}
		for axis := range entry {
			if _, ok := t.Matrix.Lookup(axis); !ok {
				return Configf(pipelineID, fmt.Sprintf("%s.include[%d]", field, i), "unknown axis %s", axis)
			}
		}
	}
	for _, kind := range t.OnlyOn {
		if _, err := ParseEventKind(string(kind)); err != nil {
			return Configf(pipelineID, field+".only_on", "unknown event kind %q", kind)
		}
	}
	return nil
}

// ValidateAxes rejects unnamed axes, duplicate names, empty value lists and
// duplicate values within one axis.
func ValidateAxes(pipelineID, field string, axes Axes) error {
	names := map[string]struct{}{}
	for i, axis := range axes {
		axisField := fmt.Sprintf("%s.matrix[%d]", field, i)
		if axis.Name == "" {
			return Configf(pipelineID, axisField, "axis name is required")
		}
		axisField = fmt.Sprintf("%s.matrix.%s", field, axis.Name)
		if _, dup := names[axis.Name]; dup {
			return Configf(pipelineID, axisField, "duplicate axis")
		}
		names[axis.Name] = struct{}{}
		if len(axis.Values) == 0 {
			return Configf(pipelineID, axisField, "axis has no values")
		}
		values := cloneStringSlice(axis.Values)
		sort.Strings(values)
		for j := 1; j < len(values); j++ {
			if values[j] == values[j-1] {
				return Configf(pipelineID, axisField, "duplicate value %s", values[j])
			}
		}
	}
	return nil
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.MaxParallel < 0 {
		cfg.MaxParallel = 0
	}
	return cfg
}

func (t Triggers) clone() Triggers {
	out := Triggers{Schedule: cloneStringSlice(t.Schedule)}
	if t.Push != nil {
		filter := t.Push.clone()
		out.Push = &filter
	}
	if t.PullRequest != nil {
		filter := t.PullRequest.clone()
		out.PullRequest = &filter
	}
	return out
}

func (f BranchFilter) clone() BranchFilter {
	return BranchFilter{
		Branches:       cloneStringSlice(f.Branches),
		BranchesIgnore: cloneStringSlice(f.BranchesIgnore),
	}
}

func cloneAssignments(values []map[string]string) []map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make([]map[string]string, len(values))
	for i, entry := range values {
		out[i] = cloneStringMap(entry)
	}
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
