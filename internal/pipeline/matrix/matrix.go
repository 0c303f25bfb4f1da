package matrix

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/tollgate/internal/pipeline"
)

// Binding assigns one value to one axis.
type Binding struct {
	Axis  string `json:"axis"`
	Value string `json:"value"`
}

// Assignment is an ordered set of bindings, one per axis, in axis order.
type Assignment []Binding

// Get returns the value bound to axis.
func (a Assignment) Get(axis string) (string, bool) {
	for _, b := range a {
		if b.Axis == axis {
			return b.Value, true
		}
	}
	return "", false
}

// Map returns the assignment as a map.
func (a Assignment) Map() map[string]string {
	out := make(map[string]string, len(a))
	for _, b := range a {
		out[b.Axis] = b.Value
	}
	return out
}

// Values returns the bound values in axis order.
func (a Assignment) Values() []string {
	out := make([]string, len(a))
	for i, b := range a {
		out[i] = b.Value
	}
	return out
}

// String renders "os=A, toolchain=X".
func (a Assignment) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = b.Axis + "=" + b.Value
	}
	return strings.Join(parts, ", ")
}

func (a Assignment) matches(partial map[string]string) bool {
	for axis, want := range partial {
		got, ok := a.Get(axis)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (a Assignment) clone() Assignment {
	if a == nil {
		return nil
	}
	return append(Assignment(nil), a...)
}

// Instance is one concrete, independently executable job.
type Instance struct {
	// ID is unique within a pipeline run: the template name followed by the
	// assigned values, e.g. "test (ubuntu-latest, stable)".
	ID         string               `json:"id"`
	Template   string               `json:"template"`
	Index      int                  `json:"index"`
	Assignment Assignment           `json:"assignment,omitempty"`
	Job        pipeline.JobTemplate `json:"-"`
}

// Tolerant reports the template's tolerance flag.
func (i Instance) Tolerant() bool {
	return i.Job.Tolerant
}

// InstanceID builds the display identifier for a template and assignment.
func InstanceID(template string, assignment Assignment) string {
	if len(assignment) == 0 {
		return template
	}
	return fmt.Sprintf("%s (%s)", template, strings.Join(assignment.Values(), ", "))
}

// Product returns the Cartesian product of axes, first axis slowest. Zero
// axes yield a single empty assignment. An axis without values is a
// ConfigurationError.
func Product(axes pipeline.Axes) ([]Assignment, error) {
	if err := pipeline.ValidateAxes("", "", axes); err != nil {
		return nil, err
	}
	total := 1
	for _, axis := range axes {
		total *= len(axis.Values)
	}
	out := make([]Assignment, 0, total)
	// odometer over value indexes; the last axis ticks fastest
	idx := make([]int, len(axes))
	for n := 0; n < total; n++ {
		assignment := make(Assignment, len(axes))
		for i, axis := range axes {
			assignment[i] = Binding{Axis: axis.Name, Value: axis.Values[idx[i]]}
		}
		out = append(out, assignment)
		for i := len(axes) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i].Values) {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// Expand turns a template into its instances: the product, minus excluded
// combinations, plus included ones not already present.
func Expand(t pipeline.JobTemplate) ([]Instance, error) {
	assignments, err := Product(t.Matrix)
	if err != nil {
		var cfgErr *pipeline.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Field = fmt.Sprintf("jobs[%s]%s", t.Name, prefixDot(cfgErr.Field))
		}
		return nil, err
	}
	kept := assignments[:0]
	for _, assignment := range assignments {
		if excluded(assignment, t.Exclude) {
			continue
		}
		kept = append(kept, assignment)
	}
	for _, extra := range t.Include {
		assignment, err := fromMap(t.Matrix, extra)
		if err != nil {
			return nil, pipeline.Configf("", fmt.Sprintf("jobs[%s].include", t.Name), "%v", err)
		}
		if contains(kept, assignment) {
			continue
		}
		kept = append(kept, assignment)
	}
	instances := make([]Instance, len(kept))
	for i, assignment := range kept {
		instances[i] = Instance{
			ID:         InstanceID(t.Name, assignment),
			Template:   t.Name,
			Index:      i,
			Assignment: assignment.clone(),
			Job:        t.Clone(),
		}
	}
	return instances, nil
}

// ExpandAll expands every template of a definition in declaration order.
// Two instances with the same ID, such as template "a (b)" next to template
// "a" over axis [b], are a ConfigurationError.
func ExpandAll(def pipeline.Definition) ([]Instance, error) {
	var out []Instance
	owners := map[string]string{}
	for _, job := range def.Jobs {
		instances, err := Expand(job)
		if err != nil {
			var cfgErr *pipeline.ConfigurationError
			if errors.As(err, &cfgErr) && cfgErr.Pipeline == "" {
				cfgErr.Pipeline = def.ID
			}
			return nil, err
		}
		for _, inst := range instances {
			if owner, dup := owners[inst.ID]; dup {
				return nil, pipeline.Configf(def.ID, fmt.Sprintf("jobs[%s]", job.Name), "instance %q collides with one from jobs[%s]", inst.ID, owner)
			}
			owners[inst.ID] = job.Name
		}
		out = append(out, instances...)
	}
	return out, nil
}

func excluded(assignment Assignment, rules []map[string]string) bool {
	for _, rule := range rules {
		if len(rule) > 0 && assignment.matches(rule) {
			return true
		}
	}
	return false
}

func fromMap(axes pipeline.Axes, values map[string]string) (Assignment, error) {
	if len(values) != len(axes) {
		return nil, fmt.Errorf("entry must assign all %d axes", len(axes))
	}
	out := make(Assignment, len(axes))
	for i, axis := range axes {
		v, ok := values[axis.Name]
		if !ok {
			return nil, fmt.Errorf("entry does not assign axis %s", axis.Name)
		}
		out[i] = Binding{Axis: axis.Name, Value: v}
	}
	return out, nil
}

func contains(list []Assignment, target Assignment) bool {
	for _, candidate := range list {
		if len(candidate) != len(target) {
			continue
		}
		same := true
		for i := range candidate {
			if candidate[i] != target[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func prefixDot(field string) string {
	if field == "" || strings.HasPrefix(field, ".") {
		return field
	}
	return "." + field
}
