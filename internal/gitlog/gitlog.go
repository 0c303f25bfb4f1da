// Package gitlog reads release history from a git repository through the git
// CLI. Every command targets the repository directory with "git -C", so the
// process working directory never matters.
package gitlog

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver/v4"

	"github.com/kingrea/tollgate/internal/release"
)

// CommitSource is what the release sequence needs from version control.
type CommitSource interface {
	// LatestTag returns the highest release tag reachable from ref. ok is
	// false when the repository has never been released.
	LatestTag(ctx context.Context, prefix, ref string) (tag Tag, ok bool, err error)
	// CommitsSince returns the commits after tag up to and including ref,
	// oldest first. An empty tag means the whole history of ref.
	CommitsSince(ctx context.Context, tag, ref string) ([]release.CommitRecord, error)
}

// Tag is a release tag and the version it names.
type Tag struct {
	Name    string
	Version semver.Version
}

// Repository is a git repository at a specific directory.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns stdout.
// Stderr is included in the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Head returns the symbolic ref of HEAD ("refs/heads/main") and its SHA. On
// a detached HEAD the ref is empty.
func (r *Repository) Head(ctx context.Context) (ref, sha string, err error) {
	out, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", "", err
	}
	sha = strings.TrimSpace(out)
	if out, err := r.Run(ctx, "symbolic-ref", "-q", "HEAD"); err == nil {
		ref = strings.TrimSpace(out)
	}
	return ref, sha, nil
}

// LatestTag implements CommitSource. Tags that do not parse as semantic
// versions after stripping prefix are ignored.
func (r *Repository) LatestTag(ctx context.Context, prefix, ref string) (Tag, bool, error) {
	if ref == "" {
		ref = "HEAD"
	}
	out, err := r.Run(ctx, "tag", "--list", prefix+"*", "--merged", ref)
	if err != nil {
		return Tag{}, false, err
	}
	tag, ok := HighestTag(strings.Split(out, "\n"), prefix)
	return tag, ok, nil
}

// HighestTag picks the greatest semantic version among names. Pre-release
// tags are skipped.
func HighestTag(names []string, prefix string) (Tag, bool) {
	var best Tag
	found := false
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || !strings.HasPrefix(name, prefix) {
			continue
		}
		v, err := release.ParseTag(name, prefix)
		if err != nil || len(v.Pre) > 0 {
			continue
		}
		if !found || v.GT(best.Version) {
			best = Tag{Name: name, Version: v}
			found = true
		}
	}
	return best, found
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// CommitsSince implements CommitSource.
func (r *Repository) CommitsSince(ctx context.Context, tag, ref string) ([]release.CommitRecord, error) {
	if ref == "" {
		ref = "HEAD"
	}
	rangeSpec := ref
	if tag != "" {
		rangeSpec = tag + ".." + ref
	}
	out, err := r.Run(ctx, "log", "--reverse", "--format=%H"+fieldSep+"%ct"+fieldSep+"%B"+recordSep, rangeSpec, "--")
	if err != nil {
		return nil, err
	}
	return ParseLog(out)
}

// ParseLog decodes the record format CommitsSince asks git for.
func ParseLog(out string) ([]release.CommitRecord, error) {
	var commits []release.CommitRecord
	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimLeft(record, "\n")
		if strings.TrimSpace(record) == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSep, 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("gitlog: malformed log record %q", record)
		}
		seconds, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("gitlog: commit %s: invalid timestamp %q", fields[0], fields[1])
		}
		commits = append(commits, release.CommitRecord{
			SHA:       strings.TrimSpace(fields[0]),
			Message:   strings.TrimSpace(fields[2]),
			Timestamp: time.Unix(seconds, 0).UTC(),
		})
	}
	return commits, nil
}

// History is the arbiter's input for one ref.
type History struct {
	// Previous is nil when no release tag exists.
	Previous *semver.Version
	Tag      string
	Commits  []release.CommitRecord
}

// Collect reads the latest tag and the commits since it.
func Collect(ctx context.Context, src CommitSource, prefix, ref string) (History, error) {
	if src == nil {
		return History{}, fmt.Errorf("gitlog: commit source is required")
	}
	tag, ok, err := src.LatestTag(ctx, prefix, ref)
	if err != nil {
		return History{}, fmt.Errorf("gitlog: latest tag: %w", err)
	}
	hist := History{}
	if ok {
		v := tag.Version
		hist.Previous = &v
		hist.Tag = tag.Name
	}
	commits, err := src.CommitsSince(ctx, hist.Tag, ref)
	if err != nil {
		return History{}, fmt.Errorf("gitlog: commits since %q: %w", hist.Tag, err)
	}
	hist.Commits = commits
	return hist, nil
}
