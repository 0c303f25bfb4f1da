package gitlog

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/blang/semver/v4"

	"github.com/kingrea/tollgate/internal/release"
)

// initRepo creates a repository with one commit per message. Tags are applied
// after the commit at the matching index.
func initRepo(t *testing.T, messages []string, tags map[int]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		command := exec.Command("git", append([]string{"-C", dir, "-c", "commit.gpgsign=false", "-c", "tag.gpgsign=false"}, args...)...)
		command.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test",
			"GIT_AUTHOR_EMAIL=test@test.local",
			"GIT_COMMITTER_NAME=Test",
			"GIT_COMMITTER_EMAIL=test@test.local",
		)
		if output, err := command.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, output)
		}
	}
	git("init", "--quiet")
	for i, msg := range messages {
		git("commit", "--allow-empty", "--quiet", "-m", msg)
		if tag, ok := tags[i]; ok {
			git("tag", tag)
		}
	}
	return dir
}

func TestRepositoryCollect(t *testing.T) {
	dir := initRepo(t, []string{
		"initial",
		"release",
		"fix parser",
		"add flag (MINOR)",
		"bump deps (IGNORE)",
	}, map[int]string{0: "v1.0.0", 1: "v1.2.3", 2: "not-a-version"})

	hist, err := Collect(context.Background(), NewRepository(dir), "v", "HEAD")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if hist.Previous == nil || hist.Previous.String() != "1.2.3" || hist.Tag != "v1.2.3" {
		t.Fatalf("unexpected previous version %+v (tag %q)", hist.Previous, hist.Tag)
	}
	if len(hist.Commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(hist.Commits))
	}
	want := []string{"fix parser", "add flag (MINOR)", "bump deps (IGNORE)"}
	for i, commit := range hist.Commits {
		if commit.Message != want[i] {
			t.Fatalf("commit %d: expected %q, got %q", i, want[i], commit.Message)
		}
		if len(commit.SHA) < 40 || commit.Timestamp.IsZero() {
			t.Fatalf("commit %d missing metadata: %+v", i, commit)
		}
	}

	decision := release.NewArbiter(release.DefaultPolicy()).Decide(hist.Previous, hist.Commits)
	if decision.ComputedVersion.String() != "1.3.0" {
		t.Fatalf("expected 1.3.0, got %s", decision.ComputedVersion)
	}
}

func TestRepositoryCollectWithoutTags(t *testing.T) {
	dir := initRepo(t, []string{"initial (MAJOR)"}, nil)

	hist, err := Collect(context.Background(), NewRepository(dir), "v", "")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if hist.Previous != nil {
		t.Fatalf("expected no previous version, got %s", hist.Previous)
	}
	if len(hist.Commits) != 1 || hist.Commits[0].Message != "initial (MAJOR)" {
		t.Fatalf("unexpected commits %+v", hist.Commits)
	}
}

func TestRepositoryRunReportsStderr(t *testing.T) {
	dir := initRepo(t, []string{"initial"}, nil)
	_, err := NewRepository(dir).Run(context.Background(), "not-a-subcommand")
	if err == nil {
		t.Fatalf("expected error for invalid subcommand")
	}
}

func TestHighestTag(t *testing.T) {
	tag, ok := HighestTag([]string{"v1.9.0", "v1.10.0", "v2.0.0-rc.1", "release-3", "", "v0.4.0"}, "v")
	if !ok {
		t.Fatalf("expected a tag")
	}
	if tag.Name != "v1.10.0" {
		t.Fatalf("expected v1.10.0, got %s", tag.Name)
	}
	if _, ok := HighestTag([]string{"nightly"}, "v"); ok {
		t.Fatalf("expected no tag")
	}
}

func TestParseLog(t *testing.T) {
	out := "abc\x1f1700000000\x1ffirst line\n\nbody (MAJOR)\n\x1e\ndef\x1f1700000060\x1fsecond\n\x1e\n"
	commits, err := ParseLog(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].Message != "first line\n\nbody (MAJOR)" {
		t.Fatalf("unexpected message %q", commits[0].Message)
	}
	if !commits[1].Timestamp.Equal(time.Unix(1700000060, 0)) {
		t.Fatalf("unexpected timestamp %s", commits[1].Timestamp)
	}
	if _, err := ParseLog("garbage\x1e"); err == nil {
		t.Fatalf("expected malformed record error")
	}
}

type fakeSource struct {
	tag     Tag
	tagged  bool
	commits []release.CommitRecord
	err     error
	since   string
}

func (f *fakeSource) LatestTag(context.Context, string, string) (Tag, bool, error) {
	return f.tag, f.tagged, f.err
}

func (f *fakeSource) CommitsSince(_ context.Context, tag, _ string) ([]release.CommitRecord, error) {
	f.since = tag
	return f.commits, nil
}

func TestCollectUsesSource(t *testing.T) {
	src := &fakeSource{tag: Tag{Name: "v0.3.0", Version: semver.MustParse("0.3.0")}, tagged: true}
	hist, err := Collect(context.Background(), src, "v", "main")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if src.since != "v0.3.0" || hist.Previous.String() != "0.3.0" {
		t.Fatalf("unexpected history %+v (since %q)", hist, src.since)
	}

	failing := &fakeSource{err: errors.New("boom")}
	if _, err := Collect(context.Background(), failing, "v", "main"); err == nil {
		t.Fatalf("expected error from source")
	}
}

func TestRepositoryHead(t *testing.T) {
	dir := initRepo(t, []string{"initial"}, nil)
	ref, sha, err := NewRepository(dir).Head(context.Background())
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if len(sha) < 40 {
		t.Fatalf("expected full sha, got %q", sha)
	}
	if len(ref) <= len("refs/heads/") || ref[:len("refs/heads/")] != "refs/heads/" {
		t.Fatalf("expected a branch ref, got %q", ref)
	}
}
