package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/version"
)

var baseTime = time.Date(2024, 7, 25, 9, 0, 0, 0, time.UTC)

// helper to add a file and commit returning hash.
func addFileAndCommit(t *testing.T, repo *git.Repository, repoPath, filename, content, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repoPath, filename), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
	if _, err := wt.Add(filename); err != nil {
		t.Fatalf("add %s: %v", filename, err)
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{Author: &object.Signature{Name: "tester", Email: "t@example.com", When: baseTime}})
	if err != nil {
		t.Fatalf("commit %s: %v", msg, err)
	}
	return hash
}

type fixture struct {
	barePath  string
	seedPath  string
	seed      *git.Repository
	localPath string
}

// newFixture creates a bare origin seeded with one commit on master and a
// clone of it ready for the client under test.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()

	barePath := filepath.Join(tmp, "remote.git")
	if _, err := git.PlainInit(barePath, true); err != nil {
		t.Fatalf("init bare: %v", err)
	}

	seedPath := filepath.Join(tmp, "seed")
	seed, err := git.PlainInit(seedPath, false)
	if err != nil {
		t.Fatalf("init seed: %v", err)
	}
	if _, err := seed.CreateRemote(&ggitcfg.RemoteConfig{Name: "origin", URLs: []string{barePath}}); err != nil {
		t.Fatalf("create remote: %v", err)
	}
	addFileAndCommit(t, seed, seedPath, "pyproject.toml", "version = \"2.2.9\"\n", "initial")
	if err := seed.Push(&git.PushOptions{RemoteName: "origin"}); err != nil {
		t.Fatalf("push seed: %v", err)
	}

	localPath := filepath.Join(tmp, "work")
	if _, err := git.PlainClone(localPath, false, &git.CloneOptions{URL: barePath}); err != nil {
		t.Fatalf("clone: %v", err)
	}

	return &fixture{barePath: barePath, seedPath: seedPath, seed: seed, localPath: localPath}
}

// stepClock returns successive times one hour apart.
func stepClock() func() time.Time {
	next := baseTime
	return func() time.Time {
		next = next.Add(time.Hour)
		return next
	}
}

func openClient(t *testing.T, path string) *Client {
	t.Helper()
	c, err := Open(path, Options{Now: stepClock()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return c
}

func remoteRef(t *testing.T, barePath string, name plumbing.ReferenceName) *plumbing.Reference {
	t.Helper()
	bare, err := git.PlainOpen(barePath)
	if err != nil {
		t.Fatalf("open bare: %v", err)
	}
	ref, err := bare.Reference(name, true)
	if err != nil {
		return nil
	}
	return ref
}

func TestCommitIfChanged_CommitsAndPushes(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)

	if err := os.WriteFile(filepath.Join(f.localPath, "pyproject.toml"), []byte("version = \"2.3.0\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := c.CommitIfChanged(context.Background(), "Update version to 2.3.0", true)
	if err != nil {
		t.Fatalf("CommitIfChanged: %v", err)
	}
	if result.Outcome != Committed {
		t.Errorf("Outcome = %v, want %v", result.Outcome, Committed)
	}
	if !result.Pushed {
		t.Error("expected commit to be pushed")
	}
	if result.Branch != "master" {
		t.Errorf("Branch = %q, want master", result.Branch)
	}

	ref := remoteRef(t, f.barePath, plumbing.NewBranchReferenceName("master"))
	if ref == nil || ref.Hash().String() != result.Hash {
		t.Fatalf("remote master = %v, want %s", ref, result.Hash)
	}

	commit, err := c.Repository().CommitObject(plumbing.NewHash(result.Hash))
	if err != nil {
		t.Fatalf("commit object: %v", err)
	}
	if strings.TrimSpace(commit.Message) != "Update version to 2.3.0" {
		t.Errorf("message = %q", commit.Message)
	}
	if commit.Author.Name != "github-actions[bot]" {
		t.Errorf("author = %q, want default bot author", commit.Author.Name)
	}
}

func TestCommitIfChanged_Idempotent(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)

	if err := os.WriteFile(filepath.Join(f.localPath, "pyproject.toml"), []byte("version = \"2.3.0\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.CommitIfChanged(context.Background(), "bump", true); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	second, err := c.CommitIfChanged(context.Background(), "bump", true)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if second.Outcome != NoOp {
		t.Errorf("Outcome = %v, want %v", second.Outcome, NoOp)
	}
}

func TestCommitIfChanged_PushRejectedOnDivergence(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)

	// Another release lands on origin first.
	addFileAndCommit(t, f.seed, f.seedPath, "CHANGELOG.md", "other", "concurrent release")
	if err := f.seed.Push(&git.PushOptions{RemoteName: "origin"}); err != nil {
		t.Fatalf("push concurrent: %v", err)
	}
	remoteBefore := remoteRef(t, f.barePath, plumbing.NewBranchReferenceName("master"))

	if err := os.WriteFile(filepath.Join(f.localPath, "pyproject.toml"), []byte("version = \"2.3.0\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := c.CommitIfChanged(context.Background(), "bump", true)
	if !failure.Is(err, failure.KindPushRejected) {
		t.Fatalf("expected PushRejected, got %v", err)
	}
	if result == nil || result.Outcome != Committed || result.Pushed {
		t.Errorf("expected local commit left in place without push, got %+v", result)
	}

	remoteAfter := remoteRef(t, f.barePath, plumbing.NewBranchReferenceName("master"))
	if remoteAfter.Hash() != remoteBefore.Hash() {
		t.Error("remote branch moved despite rejection")
	}
}

func TestCommitIfChanged_LocalOnly(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)
	remoteBefore := remoteRef(t, f.barePath, plumbing.NewBranchReferenceName("master"))

	if err := os.WriteFile(filepath.Join(f.localPath, "new.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := c.CommitIfChanged(context.Background(), "local", false)
	if err != nil {
		t.Fatalf("CommitIfChanged: %v", err)
	}
	if result.Outcome != Committed || result.Pushed {
		t.Errorf("unexpected result %+v", result)
	}
	if remoteRef(t, f.barePath, plumbing.NewBranchReferenceName("master")).Hash() != remoteBefore.Hash() {
		t.Error("remote changed on a local-only commit")
	}
}

func TestCreateAndPushTag(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)
	v := version.MustParse("2.3.0")

	result, err := c.CreateAndPushTag(context.Background(), v, "master")
	if err != nil {
		t.Fatalf("CreateAndPushTag: %v", err)
	}
	if result.Name != "v2.3.0" || !result.Pushed {
		t.Errorf("unexpected result %+v", result)
	}

	ref := remoteRef(t, f.barePath, plumbing.NewTagReferenceName("v2.3.0"))
	if ref == nil {
		t.Fatal("tag was not pushed to origin")
	}

	tag, err := c.Repository().TagObject(ref.Hash())
	if err != nil {
		t.Fatalf("expected annotated tag: %v", err)
	}
	if strings.TrimSpace(tag.Message) != "Release v2.3.0" {
		t.Errorf("tag message = %q", tag.Message)
	}

	head, _ := c.Repository().Head()
	if tag.Target != head.Hash() {
		t.Errorf("tag target = %s, want %s", tag.Target, head.Hash())
	}
}

func TestCreateAndPushTag_AlreadyExists(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)
	v := version.MustParse("2.3.0")

	first, err := c.CreateAndPushTag(context.Background(), v, "")
	if err != nil {
		t.Fatalf("first tag: %v", err)
	}

	_, err = c.CreateAndPushTag(context.Background(), v, "")
	if !failure.Is(err, failure.KindTagAlreadyExists) {
		t.Fatalf("expected TagAlreadyExists, got %v", err)
	}

	tags, err := c.ListTags()
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 1 {
		t.Errorf("expected a single tag, got %d", len(tags))
	}

	ref, err := c.Repository().Tag("v2.3.0")
	if err != nil {
		t.Fatalf("lookup tag: %v", err)
	}
	tag, err := c.Repository().TagObject(ref.Hash())
	if err != nil {
		t.Fatalf("tag object: %v", err)
	}
	if tag.Target.String() != first.Target {
		t.Error("existing tag was moved")
	}
}

func TestLatestTag_CreationOrder(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)

	for _, v := range []string{"1.0.0", "1.2.0", "1.1.5"} {
		if _, err := c.CreateTag(version.MustParse(v), ""); err != nil {
			t.Fatalf("create %s: %v", v, err)
		}
	}

	got, err := c.LatestTag()
	if err != nil {
		t.Fatalf("LatestTag: %v", err)
	}
	if got != "1.1.5" {
		t.Errorf("LatestTag() = %q, want 1.1.5", got)
	}
}

func TestLatestTag_CreationOrderWithinOneSecond(t *testing.T) {
	f := newFixture(t)
	c, err := Open(f.localPath, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, v := range []string{"1.0.0", "1.2.0", "1.1.5"} {
		if _, err := c.CreateTag(version.MustParse(v), ""); err != nil {
			t.Fatalf("create %s: %v", v, err)
		}
	}

	tags, err := c.ListTags()
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	created := map[string]time.Time{}
	for _, tag := range tags {
		created[tag.Name] = tag.CreatedAt
	}
	if !created["v1.2.0"].After(created["v1.0.0"]) || !created["v1.1.5"].After(created["v1.2.0"]) {
		t.Errorf("tag times not strictly increasing: %v", created)
	}

	got, err := c.LatestTag()
	if err != nil {
		t.Fatalf("LatestTag: %v", err)
	}
	if got != "1.1.5" {
		t.Errorf("LatestTag() = %q, want 1.1.5", got)
	}
}

func TestLatestTag_TiedTimesPreferNearestHead(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)

	first, err := c.Repository().Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	// Both commits carry baseTime, so the lightweight tags tie on time.
	second := addFileAndCommit(t, c.Repository(), f.localPath, "CHANGELOG.md", "2.0.0\n", "second")

	if _, err := c.Repository().CreateTag("v9.0.0", first.Hash(), nil); err != nil {
		t.Fatalf("tag first: %v", err)
	}
	if _, err := c.Repository().CreateTag("v1.0.0", second, nil); err != nil {
		t.Fatalf("tag second: %v", err)
	}

	got, err := c.LatestTag()
	if err != nil {
		t.Fatalf("LatestTag: %v", err)
	}
	if got != "1.0.0" {
		t.Errorf("LatestTag() = %q, want 1.0.0 (tag on HEAD)", got)
	}
}

func TestLatestTag_LightweightUsesCommitTime(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)

	head, err := c.Repository().Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	// Lightweight tag on the seed commit (baseTime) is older than any
	// annotated tag created through the client clock.
	if _, err := c.Repository().CreateTag("v9.9.9", head.Hash(), nil); err != nil {
		t.Fatalf("lightweight tag: %v", err)
	}
	if _, err := c.CreateTag(version.MustParse("0.1.0"), ""); err != nil {
		t.Fatalf("annotated tag: %v", err)
	}

	got, err := c.LatestTag()
	if err != nil {
		t.Fatalf("LatestTag: %v", err)
	}
	if got != "0.1.0" {
		t.Errorf("LatestTag() = %q, want 0.1.0", got)
	}
}

func TestLatestTag_NoTags(t *testing.T) {
	f := newFixture(t)
	c := openClient(t, f.localPath)

	_, err := c.LatestTag()
	if !failure.Is(err, failure.KindNoTagsFound) {
		t.Fatalf("expected NoTagsFound, got %v", err)
	}
}

func TestClone(t *testing.T) {
	f := newFixture(t)
	seedClient := openClient(t, f.seedPath)
	if _, err := seedClient.CreateAndPushTag(context.Background(), version.MustParse("2.2.9"), ""); err != nil {
		t.Fatalf("seed tag: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "clone")
	c, err := Clone(context.Background(), f.barePath, dir, "master", Options{})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	branch, err := c.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "master" {
		t.Errorf("branch = %q, want master", branch)
	}

	latest, err := c.LatestTag()
	if err != nil {
		t.Fatalf("LatestTag: %v", err)
	}
	if latest != "2.2.9" {
		t.Errorf("LatestTag() = %q, want 2.2.9", latest)
	}
}

func TestClone_MissingRemote(t *testing.T) {
	_, err := Clone(context.Background(), filepath.Join(t.TempDir(), "missing.git"), filepath.Join(t.TempDir(), "c"), "", Options{})
	if err == nil {
		t.Fatal("expected clone of missing remote to fail")
	}
	if kind := failure.KindOf(err); kind == "" {
		t.Errorf("expected a classified failure, got %v", err)
	}
}

func TestGetAuthentication(t *testing.T) {
	tests := []struct {
		name    string
		auth    *AuthConfig
		wantNil bool
		wantErr bool
	}{
		{name: "nil config", auth: nil, wantNil: true},
		{name: "none", auth: &AuthConfig{Type: "none"}, wantNil: true},
		{name: "token", auth: &AuthConfig{Type: "token", Token: "ghp_x"}},
		{name: "token missing", auth: &AuthConfig{Type: "token"}, wantErr: true},
		{name: "basic", auth: &AuthConfig{Type: "basic", Username: "u", Password: "p"}},
		{name: "basic missing password", auth: &AuthConfig{Type: "basic", Username: "u"}, wantErr: true},
		{name: "ssh missing key", auth: &AuthConfig{Type: "ssh", KeyPath: "/nonexistent/key"}, wantErr: true},
		{name: "unknown", auth: &AuthConfig{Type: "kerberos"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := getAuthentication(tt.auth)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("auth = %v, wantNil %v", got, tt.wantNil)
			}
		})
	}
}
