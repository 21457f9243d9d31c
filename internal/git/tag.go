package git

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/version"
)

const allTagsRefSpec = config.RefSpec("refs/tags/*:refs/tags/*")

// TagResult describes a created tag
type TagResult struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	Pushed bool   `json:"pushed"`
}

// CreateTag creates the annotated tag v<version> at targetRef without pushing.
// An empty targetRef means HEAD. An existing tag of the same name is never
// moved or replaced.
func (c *Client) CreateTag(v version.Version, targetRef string) (*TagResult, error) {
	name := v.TagName()

	if _, err := c.repo.Tag(name); err == nil {
		return nil, failure.Newf(failure.KindTagAlreadyExists, "tag %s already exists", name)
	} else if !errors.Is(err, git.ErrTagNotFound) {
		return nil, fmt.Errorf("failed to look up tag %s: %w", name, err)
	}

	if targetRef == "" {
		targetRef = "HEAD"
	}
	hash, err := c.repo.ResolveRevision(plumbing.Revision(targetRef))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", targetRef, err)
	}

	tagger, err := c.taggerAfterNewest()
	if err != nil {
		return nil, err
	}

	_, err = c.repo.CreateTag(name, *hash, &git.CreateTagOptions{
		Tagger:  tagger,
		Message: "Release " + name,
	})
	if err != nil {
		if errors.Is(err, git.ErrTagExists) {
			return nil, failure.Newf(failure.KindTagAlreadyExists, "tag %s already exists", name)
		}
		return nil, fmt.Errorf("failed to create tag %s: %w", name, err)
	}

	c.log.Info().Str("tag", name).Str("target", hash.String()[:8]).Msg("Created tag")
	return &TagResult{Name: name, Target: hash.String()}, nil
}

// taggerAfterNewest returns the tagger signature for a new tag. Tag times are
// stored to the second, so the time is pushed past the newest existing tag to
// keep creation order strictly increasing.
func (c *Client) taggerAfterNewest() (*object.Signature, error) {
	sig := c.signature()
	sig.When = sig.When.Truncate(time.Second)

	tags, err := c.ListTags()
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if !sig.When.After(t.CreatedAt) {
			sig.When = t.CreatedAt.Add(time.Second)
		}
	}
	return sig, nil
}

// PushTags pushes every local tag to the configured remote
func (c *Client) PushTags(ctx context.Context) error {
	err := c.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: c.remote,
		RefSpecs:   []config.RefSpec{allTagsRefSpec},
		Auth:       c.auth,
	})
	if err := classifyTransportError("push tags", c.remote, err, failure.KindPushFailed); err != nil {
		return err
	}
	c.log.Info().Str("remote", c.remote).Msg("Pushed tags")
	return nil
}

// CreateAndPushTag creates v<version> at targetRef and pushes all tags
func (c *Client) CreateAndPushTag(ctx context.Context, v version.Version, targetRef string) (*TagResult, error) {
	result, err := c.CreateTag(v, targetRef)
	if err != nil {
		return nil, err
	}
	if err := c.PushTags(ctx); err != nil {
		return result, err
	}
	result.Pushed = true
	return result, nil
}

// TagInfo is a tag with the time it was created
type TagInfo struct {
	Name      string
	CreatedAt time.Time
	Ref       plumbing.Hash // tag object for annotated tags, commit otherwise
	Commit    plumbing.Hash // zero when the tag does not point at a commit
}

// ListTags returns every tag under refs/tags with its creation time: the
// tagger date for annotated tags, the commit date for lightweight ones.
func (c *Client) ListTags() ([]TagInfo, error) {
	iter, err := c.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer iter.Close()

	var tags []TagInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		info, err := c.tagInfo(ref)
		if err != nil {
			return fmt.Errorf("tag %s: %w", ref.Name().Short(), err)
		}
		tags = append(tags, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

func (c *Client) tagInfo(ref *plumbing.Reference) (TagInfo, error) {
	info := TagInfo{Name: ref.Name().Short(), Ref: ref.Hash()}

	tag, err := c.repo.TagObject(ref.Hash())
	switch {
	case err == nil:
		info.CreatedAt = tag.Tagger.When
		if commit, err := tag.Commit(); err == nil {
			info.Commit = commit.Hash
		}
		return info, nil
	case !errors.Is(err, plumbing.ErrObjectNotFound):
		return info, err
	}

	commit, err := c.repo.CommitObject(ref.Hash())
	if err != nil {
		return info, err
	}
	info.CreatedAt = commit.Committer.When
	info.Commit = commit.Hash
	return info, nil
}

// headDistances maps every commit reachable from HEAD to its shortest
// distance in parent steps
func (c *Client) headDistances() (map[plumbing.Hash]int, error) {
	head, err := c.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	dist := map[plumbing.Hash]int{head.Hash(): 0}
	queue := []plumbing.Hash{head.Hash()}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		commit, err := c.repo.CommitObject(h)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", h.String()[:8], err)
		}
		for _, parent := range commit.ParentHashes {
			if _, seen := dist[parent]; !seen {
				dist[parent] = dist[h] + 1
				queue = append(queue, parent)
			}
		}
	}
	return dist, nil
}

// LatestTag returns the most recently created tag with a single leading "v"
// stripped. Ordering is by creation time, never by version or name. Tags
// created in the same second go to the one nearest HEAD, as git describe
// would pick; unreachable tags lose to reachable ones.
func (c *Client) LatestTag() (string, error) {
	tags, err := c.ListTags()
	if err != nil {
		return "", err
	}
	if len(tags) == 0 {
		return "", failure.Newf(failure.KindNoTagsFound, "repository %s has no tags", c.path)
	}

	var newest []TagInfo
	for _, t := range tags {
		switch {
		case len(newest) == 0 || t.CreatedAt.After(newest[0].CreatedAt):
			newest = []TagInfo{t}
		case t.CreatedAt.Equal(newest[0].CreatedAt):
			newest = append(newest, t)
		}
	}

	latest := newest[0]
	if len(newest) > 1 {
		latest, err = c.nearestToHead(newest)
		if err != nil {
			return "", err
		}
	}

	c.log.Debug().Str("tag", latest.Name).Time("created_at", latest.CreatedAt).Int("candidates", len(tags)).Msg("Resolved latest tag")
	return version.StripTagPrefix(latest.Name), nil
}

// nearestToHead picks the tag whose commit is fewest parent steps from HEAD.
// Equal distances fall back to the object hash so repeated calls agree.
func (c *Client) nearestToHead(tags []TagInfo) (TagInfo, error) {
	dist, err := c.headDistances()
	if err != nil {
		return TagInfo{}, err
	}
	distance := func(t TagInfo) int {
		if d, ok := dist[t.Commit]; ok {
			return d
		}
		return math.MaxInt
	}

	best := tags[0]
	for _, t := range tags[1:] {
		d, bd := distance(t), distance(best)
		if d < bd || (d == bd && t.Ref.String() < best.Ref.String()) {
			best = t
		}
	}
	c.log.Debug().Str("tag", best.Name).Int("tied", len(tags)).Msg("Broke creation time tie by distance from HEAD")
	return best, nil
}
