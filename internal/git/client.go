package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/logging"
)

// DefaultRemote is the remote pushed to when none is configured
const DefaultRemote = "origin"

// AuthConfig selects how pushes and clones authenticate
type AuthConfig struct {
	Type     string // "none", "token", "basic" or "ssh"
	Token    string
	Username string
	Password string
	KeyPath  string
}

// Options configure a Client
type Options struct {
	Remote      string
	AuthorName  string
	AuthorEmail string
	Auth        *AuthConfig
	Logger      *logging.Logger
	Now         func() time.Time
}

// Client performs the version-control side of a release on one working tree
type Client struct {
	path   string
	repo   *git.Repository
	remote string
	author object.Signature
	auth   transport.AuthMethod
	log    *logging.Logger
	now    func() time.Time
}

// Open wraps an existing checkout at path
func Open(path string, opts Options) (*Client, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	return newClient(path, repo, opts)
}

// Clone checks url out into dir and wraps the result. An empty branch clones
// the remote's default branch. All tags are fetched so LatestTag sees them.
func Clone(ctx context.Context, url, dir, branch string, opts Options) (*Client, error) {
	auth, err := getAuthentication(opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to setup authentication: %w", err)
	}

	cloneOptions := &git.CloneOptions{
		URL:        url,
		RemoteName: remoteName(opts.Remote),
		Auth:       auth,
		Tags:       git.AllTags,
	}
	if branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(branch)
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOptions)
	if err != nil {
		return nil, classifyTransportError("clone", url, err, failure.KindCloneFailed)
	}
	return newClient(dir, repo, opts)
}

func newClient(path string, repo *git.Repository, opts Options) (*Client, error) {
	auth, err := getAuthentication(opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to setup authentication: %w", err)
	}

	c := &Client{
		path:   path,
		repo:   repo,
		remote: remoteName(opts.Remote),
		author: object.Signature{Name: opts.AuthorName, Email: opts.AuthorEmail},
		auth:   auth,
		log:    opts.Logger,
		now:    opts.Now,
	}
	if c.author.Name == "" {
		c.author.Name = "github-actions[bot]"
	}
	if c.author.Email == "" {
		c.author.Email = "github-actions[bot]@users.noreply.github.com"
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Path returns the root of the working tree
func (c *Client) Path() string { return c.path }

// Repository exposes the underlying go-git repository
func (c *Client) Repository() *git.Repository { return c.repo }

// CurrentBranch returns the short name of the checked-out branch
func (c *Client) CurrentBranch() (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", head.Hash().String()[:8])
	}
	return head.Name().Short(), nil
}

func (c *Client) signature() *object.Signature {
	sig := c.author
	sig.When = c.now()
	return &sig
}

// getAuthentication creates authentication based on config
func getAuthentication(auth *AuthConfig) (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	switch auth.Type {
	case "none", "":
		return nil, nil

	case "ssh":
		keyPath := auth.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		publicKeys, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
		}
		return publicKeys, nil

	case "token":
		if auth.Token == "" {
			return nil, errors.New("token authentication requires a token")
		}
		return &http.BasicAuth{
			Username: "x-access-token",
			Password: auth.Token,
		}, nil

	case "basic":
		if auth.Username == "" || auth.Password == "" {
			return nil, errors.New("basic authentication requires username and password")
		}
		return &http.BasicAuth{
			Username: auth.Username,
			Password: auth.Password,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type: %s", auth.Type)
	}
}

func remoteName(name string) string {
	if name == "" {
		return DefaultRemote
	}
	return name
}
