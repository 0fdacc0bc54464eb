package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"

	"courier.app/courier/internal/provider"
)

// listFilesCap bounds the tree listing fed back to the model. Large repos
// would otherwise blow the context window.
const listFilesCap = 500

// GitHubConfig configures the GitHub tool family.
type GitHubConfig struct {
	Token         string
	BaseURL       string // optional, for GitHub Enterprise
	DefaultOwner  string
	DefaultRepo   string
	DefaultBranch string
}

// GitHub exposes a small repository tool surface: branch creation, tree and
// file reads, file writes and pull requests.
type GitHub struct {
	client *github.Client
	cfg    GitHubConfig
}

func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, errors.New("github token is required")
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}

	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base URL: %w", err)
		}
		client.BaseURL = base
	}

	return &GitHub{client: client, cfg: cfg}, nil
}

type repoArgs struct {
	Owner  string `json:"owner,omitempty" jsonschema:"description=Repository owner; defaults to the configured repository"`
	Repo   string `json:"repo,omitempty" jsonschema:"description=Repository name; defaults to the configured repository"`
	Branch string `json:"branch,omitempty" jsonschema:"description=Branch to operate on; defaults to the configured branch"`
}

type createBranchArgs struct {
	repoArgs
	NewBranch  string `json:"new_branch" jsonschema:"required,description=Name of the branch to create"`
	FromBranch string `json:"from_branch,omitempty" jsonschema:"description=Source branch; defaults to the repository default branch"`
}

type readFileArgs struct {
	repoArgs
	Path string `json:"path" jsonschema:"required,description=File path within the repository"`
}

type writeFileArgs struct {
	repoArgs
	Path          string `json:"path" jsonschema:"required,description=File path within the repository"`
	Content       string `json:"content" jsonschema:"required,description=Full new file content"`
	CommitMessage string `json:"commit_message" jsonschema:"required,description=Commit message for the change"`
}

type pullRequestArgs struct {
	repoArgs
	Title      string `json:"title" jsonschema:"required,description=Pull request title"`
	Body       string `json:"body,omitempty" jsonschema:"description=Pull request description"`
	HeadBranch string `json:"head_branch" jsonschema:"required,description=Branch with the changes"`
	BaseBranch string `json:"base_branch,omitempty" jsonschema:"description=Target branch; defaults to main"`
}

// RegisterAll wires the full tool family into an executor.
func (g *GitHub) RegisterAll(e *Executor) {
	e.Register("get_default_branch", "Get the default branch of a repository.",
		provider.SchemaFrom(repoArgs{}), decode(g.getDefaultBranch))
	e.Register("create_branch", "Create a branch from an existing one. Succeeds if the branch already exists.",
		provider.SchemaFrom(createBranchArgs{}), decode(g.createBranch))
	e.Register("list_files", "List file paths in a repository tree.",
		provider.SchemaFrom(repoArgs{}), decode(g.listFiles))
	e.Register("read_file", "Read a file from a repository.",
		provider.SchemaFrom(readFileArgs{}), decode(g.readFile))
	e.Register("write_file", "Create or update a file on a branch with a commit.",
		provider.SchemaFrom(writeFileArgs{}), decode(g.writeFile))
	e.Register("create_pull_request", "Open a pull request.",
		provider.SchemaFrom(pullRequestArgs{}), decode(g.createPullRequest))
}

// decode adapts a typed tool method into a Handler.
func decode[T any](fn func(ctx context.Context, args T) (any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
}

// resolve fills owner/repo/branch defaults and sanitizes slugs the model may
// have pasted as chat-mangled URLs ("<https://github.com/a/b|b>").
func (g *GitHub) resolve(a repoArgs) (owner, repo, branch string) {
	owner = sanitizeSlug(a.Owner, true)
	if owner == "" {
		owner = g.cfg.DefaultOwner
	}
	repo = sanitizeSlug(a.Repo, false)
	if repo == "" {
		repo = g.cfg.DefaultRepo
	}
	branch = a.Branch
	if branch == "" {
		branch = g.cfg.DefaultBranch
	}
	return owner, repo, branch
}

func sanitizeSlug(value string, wantOwner bool) string {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.Trim(cleaned, "<>")
	cleaned = strings.TrimSpace(cleaned)
	cleaned, _, _ = strings.Cut(cleaned, "|")

	if _, tail, found := strings.Cut(cleaned, "github.com/"); found {
		tail, _, _ = strings.Cut(tail, "?")
		tail, _, _ = strings.Cut(tail, "#")
		tail = strings.Trim(tail, "/")
		parts := strings.FieldsFunc(tail, func(r rune) bool { return r == '/' })
		switch {
		case len(parts) == 0:
		case wantOwner || len(parts) == 1:
			cleaned = parts[0]
		default:
			cleaned = parts[1]
		}
	}

	return strings.TrimSuffix(cleaned, ".git")
}

func (g *GitHub) defaultBranch(ctx context.Context, owner, repo string) (string, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", classifyGitHub(err)
	}
	return r.GetDefaultBranch(), nil
}

func (g *GitHub) getDefaultBranch(ctx context.Context, args repoArgs) (any, error) {
	owner, repo, _ := g.resolve(args)
	branch, err := g.defaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	return map[string]string{"default_branch": branch}, nil
}

func (g *GitHub) createBranch(ctx context.Context, args createBranchArgs) (any, error) {
	owner, repo, _ := g.resolve(args.repoArgs)
	if args.NewBranch == "" {
		return nil, errors.New("new_branch is required")
	}

	source := args.FromBranch
	if source == "" {
		var err error
		if source, err = g.defaultBranch(ctx, owner, repo); err != nil {
			return nil, err
		}
	}

	ref, _, err := g.client.Git.GetRef(ctx, owner, repo, "heads/"+source)
	if err != nil {
		return nil, classifyGitHub(err)
	}

	_, _, err = g.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + args.NewBranch),
		Object: &github.GitObject{SHA: ref.Object.SHA},
	})
	// A previous run may have created the branch already; that is fine.
	if err != nil && !isAlreadyExists(err) {
		return nil, classifyGitHub(err)
	}

	return map[string]string{"branch": args.NewBranch, "from": source}, nil
}

func (g *GitHub) listFiles(ctx context.Context, args repoArgs) (any, error) {
	owner, repo, branch := g.resolve(args)

	tree, _, err := g.client.Git.GetTree(ctx, owner, repo, branch, true)
	if isNotFound(err) {
		fallback, dbErr := g.defaultBranch(ctx, owner, repo)
		if dbErr != nil {
			return nil, dbErr
		}
		if fallback == branch {
			return nil, classifyGitHub(err)
		}
		tree, _, err = g.client.Git.GetTree(ctx, owner, repo, fallback, true)
	}
	if err != nil {
		return nil, classifyGitHub(err)
	}

	files := make([]string, 0, len(tree.Entries))
	truncated := tree.GetTruncated()
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" || entry.GetPath() == "" {
			continue
		}
		if len(files) == listFilesCap {
			truncated = true
			break
		}
		files = append(files, entry.GetPath())
	}

	return map[string]any{"files": files, "truncated": truncated}, nil
}

func (g *GitHub) readFile(ctx context.Context, args readFileArgs) (any, error) {
	owner, repo, branch := g.resolve(args.repoArgs)
	if args.Path == "" {
		return nil, errors.New("path is required")
	}

	content, err := g.fileContent(ctx, owner, repo, args.Path, branch)
	if isNotFound(err) {
		fallback, dbErr := g.defaultBranch(ctx, owner, repo)
		if dbErr != nil {
			return nil, dbErr
		}
		content, err = g.fileContent(ctx, owner, repo, args.Path, fallback)
	}
	if err != nil {
		return nil, err
	}

	return map[string]string{"path": args.Path, "content": content}, nil
}

func (g *GitHub) fileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", classifyGitHub(err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return content, nil
}

func (g *GitHub) writeFile(ctx context.Context, args writeFileArgs) (any, error) {
	owner, repo, branch := g.resolve(args.repoArgs)
	if args.Path == "" || args.CommitMessage == "" {
		return nil, errors.New("path and commit_message are required")
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(args.CommitMessage),
		Content: []byte(args.Content),
		Branch:  github.Ptr(branch),
	}

	// Updating an existing file requires its current blob SHA.
	existing, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, args.Path,
		&github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
	case err != nil && !isNotFound(err):
		return nil, classifyGitHub(err)
	}

	resp, _, err := g.client.Repositories.CreateFile(ctx, owner, repo, args.Path, opts)
	if err != nil {
		return nil, classifyGitHub(err)
	}

	return map[string]string{"path": args.Path, "commit_sha": resp.GetSHA(), "branch": branch}, nil
}

func (g *GitHub) createPullRequest(ctx context.Context, args pullRequestArgs) (any, error) {
	owner, repo, _ := g.resolve(args.repoArgs)
	if args.Title == "" || args.HeadBranch == "" {
		return nil, errors.New("title and head_branch are required")
	}
	base := args.BaseBranch
	if base == "" {
		base = "main"
	}

	pr, _, err := g.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(args.Title),
		Body:  github.Ptr(args.Body),
		Head:  github.Ptr(args.HeadBranch),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return nil, classifyGitHub(err)
	}

	return map[string]any{"url": pr.GetHTMLURL(), "number": pr.GetNumber()}, nil
}

// classifyGitHub wraps transient API failures so the executor retries them.
func classifyGitHub(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &TransientError{Status: 429, Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &TransientError{Status: 429, Err: err}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		if status == 408 || status == 429 || status >= 500 {
			return &TransientError{Status: status, Err: err}
		}
		return err
	}

	// No HTTP response at all: connection-level failure, worth retrying.
	return &TransientError{Err: err}
}

func isNotFound(err error) bool {
	var respErr *github.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == 404
}

func isAlreadyExists(err error) bool {
	var respErr *github.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil &&
		respErr.Response.StatusCode == 422 &&
		strings.Contains(respErr.Message, "already exists")
}
