package corpus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Aman-CERP/fixrecall/internal/config"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/store"
)

const (
	githubTimeout      = 30 * time.Second
	defaultGitHubRate  = 1.2
	defaultMaxIssues   = 500
	githubPageSize     = 100
	wikiDefaultBranch  = "master"
	maxCommentsInIssue = 50
)

// GitHubClient wraps go-github with throttling shared by every call.
type GitHubClient struct {
	gh      *gh.Client
	limiter *rate.Limiter
}

// NewGitHubClient builds a client for cfg. The token is read from the
// environment variable cfg.TokenEnv; without one requests are anonymous.
func NewGitHubClient(ctx context.Context, cfg config.GitHubSourceConfig) *GitHubClient {
	httpClient := &http.Client{Timeout: githubTimeout}
	if cfg.TokenEnv != "" {
		if token := os.Getenv(cfg.TokenEnv); token != "" {
			httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
			httpClient.Timeout = githubTimeout
		}
	}

	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		if u, err := url.Parse(base); err == nil {
			client.BaseURL = u
		}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultGitHubRate
	}
	return &GitHubClient{gh: client, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (c *GitHubClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func sourceUnavailable(op string, err error) error {
	var rl *gh.RateLimitError
	if errors.As(err, &rl) {
		return fixerrors.New(fixerrors.ErrCodeSourceUnavailable,
			fmt.Sprintf("%s: GitHub rate limit exceeded until %s", op, rl.Rate.Reset.Format(time.RFC3339)), err)
	}
	return fixerrors.New(fixerrors.ErrCodeSourceUnavailable, op+" failed", err)
}

func isNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// IssueSource turns GitHub issues and their comments into ticket documents.
type IssueSource struct {
	client *GitHubClient
	cfg    config.GitHubSourceConfig
}

// NewIssueSource creates an issue tracker source.
func NewIssueSource(client *GitHubClient, cfg config.GitHubSourceConfig) *IssueSource {
	return &IssueSource{client: client, cfg: cfg}
}

// Name implements Source.
func (s *IssueSource) Name() string { return "issues:" + s.cfg.Name() }

// Load lists issues (pull requests excluded) newest first, up to MaxIssues.
func (s *IssueSource) Load(ctx context.Context) ([]Document, error) {
	state := s.cfg.State
	if state == "" {
		state = "all"
	}
	limit := s.cfg.MaxIssues
	if limit <= 0 {
		limit = defaultMaxIssues
	}

	opts := &gh.IssueListByRepoOptions{
		State:       state,
		Labels:      s.cfg.Labels,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: githubPageSize},
	}

	var docs []Document
	for len(docs) < limit {
		if err := s.client.wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := s.client.gh.Issues.ListByRepo(ctx, s.cfg.Owner, s.cfg.Repo, opts)
		if err != nil {
			return nil, sourceUnavailable("list issues "+s.cfg.Name(), err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			comments, err := s.comments(ctx, issue.GetNumber(), issue.GetComments())
			if err != nil {
				return nil, err
			}
			docs = append(docs, s.issueDocument(issue, comments))
			if len(docs) >= limit {
				break
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}
	return docs, nil
}

func (s *IssueSource) comments(ctx context.Context, number, count int) ([]*gh.IssueComment, error) {
	if count == 0 {
		return nil, nil
	}
	if err := s.client.wait(ctx); err != nil {
		return nil, err
	}
	comments, _, err := s.client.gh.Issues.ListComments(ctx, s.cfg.Owner, s.cfg.Repo, number,
		&gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: maxCommentsInIssue}})
	if err != nil {
		return nil, sourceUnavailable(fmt.Sprintf("list comments %s#%d", s.cfg.Name(), number), err)
	}
	return comments, nil
}

func (s *IssueSource) issueDocument(issue *gh.Issue, comments []*gh.IssueComment) Document {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue #%d: %s\n", issue.GetNumber(), issue.GetTitle())
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	if len(labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(labels, ", "))
	}
	fmt.Fprintf(&b, "State: %s\n\n", issue.GetState())
	b.WriteString(issue.GetBody())
	for _, c := range comments {
		fmt.Fprintf(&b, "\n\nComment by %s:\n%s", c.GetUser().GetLogin(), c.GetBody())
	}

	return Document{
		Source:  fmt.Sprintf("github:%s#%d", s.cfg.Name(), issue.GetNumber()),
		Kind:    store.KindTicket,
		Content: b.String(),
		Metadata: map[string]string{
			"url":    issue.GetHTMLURL(),
			"title":  issue.GetTitle(),
			"state":  issue.GetState(),
			"labels": strings.Join(labels, ","),
		},
	}
}

// WikiSource reads markdown pages from a repository wiki. The wiki is a
// separate git repository named <repo>.wiki, read through the git data API.
type WikiSource struct {
	client *GitHubClient
	cfg    config.GitHubSourceConfig
}

// NewWikiSource creates a wiki source.
func NewWikiSource(client *GitHubClient, cfg config.GitHubSourceConfig) *WikiSource {
	return &WikiSource{client: client, cfg: cfg}
}

// Name implements Source.
func (s *WikiSource) Name() string { return "wiki:" + s.cfg.Name() }

// Load fetches every markdown page. A repository without a wiki yields nothing.
func (s *WikiSource) Load(ctx context.Context) ([]Document, error) {
	wikiRepo := s.cfg.Repo + ".wiki"

	if err := s.client.wait(ctx); err != nil {
		return nil, err
	}
	tree, _, err := s.client.gh.Git.GetTree(ctx, s.cfg.Owner, wikiRepo, wikiDefaultBranch, true)
	if err != nil {
		if isNotFound(err) {
			return []Document{}, nil
		}
		return nil, sourceUnavailable("get wiki tree "+s.cfg.Name(), err)
	}

	var docs []Document
	for _, entry := range tree.Entries {
		path := entry.GetPath()
		if entry.GetType() != "blob" || !strings.HasSuffix(strings.ToLower(path), ".md") {
			continue
		}
		if err := s.client.wait(ctx); err != nil {
			return nil, err
		}
		blob, _, err := s.client.gh.Git.GetBlob(ctx, s.cfg.Owner, wikiRepo, entry.GetSHA())
		if err != nil {
			return nil, sourceUnavailable("get wiki page "+path, err)
		}
		content, err := decodeBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("decode wiki page %s: %w", path, err)
		}

		title := strings.TrimSuffix(path, ".md")
		docs = append(docs, Document{
			Source:  fmt.Sprintf("wiki:%s/%s", s.cfg.Name(), title),
			Kind:    store.KindDoc,
			Content: content,
			Metadata: map[string]string{
				"title": strings.ReplaceAll(title, "-", " "),
				"url":   fmt.Sprintf("https://github.com/%s/wiki/%s", s.cfg.Name(), title),
			},
		})
	}
	return docs, nil
}

func decodeBlob(blob *gh.Blob) (string, error) {
	if blob.GetEncoding() != "base64" {
		return blob.GetContent(), nil
	}
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(blob.GetContent())
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
