package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/google/go-github/v28/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/forkops/forkd"
)

// GitHub queries a repository's releases. The token may be empty, in
// which case requests are unauthenticated (and subject to much lower
// API quotas).
type GitHub struct {
	owner   string
	repo    string
	client  *github.Client
	limiter *rate.Limiter
	logger  log.Logger
}

func NewGitHub(owner, repo, token string, logger log.Logger) *GitHub {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	} else {
		logger.Log("msg", "no GitHub token configured, querying unauthenticated")
	}
	return &GitHub{
		owner:  owner,
		repo:   repo,
		client: github.NewClient(hc),
		// Keep well under the API quota; a detection needs at most
		// two calls.
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		logger:  logger,
	}
}

func (g *GitHub) LatestRelease(ctx context.Context) (forkd.Release, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return forkd.Release{}, err
	}
	rel, resp, err := g.client.Repositories.GetLatestRelease(ctx, g.owner, g.repo)
	if err != nil {
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			return forkd.Release{}, errors.Wrap(err, "querying latest release")
		}
		// Some upstreams tag without publishing releases; fall back
		// to the tags listing, which is newest-first.
		g.logger.Log("msg", "release API returned 404, falling back to tags")
		return g.latestTag(ctx)
	}

	version := rel.GetTagName()
	if version == "" {
		version = rel.GetName()
	}
	if version == "" {
		return forkd.Release{}, errors.New("unable to determine latest version from release payload")
	}
	out := forkd.Release{
		Version: version,
		Source:  g.Source(),
		URL:     rel.GetHTMLURL(),
		Notes:   rel.GetBody(),
	}
	if t := rel.GetPublishedAt(); !t.IsZero() {
		out.PublishedAt = t.Time
	}
	return out, nil
}

func (g *GitHub) latestTag(ctx context.Context) (forkd.Release, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return forkd.Release{}, err
	}
	tags, _, err := g.client.Repositories.ListTags(ctx, g.owner, g.repo, &github.ListOptions{PerPage: 1})
	if err != nil {
		return forkd.Release{}, errors.Wrap(err, "listing tags")
	}
	if len(tags) == 0 {
		return forkd.Release{}, errors.New("no tags returned from GitHub")
	}
	name := tags[0].GetName()
	return forkd.Release{
		Version: name,
		Source:  g.Source(),
		URL:     fmt.Sprintf("https://github.com/%s/%s/tree/%s", g.owner, g.repo, name),
	}, nil
}

func (g *GitHub) Source() string {
	return g.owner + "/" + g.repo
}
