// Package github publishes cut releases as GitHub release pages.
package github

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/google/go-github/v28/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/release"
	"github.com/cuttercd/cutter/pkg/vcs"
)

// Publisher writes a GitHub release for each cut release, with the
// changelog section as its body.
type Publisher struct {
	client *github.Client
	owner  string
	repo   string
	logger log.Logger
}

var _ release.MetadataPublisher = &Publisher{}

// NewPublisher makes a publisher for the repository the remote points
// at. An empty apiURL means github.com; set it for GitHub Enterprise.
func NewPublisher(ctx context.Context, remote vcs.Remote, token, apiURL string, logger log.Logger) (*Publisher, error) {
	if token == "" {
		return nil, errors.New("token cannot be empty")
	}
	owner, repo, err := remote.Repo()
	if err != nil {
		return nil, errors.Wrap(err, "working out owner/repo from the remote URL")
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, src)

	var client *github.Client
	if apiURL == "" {
		client = github.NewClient(httpClient)
	} else {
		client, err = github.NewEnterpriseClient(apiURL, apiURL, httpClient)
		if err != nil {
			return nil, errors.Wrap(err, "configuring GitHub Enterprise client")
		}
	}
	return &Publisher{client: client, owner: owner, repo: repo, logger: logger}, nil
}

// PublishRelease creates the release page for the tag. A page that
// already exists means the work is done; cuts that resume after an
// interruption publish again, and must land here harmlessly.
func (p *Publisher) PublishRelease(ctx context.Context, rec ledger.Record, notes string) error {
	existing, resp, err := p.client.Repositories.GetReleaseByTag(ctx, p.owner, p.repo, rec.Tag)
	if err == nil && existing != nil {
		p.logger.Log("msg", "release page already exists", "tag", rec.Tag, "url", existing.GetHTMLURL())
		return nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return errors.Wrapf(err, "checking for release %s", rec.Tag)
	}

	created, _, err := p.client.Repositories.CreateRelease(ctx, p.owner, p.repo, &github.RepositoryRelease{
		TagName:         github.String(rec.Tag),
		TargetCommitish: github.String(rec.CommitID),
		Name:            github.String(rec.Tag),
		Body:            github.String(notes),
	})
	if err != nil {
		return errors.Wrapf(err, "creating release %s", rec.Tag)
	}
	p.logger.Log("msg", "published release page", "tag", rec.Tag, "url", created.GetHTMLURL())
	return nil
}
