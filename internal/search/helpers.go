package search

import (
	"context"
	"net/url"

	"veritas/internal/apierr"
	"veritas/internal/logging"
	"veritas/internal/model"
)

// persistAbstract stores a page's abstract as a Fragment and skips
// fetching (spec.md §4.4 step 3: "for entries with an abstract, persist
// it as a Fragment of type abstract and skip fetching").
func (p *Pipeline) persistAbstract(page *model.Page, abstractText string) error {
	if abstractText == "" {
		return nil
	}
	frag := &model.Fragment{
		PageID:       page.ID,
		FragmentType: model.FragmentAbstract,
		TextContent:  abstractText,
		Position:     0,
	}
	if err := p.store.CreateFragment(frag); err != nil {
		return apierr.Wrap(apierr.KindStorageFatal, "search: persist abstract fragment", err)
	}
	return nil
}

// fetchPageBody retrieves a page's content directly over HTTP. A
// redirect-to-login response is surfaced to the auth queue rather than
// treated as a hard failure of the whole target (spec.md §4.4 edge case).
// A domain the circuit breaker already has tripped is never dialed at
// all: the job goes straight to awaiting_auth behind a fresh AuthItem
// instead of retrying into a wall it's already known to hit.
func (p *Pipeline) fetchPageBody(ctx context.Context, job *model.Job, page *model.Page) error {
	if p.Breaker != nil && page.Domain != "" && p.Breaker.IsTripped(page.Domain) {
		return p.createChallengeAuthItem(job, page.Domain, "circuit_open")
	}
	if err := p.Limiters.Wait(ctx, "fetch"); err != nil {
		return apierr.Wrap(apierr.KindTransient, "search: rate limiter wait", err)
	}
	result, err := p.Fetcher.Fetch(ctx, page.URL)
	if err != nil {
		return apierr.Wrap(apierr.KindTransient, "search: fetch page", err)
	}
	if result.RedirectedToLogin {
		return p.createChallengeAuthItem(job, domainOf(result.FinalURL), "login_wall")
	}
	if page.Title == "" && result.Title != "" {
		page.Title = result.Title
	}
	frag := &model.Fragment{
		PageID:       page.ID,
		FragmentType: model.FragmentParagraph,
		TextContent:  result.TextContent,
		Position:     0,
	}
	if result.TextContent != "" {
		if err := p.store.CreateFragment(frag); err != nil {
			return apierr.Wrap(apierr.KindStorageFatal, "search: persist fetched fragment", err)
		}
	}
	return nil
}

// createChallengeAuthItem records the blocked job against the offending
// domain, trips that domain's circuit breaker so other in-flight requests
// to it fail fast instead of retrying into the same wall, and returns a
// KindChallenge error so the scheduler routes the job to awaiting_auth
// instead of failed (spec.md §4.8).
func (p *Pipeline) createChallengeAuthItem(job *model.Job, domain string, challengeType string) error {
	if p.Breaker != nil && domain != "" {
		p.Breaker.Trip(domain)
	}
	item := &model.AuthItem{
		Domain:         domain,
		ChallengeType:  challengeType,
		BlockingJobIDs: []string{job.ID},
	}
	if err := p.store.CreateAuthItem(item); err != nil {
		return apierr.Wrap(apierr.KindStorageFatal, "search: create auth item", err)
	}
	return apierr.New(apierr.KindChallenge, "search: "+challengeType+" detected for "+domain)
}

// recordUnblockedChallenge trips domain's breaker and leaves a visible,
// unlinked AuthItem (no job is actually blocked — a SERP engine challenge
// just means that engine's results are skipped this round) so the tripped
// state is both visible via get_auth_queue and resettable via resolve_auth.
func (p *Pipeline) recordUnblockedChallenge(domain, challengeType string) {
	if domain == "" {
		return
	}
	if p.Breaker != nil {
		p.Breaker.Trip(domain)
	}
	item := &model.AuthItem{Domain: domain, ChallengeType: challengeType}
	if err := p.store.CreateAuthItem(item); err != nil {
		logging.Search("failed to record %s challenge for %s: %v", challengeType, domain, err)
	}
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}
