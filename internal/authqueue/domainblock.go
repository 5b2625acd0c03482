package authqueue

import (
	"encoding/json"
	"fmt"

	"golang.org/x/net/publicsuffix"

	"veritas/internal/model"
)

// IsRegistrableDomain reports whether domain is its own effective
// TLD+1 (e.g. "arxiv.org", "sub.example.co.uk" is NOT, since its
// registrable domain is "example.co.uk"). domain_block rejects anything
// coarser than this to keep an operator from accidentally blacklisting
// an entire TLD or public suffix.
func IsRegistrableDomain(domain string) bool {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return false
	}
	return etld1 == domain
}

// BlockDomain records the block and immediately cancels every still-queued
// job targeting that domain, returning how many were cancelled. The domain
// must be a registrable domain or a subdomain of one. Running jobs are left
// to finish; BlockDomain does not trip the domain's circuit breaker or
// interrupt them.
func (svc *Service) BlockDomain(domain string) (cancelled int, err error) {
	if _, err := publicsuffix.EffectiveTLDPlusOne(domain); err != nil {
		return 0, fmt.Errorf("authqueue: %q is not a registrable domain (TLD-wide or eTLD+0 blocks are too broad)", domain)
	}
	if err := svc.store.FeedbackDomainBlock(domain); err != nil {
		return 0, err
	}
	return svc.cancelQueuedJobsForDomain(domain)
}

// UnblockDomain clears a domain's block but does not resurrect any jobs
// already cancelled by BlockDomain; new target_queue jobs may requeue it.
func (svc *Service) UnblockDomain(domain string) error {
	return svc.store.FeedbackDomainUnblock(domain)
}

func (svc *Service) cancelQueuedJobsForDomain(domain string) (int, error) {
	jobs, err := svc.store.QueuedJobsByKind(model.JobTargetQueue)
	if err != nil {
		return 0, err
	}
	var n int
	for _, j := range jobs {
		target, ok := decodeTarget(j.Input)
		if !ok {
			continue
		}
		d, ok := target.Domain()
		if !ok || d != domain {
			continue
		}
		if err := svc.store.FinishJob(j.ID, model.JobCancelled, "domain blocked"); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func decodeTarget(input string) (model.Target, bool) {
	if input == "" {
		return model.Target{}, false
	}
	var t model.Target
	if err := json.Unmarshal([]byte(input), &t); err != nil {
		return model.Target{}, false
	}
	return t, true
}
