package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ScanAll polls every configured repository for tags that match a
// channel and have no recorded run yet, and publishes each. Repos are
// scanned concurrently; the runs themselves serialize on the publisher.
func (p *Publisher) ScanAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(p.repos))

	for name := range p.repos {
		wg.Add(1)
		go func(repoName string) {
			defer wg.Done()
			if err := p.scanRepo(ctx, repoName); err != nil {
				errChan <- fmt.Errorf("failed to scan repo %s: %w", repoName, err)
			}
		}(name)
	}

	wg.Wait()
	close(errChan)

	// Collect errors
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("scan errors: %v", errs)
	}

	return nil
}

// scanRepo fetches a repository's tags and publishes the unseen ones
func (p *Publisher) scanRepo(ctx context.Context, repoName string) error {
	r := p.repos[repoName]
	if err := r.Sync(); err != nil {
		return err
	}

	tags, err := r.Tags()
	if err != nil {
		return err
	}

	for _, tag := range tags {
		if p.cfg.MatchChannel(tag) == nil {
			continue
		}
		seen, err := p.store.HasRunForTag(repoName, tag)
		if err != nil {
			return err
		}
		if seen {
			continue
		}

		p.logger.Info("new tag discovered",
			zap.String("repo", repoName),
			zap.String("tag", tag),
		)
		if _, err := p.Publish(ctx, repoName, tag); err != nil {
			// The run is already recorded as failed; keep scanning
			p.logger.Warn("publish failed during scan",
				zap.String("repo", repoName),
				zap.String("tag", tag),
				zap.Error(err),
			)
		}
	}

	return nil
}
