package bot

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/translate-dev/observatory/internal/conflict"
)

// ScanPull compares the given pull request against every other open pull in
// the repository and posts a notification for each detected conflict.
//
// A failure on one pull pair is logged and does not abort the scan of the
// remaining pairs.
func (s *Server) ScanPull(ctx context.Context, fullRepoName string, number int) error {
	log := clog.FromContext(ctx)

	pulls, err := s.gh.ListOpenPulls(ctx, fullRepoName)
	if err != nil {
		return fmt.Errorf("listing open pulls: %w", err)
	}

	var newPull *conflict.PullRequest
	for i := range pulls {
		if pulls[i].Number == number {
			newPull = &pulls[i]
			break
		}
	}
	if newPull == nil {
		// Closed or merged between delivery and scan.
		log.Infof("pull %s#%d is no longer open, skipping scan", fullRepoName, number)
		return nil
	}

	newPull.Diff, err = s.gh.PullDiff(ctx, fullRepoName, number)
	if err != nil {
		return fmt.Errorf("fetching diff for %s#%d: %w", fullRepoName, number, err)
	}

	for i := range pulls {
		other := &pulls[i]
		if other.Number == newPull.Number {
			continue
		}

		other.Diff, err = s.gh.PullDiff(ctx, fullRepoName, other.Number)
		if err != nil {
			log.Errorf("failed to fetch diff for %s#%d: %v", fullRepoName, other.Number, err)
			scanFailures.WithLabelValues("diff").Inc()
			continue
		}

		for _, c := range conflict.Compare(newPull, other) {
			conflictsDetected.WithLabelValues(c.Kind.String()).Inc()
			log.Infof("conflict %s between #%d and #%d (%d files)", c.Kind, newPull.Number, other.Number, len(c.FileSet))

			if err := s.gh.PostComment(ctx, fullRepoName, c.Trigger, c.Marker(), c.ToMarkdown()); err != nil {
				log.Errorf("failed to notify %s#%d: %v", fullRepoName, c.Trigger, err)
				commentsPosted.WithLabelValues("error").Inc()
				continue
			}
			commentsPosted.WithLabelValues("ok").Inc()
		}
	}
	return nil
}
