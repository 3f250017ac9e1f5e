package service

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// StartArchiver schedules the retention sweep. Instances are never deleted;
// terminal rows older than the retention window are marked archived and drop
// out of default listings.
func (s *Service) StartArchiver() (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(s.config.ArchiveSchedule, func() {
		s.sweepArchive(context.Background())
	}); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (s *Service) sweepArchive(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*s.config.StoreTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.config.RetentionWindow)
	archived, err := s.store.ArchiveInstances(sweepCtx, cutoff, s.now())
	if err != nil {
		log.Printf("WARN: archive sweep failed: %v", err)
		return
	}
	if archived > 0 {
		log.Printf("INFO: archived %d instances past retention", archived)
	}
}
