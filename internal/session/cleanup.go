package session

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/admin-console/internal/log"
)

// CleanupManager periodically removes expired sessions from a Cleaner
type CleanupManager struct {
	cleaner  Cleaner
	interval time.Duration
	onPurge  func(count int)
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. onPurge, when non-nil,
// is called with the number of records removed by each sweep.
func NewCleanupManager(cleaner Cleaner, interval time.Duration, onPurge func(count int)) *CleanupManager {
	return &CleanupManager{
		cleaner:  cleaner,
		interval: interval,
		onPurge:  onPurge,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Run sweeps until ctx is cancelled or Stop is called. It blocks.
func (cm *CleanupManager) Run(ctx context.Context) error {
	log.LogInfoWithFields("cleanup", "Starting session cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			cm.cleanup(ctx)
			return nil
		case <-ctx.Done():
			log.LogInfoWithFields("cleanup", "Session cleanup manager stopped", nil)
			return nil
		}
	}
}

// Start runs the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	go func() { _ = cm.Run(ctx) }()
}

// Stop performs a final sweep and waits for the loop to exit
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopChan) })
	<-cm.doneChan
	log.LogInfoWithFields("cleanup", "Session cleanup manager stopped", nil)
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.cleaner.CleanupExpired(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to cleanup expired sessions", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogInfoWithFields("cleanup", "Cleaned up expired sessions", map[string]any{
			"count": count,
		})
		if cm.onPurge != nil {
			cm.onPurge(count)
		}
	}
}
