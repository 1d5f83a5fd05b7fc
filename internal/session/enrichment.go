package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/PageSmith/PageSmith/internal/genai"
)

// DefaultEnrichmentWorkers bounds how many style analyses run concurrently.
const DefaultEnrichmentWorkers = 4

// EnrichmentPool runs best-effort background style analysis. Tasks never
// block or fail a user turn: the gateway call runs outside any session lock,
// and only the short merge-and-persist step takes the per-session exclusion.
// The pool is supervised: Shutdown cancels pending work and waits for
// in-flight tasks, so enrichment cannot outlive the process.
type EnrichmentPool struct {
	gateway genai.ClientInterface
	manager *Manager
	sem     chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewEnrichmentPool creates a supervised pool bound to the manager.
func NewEnrichmentPool(gateway genai.ClientInterface, manager *Manager) *EnrichmentPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &EnrichmentPool{
		gateway: gateway,
		manager: manager,
		sem:     make(chan struct{}, DefaultEnrichmentWorkers),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules one style analysis for a session. Fire-and-forget from the
// caller's perspective; results merge opportunistically.
func (p *EnrichmentPool) Submit(userID, imagePath, itemName, description string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-p.ctx.Done():
			return
		}
		p.run(userID, imagePath, itemName, description)
	}()
	slog.Debug("Enrichment scheduled", "userID", userID, "imagePath", imagePath)
}

func (p *EnrichmentPool) run(userID, imagePath, itemName, description string) {
	suggestion, err := p.gateway.AnalyzeImageStyle(p.ctx, imagePath, itemName, description)
	if err != nil {
		slog.Warn("Enrichment failed, leaving style unset", "error", err, "userID", userID)
		return
	}
	if suggestion == nil {
		slog.Debug("Enrichment produced no suggestion", "userID", userID)
		return
	}

	// Merge against the current in-memory session, not a stale copy, so
	// concurrent turn updates are never clobbered.
	entry := p.manager.registry.Get(userID)
	if entry == nil {
		slog.Debug("Enrichment result discarded, session gone", "userID", userID)
		return
	}
	entry.Lock()
	defer entry.Unlock()
	s := entry.Session
	if s == nil {
		return
	}
	if s.Data.Enrichment != nil {
		// Written at most once.
		return
	}
	s.Data.Enrichment = suggestion
	p.manager.persistLocked(entry)
	slog.Info("Enrichment merged into session", "userID", userID, "colors", len(suggestion.Colors), "fonts", len(suggestion.Fonts))
}

// Shutdown cancels pending tasks and waits for in-flight ones.
func (p *EnrichmentPool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	slog.Debug("Enrichment pool drained")
}
