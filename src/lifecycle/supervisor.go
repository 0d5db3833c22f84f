package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
)

// Supervisor runs one controller per asset class, fully independent.
type Supervisor struct {
	Controllers map[models.AssetClass]*Controller
	Logger      *logger.Logger
	mu          sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewSupervisor(controllers []*Controller, log *logger.Logger) *Supervisor {
	s := &Supervisor{
		Controllers: make(map[models.AssetClass]*Controller),
		Logger:      log,
	}
	for _, c := range controllers {
		s.Controllers[c.AssetClass()] = c
	}
	return s
}

// -----------------------------------------------------------------------------

// AddController registers a controller before Run.
func (s *Supervisor) AddController(c *Controller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.Controllers[c.AssetClass()]; exists {
		return fmt.Errorf("controller for %s already exists", c.AssetClass())
	}
	s.Controllers[c.AssetClass()] = c
	return nil
}

// GetController returns the controller of one asset class.
func (s *Supervisor) GetController(assetClass models.AssetClass) (*Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.Controllers[assetClass]
	return c, ok
}

// GetAllControllers returns the controllers ordered by asset class.
func (s *Supervisor) GetAllControllers() []*Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Controller, 0, len(s.Controllers))
	for _, c := range s.Controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetClass() < out[j].AssetClass() })
	return out
}

// Statuses snapshots every controller.
func (s *Supervisor) Statuses() []models.MSessionStatus {
	controllers := s.GetAllControllers()
	out := make([]models.MSessionStatus, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c.Status())
	}
	return out
}

// -----------------------------------------------------------------------------

// Run blocks until every controller has returned. A panicking or halted
// controller never stops its siblings; their fatal errors are joined.
func (s *Supervisor) Run(ctx context.Context) error {
	controllers := s.GetAllControllers()

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		errs   []error
		record = func(err error) {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
	)

	for _, c := range controllers {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("%s controller panicked: %v", c.AssetClass(), r)
					c.Halt(err)
					record(err)
				}
			}()

			if err := c.Run(ctx); err != nil {
				s.Logger.Error("%s : controller halted: %v", c.AssetClass(), err)
				record(fmt.Errorf("%s: %w", c.AssetClass(), err))
			}
		}(c)
	}

	s.Logger.Info("Supervisor: running %d asset classes", len(controllers))
	wg.Wait()
	s.Logger.Info("Supervisor: all controllers returned")

	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

// Reporters fans status snapshots out to several reporters.
type Reporters []interfaces.IStatusReporter

func (r Reporters) OnStatus(status models.MSessionStatus) {
	for _, rep := range r {
		if rep != nil {
			rep.OnStatus(status)
		}
	}
}
