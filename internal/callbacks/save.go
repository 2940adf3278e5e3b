package callbacks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/born-train/internal/learner"
)

// DefaultSaveInterval is the default interval of SaveEveryN.
const DefaultSaveInterval = 100

// SaveEveryN saves the model every N iterations.
//
// Meant for models that take hours per epoch. Every save uses the same
// name, so each checkpoint replaces the previous one and heavy models do
// not fill the disk.
type SaveEveryN struct {
	learner.Base
	settings

	saveName string
	lastPath string
}

// NewSaveEveryN creates a SaveEveryN saving every n iterations under saveName.
//
// An empty saveName becomes "saved_every_{n}_iterations".
func NewSaveEveryN(n int, saveName string, opts ...Option) (*SaveEveryN, error) {
	c := &SaveEveryN{saveName: saveName}
	if err := c.init(NameSaveEveryN, n, 1, buildOptions(opts)); err != nil {
		return nil, err
	}
	if c.saveName == "" {
		c.saveName = DefaultSaveName(n)
	}
	return c, nil
}

// DefaultSaveName returns the save name used when none is given.
func DefaultSaveName(n int) string {
	return fmt.Sprintf("saved_every_%d_iterations", n)
}

// SaveName returns the name checkpoints are written under.
func (c *SaveEveryN) SaveName() string {
	return c.saveName
}

// LastPath returns where the last checkpoint was written, empty before the first save.
func (c *SaveEveryN) LastPath() string {
	return c.lastPath
}

// OnBatchEnd saves the model when the iteration closes an interval.
func (c *SaveEveryN) OnBatchEnd(_ context.Context, s *learner.State) error {
	if c.Disabled() || !every(s.Iteration, c.NumIterations()) {
		return nil
	}

	path, err := s.Learner.Save(c.saveName)
	if err != nil {
		return fmt.Errorf("save %q at iteration %d: %w", c.saveName, s.Iteration, err)
	}
	c.lastPath = path

	c.logger.Info("model saved",
		zap.String("name", c.saveName),
		zap.String("path", path),
		zap.Int("iteration", s.Iteration))
	return nil
}
