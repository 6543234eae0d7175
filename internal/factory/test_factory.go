package factory

import (
	"io"
	"log/slog"
	"time"

	"github.com/mcoot/provisioner/internal/dependencies/mocks"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/storage/memory"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock       *mocks.MockClock
	MockRandom      *mocks.MockRandom
	MockProvisioner *mocks.MockProvisioner
	MockRegistrar   *mocks.MockRegistrar
	MemoryStorage   *memory.Storage
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// cfg.OAuth.Authority should point at a fake token endpoint when tokens are exercised.
func NewTestApp(cfg Config, logger *slog.Logger) *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	provisioner := mocks.NewMockProvisioner()
	registrar := mocks.NewMockRegistrar()

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	app := newWithDependencies(dependencies{
		store:       store,
		storageType: StorageTypeMemory,
		provisioner: provisioner,
		registrar:   registrar,
		clock:       mockClock,
		random:      mockRandom,
		metrics:     metrics.NewUnregistered(),
	}, cfg, logger)

	return &TestApp{
		App:             app,
		MockClock:       mockClock,
		MockRandom:      mockRandom,
		MockProvisioner: provisioner,
		MockRegistrar:   registrar,
		MemoryStorage:   store,
	}
}
