package container

import (
	"context"
	"fmt"

	"gopower/adapters/db"
	"gopower/adapters/excel"
	"gopower/adapters/report"
	"gopower/adapters/rng"
	"gopower/adapters/sem"
	"gopower/app"
	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/internal/api"
	"gopower/internal/config"
	"gopower/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config

	// Infrastructure
	DB *sqlx.DB

	// Repositories and exporters
	ResultsRepo ports.ResultsRepository
	Exporters   []ports.ReportExporter

	// Simulation
	Model     *model.Spec
	Simulator *sem.Simulator
	Runner    *app.ReplicationRunner
	Sweep     *app.PowerSweepService
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Container{Config: cfg}, nil
}

// InitDatabase opens the results database and its repository
func (c *Container) InitDatabase(ctx context.Context) error {
	conn, err := db.Open(ctx, c.Config.Database.URL)
	if err != nil {
		return err
	}
	c.DB = conn
	c.ResultsRepo = db.NewResultsRepository(conn)
	return nil
}

// InitExporters enables the markdown, HTML and xlsx report writers
func (c *Container) InitExporters() {
	c.Exporters = []ports.ReportExporter{report.NewDocumentExporter(), excel.NewWorkbookWriter()}
}

// InitSimulation loads the model and builds the sweep service for a plan.
// Persistence and export are used only if they were initialised first.
func (c *Container) InitSimulation(modelFile string, plan power.Plan) error {
	spec, err := config.LoadModel(modelFile)
	if err != nil {
		return err
	}
	sim, err := sem.NewSimulator(spec, sem.SimulatorConfig{MCDraws: plan.MCDraws, CILevel: plan.CILevel})
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	c.Model = spec
	c.Simulator = sim
	c.Runner = app.NewReplicationRunner(sim, rng.NewPCGStreams())
	c.Sweep = app.NewPowerSweepService(c.Runner, c.ResultsRepo, c.Exporters...)
	return nil
}

// Server builds the report server over the results repository
func (c *Container) Server() (*api.Server, error) {
	if c.ResultsRepo == nil {
		return nil, fmt.Errorf("results repository not initialized")
	}
	return api.NewServer(c.ResultsRepo), nil
}

// Shutdown releases held resources
func (c *Container) Shutdown(ctx context.Context) error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
