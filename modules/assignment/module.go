package assignment

import (
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/candidate"
	"github.com/workmesh/assign-sdk/modules/assignment/infrastructure/persistence"
	"github.com/workmesh/assign-sdk/modules/assignment/presentation/controllers"
	"github.com/workmesh/assign-sdk/modules/assignment/services"
	"github.com/workmesh/assign-sdk/pkg/application"
	"github.com/workmesh/assign-sdk/pkg/configuration"
)

type ModuleOptions struct {
	// Pool overrides the database-backed candidate pool, e.g. to source
	// candidates from an external service.
	Pool candidate.Pool
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	conf := configuration.Use()

	pool := m.options.Pool
	if pool == nil {
		pool = persistence.NewCandidateRepository()
	}

	workItems := persistence.NewWorkItemRepository()
	entries := persistence.NewQueueEntryRepository()
	events := persistence.NewAssignmentEventRepository()

	eventsService := services.NewEventsService(events, app.EventPublisher())
	commandCenter := services.NewCommandCenterService(workItems, entries, conf.Engine.MetricsCacheTTL)
	assignmentService := services.NewAssignmentService(
		workItems,
		entries,
		eventsService,
		pool,
		services.WithCandidatePoolTimeout(conf.Engine.CandidatePoolTimeout),
		services.WithCacheInvalidator(commandCenter),
	)

	app.RegisterServices(
		eventsService,
		commandCenter,
		assignmentService,
	)
	app.RegisterControllers(
		controllers.NewAssignmentAPIController(app),
	)
	return nil
}

func (m *Module) Name() string {
	return "assignment"
}
