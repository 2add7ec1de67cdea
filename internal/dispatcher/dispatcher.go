package dispatcher

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"failedjobs/internal/models"
	"failedjobs/internal/registry"
	"failedjobs/internal/repository"
)

// ErrUnknownProject is returned when the addressed project key is not
// registered. The action is not recorded; callers decide how to surface it.
var ErrUnknownProject = errors.New("unknown project")

// ErrInvalidAction is returned for action types outside the closed set.
var ErrInvalidAction = errors.New("invalid action type")

// Dispatcher is the producer side of the action spool: it validates the
// requested action against the registry and appends one pending record.
type Dispatcher struct {
	registry *registry.Registry
	actions  *repository.ActionRepository
	logger   *zap.Logger
}

func New(reg *registry.Registry, actions *repository.ActionRepository, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, actions: actions, logger: logger}
}

// Dispatch appends one pending action for the given project. The resolved
// project's name and runtime flavor are snapshotted into the payload so
// later config changes cannot alter how the action executes.
func (d *Dispatcher) Dispatch(projectKey, actionType string, payload models.ActionPayload) (*models.FailedJobAction, error) {
	if !models.ValidActionType(actionType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, actionType)
	}

	project, ok := d.registry.Get(projectKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, projectKey)
	}

	payload.Project = models.ProjectSnapshot{
		Name:             project.Name,
		UsesRedisRuntime: project.UsesRedisRuntime,
	}

	raw, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	action := &models.FailedJobAction{
		Project: projectKey,
		Action:  actionType,
		Payload: raw,
		Status:  models.ActionStatusPending,
	}
	if err := d.actions.Create(action); err != nil {
		return nil, fmt.Errorf("append action record: %w", err)
	}

	d.logger.Info("Action queued",
		zap.Uint("id", action.ID),
		zap.String("project", projectKey),
		zap.String("action", actionType))
	return action, nil
}
