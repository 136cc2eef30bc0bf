// Package goworkflows implements [domain.WorkflowEngine] using
// cschleiden/go-workflows for durable workflow execution.
package goworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// activityInvoker calls an activity from the workflow context with the
// correct generic types. Created at construction time when concrete
// types are known.
type activityInvoker func(wfCtx workflow.Context, in any) (any, error)

// Engine implements [domain.WorkflowEngine] backed by go-workflows.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 30 * time.Second
}

func (e *Engine) ReconcileRunner(wf *domain.ReconcileWorkflow) (domain.ReconcileRunner, error) {
	invokers := make(map[string]activityInvoker)
	acts := &reconcileActivities{wf: wf}

	if err := registerActivity(e.Worker, invokers, wf.LoadRollout(), acts.LoadRollout); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.ResolveTargets(), acts.ResolveTargets); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.PollOutcomes(), acts.PollOutcomes); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.Dispatch(), acts.Dispatch); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.SaveRollout(), acts.SaveRollout); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.Notify(), acts.Notify); err != nil {
		return nil, err
	}

	wfFunc := func(ctx workflow.Context, in domain.ReconcileInput) (domain.ReconcileResult, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		return wf.Run(runner, in)
	}

	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	return &reconcileRunner{
		client:  e.Client,
		wfName:  wf.Name(),
		timeout: e.timeout(),
	}, nil
}

// reconcileActivities exposes the workflow's activities as methods.
// go-workflows names an activity after the function value it is given,
// so registration and execution both use these method values.
type reconcileActivities struct {
	wf *domain.ReconcileWorkflow
}

func (a *reconcileActivities) LoadRollout(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return a.wf.LoadRollout().Run(ctx, id)
}

func (a *reconcileActivities) ResolveTargets(ctx context.Context, in domain.ResolveTargetsInput) ([]domain.DeviceID, error) {
	return a.wf.ResolveTargets().Run(ctx, in)
}

func (a *reconcileActivities) PollOutcomes(ctx context.Context, id domain.RolloutID) ([]domain.DeviceOutcome, error) {
	return a.wf.PollOutcomes().Run(ctx, id)
}

func (a *reconcileActivities) Dispatch(ctx context.Context, in domain.DispatchInput) (domain.DispatchOutput, error) {
	return a.wf.Dispatch().Run(ctx, in)
}

func (a *reconcileActivities) SaveRollout(ctx context.Context, r domain.Rollout) (domain.SaveOutput, error) {
	return a.wf.SaveRollout().Run(ctx, r)
}

func (a *reconcileActivities) Notify(ctx context.Context, ns []domain.Notification) (int, error) {
	return a.wf.Notify().Run(ctx, ns)
}

// registerActivity registers a typed activity function with go-workflows
// and creates an invoker, keyed by the domain activity name, that
// executes that same function value.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
	activityFn func(context.Context, I) (O, error),
) error {
	if err := w.RegisterActivity(activityFn); err != nil {
		return fmt.Errorf("register activity %q: %w", activity.Name(), err)
	}

	invokers[activity.Name()] = func(wfCtx workflow.Context, in any) (any, error) {
		result, err := workflow.ExecuteActivity[O](
			wfCtx, workflow.DefaultActivityOptions, activityFn, in,
		).Get(wfCtx)
		return result, err
	}

	return nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.wfCtx, in)
}

type reconcileRunner struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *reconcileRunner) Run(ctx context.Context, in domain.ReconcileInput) (domain.WorkflowHandle[domain.ReconcileResult], error) {
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: fmt.Sprintf("%s-%s", in.RolloutID, uuid.NewString()),
	}, r.wfName, in)
	if err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	return &workflowHandle{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type workflowHandle struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *workflowHandle) WorkflowID() string {
	return h.instance.InstanceID
}

func (h *workflowHandle) AwaitResult(ctx context.Context) (domain.ReconcileResult, error) {
	return client.GetWorkflowResult[domain.ReconcileResult](ctx, h.client, h.instance, h.timeout)
}
