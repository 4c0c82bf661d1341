package provision

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Step names, in execution order.
const (
	StepCleanup           = "cleanup"
	StepCreateVariableSet = "create-variable-set"
	StepCreateOperation   = "create-operation"
	StepCreateDeployment  = "create-deployment"
)

// State is threaded through the steps of one run.
type State struct {
	Baselines Baselines

	Cleanup     *CleanupResult
	VariableSet *VariableSet
	Operation   *Operation
	Deployment  *Deployment

	factories *Factories
}

// Factories returns the entity factories bound to the run's baselines.
func (s *State) Factories() *Factories { return s.factories }

// Step is one named stage of the workflow.
type Step struct {
	Name string
	Run  func(ctx context.Context, st *State) error
}

// StepError reports the step that aborted a run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// DefaultSteps is cleanup followed by the three create steps.
func DefaultSteps() []Step {
	return []Step{
		{Name: StepCleanup, Run: func(ctx context.Context, st *State) error {
			res, err := st.factories.Cleanup(ctx)
			st.Cleanup = res
			return err
		}},
		{Name: StepCreateVariableSet, Run: func(ctx context.Context, st *State) error {
			vs, err := st.factories.CreateVariableSet(ctx)
			if err != nil {
				return err
			}
			st.VariableSet = vs
			log.Printf("Created variable set: %s", vs.Name)
			return nil
		}},
		{Name: StepCreateOperation, Run: func(ctx context.Context, st *State) error {
			op, err := st.factories.CreateOperation(ctx)
			if err != nil {
				return err
			}
			st.Operation = op
			log.Printf("Created operation: %s", op.Name)
			return nil
		}},
		{Name: StepCreateDeployment, Run: func(ctx context.Context, st *State) error {
			if st.Operation == nil {
				return fmt.Errorf("no operation to deploy")
			}
			dep, err := st.factories.CreateDeployment(ctx, st.Operation)
			if err != nil {
				return err
			}
			st.Deployment = dep
			log.Printf("Created deployment: %s", dep.Name)
			return nil
		}},
	}
}

// Provisioner runs the workflow steps in order against a repository.
type Provisioner struct {
	repo  Repository
	steps []Step
}

// NewProvisioner builds a provisioner. Without steps it runs DefaultSteps.
func NewProvisioner(repo Repository, steps ...Step) *Provisioner {
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	return &Provisioner{repo: repo, steps: steps}
}

// Run resolves both baselines and executes every step. The first failure
// stops the run and is returned as a *StepError; the returned state holds
// whatever the completed steps produced.
func (p *Provisioner) Run(ctx context.Context) (*State, error) {
	b, err := ResolveBaselines(ctx, p.repo)
	if err != nil {
		return nil, err
	}
	st := &State{Baselines: b, factories: NewFactories(p.repo, b)}

	for _, step := range p.steps {
		started := time.Now()
		log.Printf("Running step %s", step.Name)
		if err := step.Run(ctx, st); err != nil {
			return st, &StepError{Step: step.Name, Err: err}
		}
		log.Printf("Step %s done in %v", step.Name, time.Since(started).Round(time.Millisecond))
	}
	return st, nil
}
