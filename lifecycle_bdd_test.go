package labmodular

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"
)

var (
	errExpectedFailure   = errors.New("expected the operation to fail")
	errUnexpectedFailure = errors.New("operation failed unexpectedly")
)

// lifecycleBDDContext holds the state of one scenario.
type lifecycleBDDContext struct {
	registry      *Registry
	journal       *journal
	resolveErr    error
	activateErr   error
	deactivateErr error
}

func (c *lifecycleBDDContext) reset() {
	c.journal = &journal{}
	c.registry = NewRegistry()
	c.resolveErr = nil
	c.activateErr = nil
	c.deactivateErr = nil
}

func (c *lifecycleBDDContext) iHaveANewModuleRegistry() error {
	c.reset()
	return nil
}

func (c *lifecycleBDDContext) register(name string, def ClassDef, activateErr error) error {
	def.Name = name
	def.Factory = journaled(c.journal, activateErr, nil)
	class, err := ResolveClass(def)
	if err != nil {
		return err
	}
	_, err = c.registry.Register(name, class, ModuleConfig{})
	return err
}

func (c *lifecycleBDDContext) aProvider(name, capability string) error {
	return c.register(name, ClassDef{Capabilities: []string{capability}}, nil)
}

func (c *lifecycleBDDContext) aFailingProvider(name, capability string) error {
	return c.register(name, ClassDef{Capabilities: []string{capability}}, errors.New("hardware not found"))
}

func (c *lifecycleBDDContext) aConsumer(name, capability string) error {
	return c.register(name, ClassDef{
		Fields: []Field{{Attr: "dep", Descriptor: Connector{Capability: capability}}},
	}, nil)
}

func (c *lifecycleBDDContext) aProvidingConsumer(name, provides, requires string) error {
	return c.register(name, ClassDef{
		Capabilities: []string{provides},
		Fields:       []Field{{Attr: "dep", Descriptor: Connector{Capability: requires}}},
	}, nil)
}

func (c *lifecycleBDDContext) iResolveTheRegistry() error {
	c.resolveErr = c.registry.Resolve()
	return nil
}

func (c *lifecycleBDDContext) iActivate(name string) error {
	c.activateErr = c.registry.Activate(context.Background(), name, ActivateWithDependencies)
	return nil
}

func (c *lifecycleBDDContext) iDeactivate(name string) error {
	c.deactivateErr = c.registry.Deactivate(context.Background(), name)
	return nil
}

func (c *lifecycleBDDContext) resolutionShouldSucceed() error {
	if c.resolveErr != nil {
		return fmt.Errorf("%w: %v", errUnexpectedFailure, c.resolveErr)
	}
	return nil
}

func expectError(err, target error) error {
	if err == nil {
		return errExpectedFailure
	}
	if !errors.Is(err, target) {
		return fmt.Errorf("expected %v, got %w", target, err)
	}
	return nil
}

func (c *lifecycleBDDContext) resolutionShouldReportUnresolved() error {
	return expectError(c.resolveErr, ErrUnresolvedDependency)
}

func (c *lifecycleBDDContext) resolutionShouldReportAmbiguous() error {
	return expectError(c.resolveErr, ErrAmbiguousCapability)
}

func (c *lifecycleBDDContext) resolutionShouldReportCycle(members string) error {
	var cycle *DependencyCycleError
	if !errors.As(c.resolveErr, &cycle) {
		return fmt.Errorf("expected a dependency cycle, got %v", c.resolveErr)
	}
	if got := strings.Join(cycle.Members, ", "); got != members {
		return fmt.Errorf("expected cycle %q, got %q", members, got)
	}
	return nil
}

func (c *lifecycleBDDContext) theActivationShouldSucceed() error {
	if c.activateErr != nil {
		return fmt.Errorf("%w: %v", errUnexpectedFailure, c.activateErr)
	}
	return nil
}

func (c *lifecycleBDDContext) activationShouldFailNotActive() error {
	if err := expectError(c.activateErr, ErrDependencyNotActive); err != nil {
		return err
	}
	return expectError(c.activateErr, ErrUnresolvedDependency)
}

func (c *lifecycleBDDContext) activationShouldFailUnresolved() error {
	return expectError(c.activateErr, ErrUnresolvedDependency)
}

func (c *lifecycleBDDContext) deactivationShouldFailStillDepended(dependent string) error {
	var still *StillDependedError
	if !errors.As(c.deactivateErr, &still) {
		return fmt.Errorf("expected a still-depended error, got %v", c.deactivateErr)
	}
	for _, d := range still.Dependents {
		if d == dependent {
			return nil
		}
	}
	return fmt.Errorf("%q not among dependents %v", dependent, still.Dependents)
}

func (c *lifecycleBDDContext) theActivationOrderShouldBe(order string) error {
	var got []string
	for _, call := range c.journal.list() {
		if name, ok := strings.CutPrefix(call, "activate:"); ok {
			got = append(got, name)
		}
	}
	if strings.Join(got, ", ") != order {
		return fmt.Errorf("expected activation order %q, got %v", order, got)
	}
	return nil
}

func (c *lifecycleBDDContext) moduleShouldBe(name, state string) error {
	if got := c.registry.State(name).String(); got != state {
		return fmt.Errorf("module %q is %s, expected %s", name, got, state)
	}
	return nil
}

// InitializeLifecycleScenario wires the module lifecycle steps.
func InitializeLifecycleScenario(ctx *godog.ScenarioContext) {
	c := &lifecycleBDDContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return ctx, nil
	})

	ctx.Step(`^I have a new module registry$`, c.iHaveANewModuleRegistry)

	ctx.Step(`^a module "([^"]*)" that provides capability "([^"]*)"$`, c.aProvider)
	ctx.Step(`^a module "([^"]*)" that provides capability "([^"]*)" and fails to activate$`, c.aFailingProvider)
	ctx.Step(`^a module "([^"]*)" with a mandatory connector to capability "([^"]*)"$`, c.aConsumer)
	ctx.Step(`^a module "([^"]*)" that provides capability "([^"]*)" and requires capability "([^"]*)"$`, c.aProvidingConsumer)

	ctx.Step(`^I resolve the registry$`, c.iResolveTheRegistry)
	ctx.Step(`^I activate "([^"]*)" with its dependencies$`, c.iActivate)
	ctx.Step(`^I deactivate "([^"]*)"$`, c.iDeactivate)

	ctx.Step(`^resolution should succeed$`, c.resolutionShouldSucceed)
	ctx.Step(`^resolution should report an unresolved dependency$`, c.resolutionShouldReportUnresolved)
	ctx.Step(`^resolution should report an ambiguous capability$`, c.resolutionShouldReportAmbiguous)
	ctx.Step(`^resolution should report a cycle between "([^"]*)"$`, c.resolutionShouldReportCycle)

	ctx.Step(`^the activation should succeed$`, c.theActivationShouldSucceed)
	ctx.Step(`^the activation should fail with a dependency not active error$`, c.activationShouldFailNotActive)
	ctx.Step(`^the activation should fail with an unresolved dependency error$`, c.activationShouldFailUnresolved)
	ctx.Step(`^the deactivation should fail because "([^"]*)" still depends on it$`, c.deactivationShouldFailStillDepended)
	ctx.Step(`^the activation order should be "([^"]*)"$`, c.theActivationOrderShouldBe)
	ctx.Step(`^module "([^"]*)" should be (activated|deactivated|broken)$`, c.moduleShouldBe)
}

// TestModuleLifecycle runs the BDD tests for the module lifecycle.
func TestModuleLifecycle(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/module_lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
