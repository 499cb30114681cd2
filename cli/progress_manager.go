package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"
)

type progressSpinner interface {
	Stop() error
	Success(...any)
	Fail(...any)
	UpdateText(string)
}

type progressSpinnerFactory func(w io.Writer, text string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(w io.Writer, text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithWriter(w).
		WithRemoveWhenDone(false).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

// StepStatus represents the state of a progress step.
type StepStatus int

const (
	// StepPending indicates a step has not yet started.
	StepPending StepStatus = iota
	// StepRunning indicates a step is currently in progress.
	StepRunning
	// StepCompleted indicates a step finished successfully.
	StepCompleted
	// StepFailed indicates a step encountered an error.
	StepFailed
)

// Step is one stage of a command, such as detecting corners or running the solver.
type Step struct {
	ID      string
	Message string
	Status  StepStatus
	// Spinner animates the step while it runs. Steps that show a progress bar leave it off.
	Spinner   bool
	startTime time.Time
}

// ProgressManager reports the stages of a command on the error writer.
type ProgressManager struct {
	mu             sync.Mutex
	out            io.Writer
	steps          []*Step
	stepMap        map[string]*Step
	currentSpinner progressSpinner
	spinnerFactory progressSpinnerFactory
	clock          clock.Clock
	disabled       bool
}

// ProgressManagerOption allows customizing ProgressManager behavior at creation time.
type ProgressManagerOption func(*ProgressManager)

// WithProgressOutput enables or disables terminal output for a ProgressManager.
func WithProgressOutput(enabled bool) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.disabled = !enabled
	}
}

func withProgressSpinnerFactory(factory progressSpinnerFactory) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.spinnerFactory = factory
	}
}

func withProgressClock(clk clock.Clock) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.clock = clk
	}
}

// NewProgressManager creates a new ProgressManager with all steps registered upfront.
func NewProgressManager(out io.Writer, steps []*Step, opts ...ProgressManagerOption) *ProgressManager {
	pm := &ProgressManager{
		out:            out,
		steps:          steps,
		stepMap:        make(map[string]*Step, len(steps)),
		spinnerFactory: defaultSpinnerFactory,
		clock:          clock.New(),
	}
	for _, step := range steps {
		pm.stepMap[step.ID] = step
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

func (pm *ProgressManager) step(stepID string) (*Step, error) {
	step, ok := pm.stepMap[stepID]
	if !ok {
		return nil, errors.Errorf("step %q not found", stepID)
	}
	return step, nil
}

// Start marks a step as running.
func (pm *ProgressManager) Start(stepID string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(stepID)
	if err != nil {
		return err
	}
	step.Status = StepRunning
	step.startTime = pm.clock.Now()
	if pm.disabled {
		return nil
	}
	pm.stopSpinnerLocked()
	if !step.Spinner {
		fmt.Fprintf(pm.out, " …  %s\n", step.Message)
		return nil
	}
	spinner, err := pm.spinnerFactory(pm.out, step.Message)
	if err != nil {
		return errors.Wrap(err, "failed to start spinner")
	}
	pm.currentSpinner = spinner
	return nil
}

func (pm *ProgressManager) elapsed(step *Step) string {
	if step.startTime.IsZero() {
		return ""
	}
	return fmt.Sprintf(" (%s)", pm.clock.Since(step.startTime).Round(time.Millisecond))
}

// Complete marks a step as completed.
func (pm *ProgressManager) Complete(stepID string) error {
	return pm.CompleteWithMessage(stepID, "")
}

// CompleteWithMessage marks a step as completed, replacing its message when one is given.
func (pm *ProgressManager) CompleteWithMessage(stepID, message string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(stepID)
	if err != nil {
		return err
	}
	step.Status = StepCompleted
	if message == "" {
		message = step.Message
	}
	if pm.disabled {
		return nil
	}
	line := message + pm.elapsed(step)
	if pm.currentSpinner != nil {
		pm.currentSpinner.Success(line)
		pm.currentSpinner = nil
		return nil
	}
	pterm.Success.WithWriter(pm.out).Println(line)
	return nil
}

// Fail marks a step as failed.
func (pm *ProgressManager) Fail(stepID string, cause error) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(stepID)
	if err != nil {
		return err
	}
	step.Status = StepFailed
	if pm.disabled {
		return nil
	}
	line := fmt.Sprintf("%s: %v", step.Message, cause)
	if pm.currentSpinner != nil {
		pm.currentSpinner.Fail(line)
		pm.currentSpinner = nil
		return nil
	}
	pterm.Error.WithWriter(pm.out).Println(line)
	return nil
}

// UpdateText updates the text of the running spinner.
func (pm *ProgressManager) UpdateText(text string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.disabled || pm.currentSpinner == nil {
		return
	}
	pm.currentSpinner.UpdateText(text)
}

// Stop stops any running spinner.
func (pm *ProgressManager) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.stopSpinnerLocked()
}

func (pm *ProgressManager) stopSpinnerLocked() {
	if pm.currentSpinner != nil {
		//nolint:errcheck
		pm.currentSpinner.Stop()
		pm.currentSpinner = nil
	}
}

// Bar returns a progress bar over n items for the running step, or a silent one when output
// is disabled.
func (pm *ProgressManager) Bar(n int, description string) *progressbar.ProgressBar {
	if pm.disabled {
		return progressbar.DefaultSilent(int64(n))
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(strings.TrimSpace(description)),
		progressbar.OptionSetWriter(pm.out),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
