package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sarchlab/omegavm/kernel"
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/coremap"
	"github.com/sarchlab/omegavm/mem/vm/fault"
	"github.com/sarchlab/omegavm/monitoring"
	"github.com/sarchlab/omegavm/sim"
	"github.com/sarchlab/omegavm/simulation"
)

// ErrExpectation is returned when a step does not behave as the scenario
// says it should.
var ErrExpectation = errors.New("expectation failed")

// A ProcessReport is the final state of one process.
type ProcessReport struct {
	Name     string
	PID      int
	State    kernel.ProcessState
	ExitCode int
	KilledBy error
}

// A Report summarizes a played scenario.
type Report struct {
	Scenario     string
	StepsPlayed  int
	Faults       int
	FailedFaults int
	Processes    []ProcessReport
	Frames       coremap.Stats
	TLBValid     int
}

// Print writes the report as a table.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "scenario %s: %d steps, %d faults (%d failed)\n",
		r.Scenario, r.StepsPlayed, r.Faults, r.FailedFaults)
	fmt.Fprintf(w, "frames: %d total, %d free, %d dirty, %d fixed; tlb: %d valid\n",
		r.Frames.Total, r.Frames.Free, r.Frames.Dirty, r.Frames.Fixed,
		r.TLBValid)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tSTATE\tEXIT\tKILLED BY")

	for _, p := range r.Processes {
		killedBy := "-"
		if p.KilledBy != nil {
			killedBy = p.KilledBy.Error()
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			p.PID, p.Name, p.State, p.ExitCode, killedBy)
	}

	tw.Flush()
}

// A Runner plays scenarios on a simulation.
type Runner struct {
	sim    *simulation.Simulation
	kernel *kernel.Kernel

	pids         map[string]int
	faults       int
	failedFaults int
	progress     *monitoring.ProgressBar
}

// NewRunner creates a runner that counts the faults of the simulation.
func NewRunner(s *simulation.Simulation) *Runner {
	r := &Runner{
		sim:    s,
		kernel: s.Kernel(),
		pids:   make(map[string]int),
	}

	r.kernel.Faults().AcceptHook(sim.HookFunc(r.countFault))

	return r
}

func (r *Runner) countFault(ctx sim.HookCtx) {
	if ctx.Pos != fault.HookPosFault {
		return
	}

	r.faults++

	if rec, ok := ctx.Item.(fault.Record); ok && rec.Err != nil {
		r.failedFaults++
	}
}

// Run starts the processes of the scenario and plays its steps. It stops at
// the first step that fails.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	if m := r.sim.GetMonitor(); m != nil {
		r.progress = m.CreateProgressBar(
			"Scenario "+sc.Name, uint64(len(sc.Processes)+len(sc.Steps)))
		defer m.CompleteProgressBar(r.progress)
	}

	report := &Report{Scenario: sc.Name}

	for _, p := range sc.Processes {
		if err := r.start(p); err != nil {
			return r.finish(report), err
		}

		r.advance()
	}

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return r.finish(report), err
		}

		if err := r.play(step); err != nil {
			return r.finish(report), fmt.Errorf("step %d (%s): %w", i+1, step, err)
		}

		report.StepsPlayed++
		r.advance()
	}

	return r.finish(report), nil
}

func (r *Runner) advance() {
	if r.progress != nil {
		r.progress.IncrementFinished(1)
	}
}

func (r *Runner) start(def ProcessDef) error {
	prog, err := def.Program()
	if err != nil {
		return err
	}

	p, err := r.kernel.RunProgram(prog)
	if err != nil {
		return fmt.Errorf("starting %s: %w", def.Name, err)
	}

	r.pids[def.Name] = p.PID

	return nil
}

func (r *Runner) pid(name string) (int, error) {
	pid, ok := r.pids[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown process %q", ErrBadScenario, name)
	}

	return pid, nil
}

func (r *Runner) switchTo(name string) error {
	if name == "" {
		return nil
	}

	pid, err := r.pid(name)
	if err != nil {
		return err
	}

	return r.kernel.Switch(pid)
}

func (r *Runner) play(s Step) error {
	switch s.Op {
	case OpRead:
		return r.read(s)
	case OpWrite:
		return r.write(s)
	case OpFork:
		return r.fork(s)
	case OpExit:
		pid, err := r.pid(s.Process)
		if err != nil {
			return err
		}

		return r.kernel.Exit(pid, s.Code)
	case OpSwitch:
		return r.switchTo(s.Process)
	case OpExpect:
		return r.expect(s)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadScenario, s.Op)
	}
}

func (r *Runner) read(s Step) error {
	if err := r.switchTo(s.Process); err != nil {
		return err
	}

	size := s.Size
	if size == 0 {
		size = uint32(len(*s.Want))
	}

	data, err := r.kernel.Read(vm.VAddr(s.VAddr), size)
	if err := checkError(s, err); err != nil || s.Error != "" {
		return err
	}

	if s.Want != nil && string(data) != *s.Want {
		return fmt.Errorf("%w: read %q, want %q", ErrExpectation, data, *s.Want)
	}

	return nil
}

func (r *Runner) write(s Step) error {
	if err := r.switchTo(s.Process); err != nil {
		return err
	}

	err := r.kernel.Write(vm.VAddr(s.VAddr), []byte(s.Data))

	return checkError(s, err)
}

func checkError(s Step, err error) error {
	if s.Error == "" {
		return err
	}

	if err == nil {
		return fmt.Errorf("%w: succeeded, want %s", ErrExpectation, s.Error)
	}

	if !errors.Is(err, errnoNames[s.Error]) {
		return fmt.Errorf("%w: got %v, want %s", ErrExpectation, err, s.Error)
	}

	return nil
}

func (r *Runner) fork(s Step) error {
	pid, err := r.pid(s.Process)
	if err != nil {
		return err
	}

	child, err := r.kernel.Fork(pid)
	if err != nil {
		return err
	}

	r.pids[s.As] = child.PID

	return nil
}

func (r *Runner) expect(s Step) error {
	if s.State != "" {
		pid, err := r.pid(s.Process)
		if err != nil {
			return err
		}

		p, _ := r.kernel.Process(pid)
		if p == nil || p.State() != stateNames[s.State] {
			return fmt.Errorf("%w: %s is not %s", ErrExpectation, s.Process, s.State)
		}
	}

	stats := r.kernel.Frames().Stats()

	if s.FreeFrames != nil && stats.Free != *s.FreeFrames {
		return fmt.Errorf("%w: %d free frames, want %d",
			ErrExpectation, stats.Free, *s.FreeFrames)
	}

	if s.DirtyFrames != nil && stats.Dirty != *s.DirtyFrames {
		return fmt.Errorf("%w: %d dirty frames, want %d",
			ErrExpectation, stats.Dirty, *s.DirtyFrames)
	}

	if s.TLBValid != nil {
		if n := r.sim.Machine().TLB.NumValid(); n != *s.TLBValid {
			return fmt.Errorf("%w: %d valid tlb entries, want %d",
				ErrExpectation, n, *s.TLBValid)
		}
	}

	return nil
}

func (r *Runner) finish(report *Report) *Report {
	report.Faults = r.faults
	report.FailedFaults = r.failedFaults
	report.Frames = r.kernel.Frames().Stats()
	report.TLBValid = r.sim.Machine().TLB.NumValid()

	for _, p := range r.kernel.Processes() {
		report.Processes = append(report.Processes, ProcessReport{
			Name:     p.Name,
			PID:      p.PID,
			State:    p.State(),
			ExitCode: p.ExitCode(),
			KilledBy: p.KilledBy(),
		})
	}

	return report
}
