// Package simulation assembles a machine, its kernel and the optional
// recording and monitoring services.
package simulation

import (
	"context"
	"time"

	"github.com/sarchlab/omegavm/datarecording"
	"github.com/sarchlab/omegavm/kernel"
	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/monitoring"
	"github.com/sarchlab/omegavm/sim"
)

// A Simulation is a booted machine with its services.
type Simulation struct {
	id string

	machine *machine.Machine
	kernel  *kernel.Kernel

	dataRecorder datarecording.DataRecorder
	runInfo      *datarecording.RunInfoRecorder
	monitor      *monitoring.Monitor
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Machine returns the simulated hardware.
func (s *Simulation) Machine() *machine.Machine {
	return s.machine
}

// Kernel returns the booted kernel.
func (s *Simulation) Kernel() *kernel.Kernel {
	return s.kernel
}

// GetDataRecorder returns the data recorder, nil if recording is off.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor, nil if monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// SetRunInfo records a property of the run if recording is on.
func (s *Simulation) SetRunInfo(property, value string) {
	if s.runInfo != nil {
		s.runInfo.Set(property, value)
	}
}

// attach registers a hook with every VM component.
func (s *Simulation) attach(hook sim.Hook) {
	s.kernel.AcceptHook(hook)
	s.kernel.Frames().AcceptHook(hook)
	s.kernel.Spaces().AcceptHook(hook)
	s.kernel.Faults().AcceptHook(hook)
}

// Terminate stops the monitor and flushes the recorder.
func (s *Simulation) Terminate() {
	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = s.monitor.StopServer(ctx)
	}

	if s.dataRecorder != nil {
		s.runInfo.End()
		s.dataRecorder.Close()
	}
}
