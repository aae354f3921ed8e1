package simulation

import (
	"log"
	"os"

	"github.com/rs/xid"

	"github.com/sarchlab/omegavm/datarecording"
	"github.com/sarchlab/omegavm/kernel"
	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/monitoring"
	"github.com/sarchlab/omegavm/sim"
)

// Builder can be used to build a simulation.
type Builder struct {
	machineBuilder machine.Builder
	bootPages      uint32

	recordOn       bool
	outputFileName string

	monitorOn   bool
	monitorPort int

	verbose bool
	logger  *log.Logger
}

// MakeBuilder creates a new builder. Recording and monitoring are off by
// default.
func MakeBuilder() Builder {
	return Builder{
		machineBuilder: machine.MakeBuilder(),
	}
}

// WithRAMSize sets the amount of RAM of the machine.
func (b Builder) WithRAMSize(size uint32) Builder {
	b.machineBuilder = b.machineBuilder.WithRAMSize(size)
	return b
}

// WithKernelImageSize sets the size of the kernel image.
func (b Builder) WithKernelImageSize(size uint32) Builder {
	b.machineBuilder = b.machineBuilder.WithKernelImageSize(size)
	return b
}

// WithNumTLB sets the number of TLB entries.
func (b Builder) WithNumTLB(n int) Builder {
	b.machineBuilder = b.machineBuilder.WithNumTLB(n)
	return b
}

// WithBootPages sets how many pages the kernel steals at boot.
func (b Builder) WithBootPages(n uint32) Builder {
	b.bootPages = n
	return b
}

// WithRecording turns on recording the VM events into an SQLite database.
func (b Builder) WithRecording() Builder {
	b.recordOn = true
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
// It turns recording on.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.recordOn = true
	b.outputFileName = filename

	return b
}

// WithMonitoring turns on the monitoring server.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithVerbose prints every VM event to the logger, stderr by default.
func (b Builder) WithVerbose(logger *log.Logger) Builder {
	b.verbose = true
	b.logger = logger

	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{id: xid.New().String()}

	s.machine = b.machineBuilder.Build("Machine")
	s.kernel = kernel.MakeBuilder().
		WithMachine(s.machine).
		WithBootPages(b.bootPages).
		Build("Kernel")

	if b.verbose {
		logger := b.logger
		if logger == nil {
			logger = log.New(os.Stderr, "", 0)
		}

		s.attach(sim.NewEventLogger(logger))
	}

	if b.recordOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "omegavm_sim_" + s.id
		}

		s.dataRecorder = datarecording.New(outputPath)
		s.runInfo = datarecording.NewRunInfoRecorder(s.dataRecorder)
		s.runInfo.Start()
		s.attach(datarecording.NewVMRecorder(s.dataRecorder))
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}

		s.monitor.RegisterKernel(s.kernel)
		s.monitor.RegisterFrameTable(s.kernel.Frames())
		s.monitor.RegisterTLB(s.machine.TLB)
		s.monitor.RegisterComponent(s.kernel.Spaces())
		s.monitor.RegisterComponent(s.kernel.Faults())
		s.monitor.RegisterComponent(s.kernel)
	}

	return s
}
