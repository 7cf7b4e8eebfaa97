// Command kernel boots the runtime: it sizes physical memory, brings
// up the requested number of CPUs, creates the first task, and drives
// each CPU's scheduler loop until interrupted. Flag parsing follows
// the standard library's flag package the way the example repos'
// command-line entry points do, rather than inventing a bespoke flag
// parser.
package main

import "flag"
import "fmt"
import "os"
import "os/signal"
import stdsyscall "syscall"
import "time"

import "github.com/HelenOS/helenos-sub030/caller"
import "github.com/HelenOS/helenos-sub030/klog"
import "github.com/HelenOS/helenos-sub030/mem"
import "github.com/HelenOS/helenos-sub030/sched"
import internalsys "github.com/HelenOS/helenos-sub030/syscall"
import "github.com/HelenOS/helenos-sub030/task"

var log = klog.Subsystem(klog.DefaultLogger(), "kernel")

// distinctPanics records each unique panic call chain seen so the
// backtrace for a given crash site is only printed once, even if the
// same bug is hit by many threads.
var distinctPanics = &caller.Distinct_caller_t{Enabled: true}

func main() {
	var (
		ncpu    = flag.Int("ncpu", 1, "number of CPUs to bring up")
		respgs  = flag.Int("respgs", 1<<16, "physical frames to reserve for the buddy allocator")
		taskNm  = flag.String("taskname", "init", "name of the first task created at boot")
		console = flag.Bool("console", false, "enable the debug console on stdin/stdout")
	)
	flag.TextVar(klog.Level, "loglevel", klog.Level, "log level: DEBUG, INFO, WARN, ERROR")
	flag.Parse()

	log.Info("booting",
		klog.Any("ncpu", *ncpu),
		klog.Any("respgs", *respgs))

	mem.Phys_init(*respgs)

	cpus := sched.StartSMP(*ncpu)
	stop := make(chan struct{})
	for _, c := range cpus {
		go runCPU(c, stop)
	}

	if *console {
		if _, err := internalsys.Dispatch(nil, nil, internalsys.SysDebugEnableConsole, [6]uint64{}); err != 0 {
			log.Warn("console enable failed", klog.Any("err", err))
		}
	}

	initTask, err := task.New(*taskNm)
	if err != 0 {
		log.Error("failed to create init task", klog.Any("err", err))
		os.Exit(1)
	}
	log.Info("init task created", klog.Any("pid", initTask.Pid), klog.Any("name", initTask.Name))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, stdsyscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(stop)
	time.Sleep(10 * time.Millisecond)
}

// runCPU drives one CPU's scheduler loop, recovering and logging a
// backtrace (once per distinct call chain) if a thread body panics,
// rather than taking the whole kernel down with it.
func runCPU(c *sched.Cpu_t, stop <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			if distinct, trace := distinctPanics.Distinct(); distinct {
				fmt.Fprintf(os.Stderr, "panic on cpu: %v\n%s", r, trace)
				caller.Callerdump(2)
			}
			go runCPU(c, stop)
		}
	}()
	sched.Idle(c, stop)
}
