package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/golang/glog"
)

const (
	timeFormat     = "20060102_150405"
	memProfileRate = 4096
)

// profiler records cpu, heap and mutex profiles between start and stop.
type profiler struct {
	dir     string
	closers []func()
}

func startProfiler(dir string) *profiler {
	p := &profiler{dir: dir}

	if f := p.create("cpu"); f != nil {
		if err := pprof.StartCPUProfile(f); err != nil {
			glog.Errorf("pprof: start cpu profile error: %v", err)
			f.Close()
		} else {
			p.closers = append(p.closers, func() {
				pprof.StopCPUProfile()
				f.Close()
			})
		}
	}

	if f := p.create("heap"); f != nil {
		old := runtime.MemProfileRate
		runtime.MemProfileRate = memProfileRate
		p.closers = append(p.closers, func() {
			_ = pprof.Lookup("heap").WriteTo(f, 0)
			f.Close()
			runtime.MemProfileRate = old
		})
	}

	if f := p.create("mutex"); f != nil {
		runtime.SetMutexProfileFraction(1)
		p.closers = append(p.closers, func() {
			_ = pprof.Lookup("mutex").WriteTo(f, 0)
			f.Close()
			runtime.SetMutexProfileFraction(0)
		})
	}

	glog.Infof("pprof: profiling started, dir: %s", dir)
	return p
}

func (p *profiler) stop() {
	for _, closer := range p.closers {
		closer()
	}
	p.closers = nil
	glog.Infof("pprof: profiling stopped, dir: %s", p.dir)
}

func (p *profiler) create(kind string) *os.File {
	name := filepath.Join(p.dir, fmt.Sprintf("%s-%s.pprof", kind, time.Now().Format(timeFormat)))
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("pprof: create %s error: %v", name, err)
		return nil
	}
	return f
}

func dumpGoroutines(dir string) {
	name := filepath.Join(dir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(timeFormat)))
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("pprof: create %s error: %v", name, err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("pprof: dump goroutines error: %v", err)
		return
	}
	glog.Infof("pprof: goroutines dumped to %s", name)
}
