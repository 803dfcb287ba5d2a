// Package runtimesource reports Go runtime statistics for the process that
// served the request.
//
// Claimed fields: memoryUsage, userData["runtime"].
package runtimesource

import (
	"context"
	"runtime"

	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/model"
)

const Name = "runtime"

type DataSource struct {
	datasource.Base
	read func(*runtime.MemStats)
}

func New() *DataSource {
	return &DataSource{read: runtime.ReadMemStats}
}

func (d *DataSource) Resolve(_ context.Context, req *model.Request) error {
	var ms runtime.MemStats
	d.read(&ms)

	req.MemoryUsage = ms.HeapAlloc
	req.Tab(Name).SetTitle("Runtime").Counters(map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"heapAlloc":  ms.HeapAlloc,
		"heapInuse":  ms.HeapInuse,
		"sys":        ms.Sys,
		"gcCycles":   ms.NumGC,
	}).Data("Go", map[string]any{
		"version": runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
		"cpus":    runtime.NumCPU(),
	})
	return nil
}

type Factory struct{}

func (Factory) Name() string { return Name }

func (Factory) Description() string {
	return "Go runtime memory and scheduler statistics."
}

func (Factory) Create(datasource.Config) (datasource.DataSource, error) {
	return New(), nil
}

func init() {
	datasource.GlobalRegistry.Register(Factory{})
}
