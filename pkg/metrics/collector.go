package metrics

import (
	"time"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/volume"
)

// Collector periodically samples the container tree and volume holder
// to refresh the gauge metrics that aren't naturally updated from the
// request path (ContainersTotal, VolumesTotal).
type Collector struct {
	tree   *container.Tree
	holder *volume.Holder
	stopCh chan struct{}
}

// NewCollector builds a collector over tree and holder. holder may be
// nil if the daemon is run without volume support configured.
func NewCollector(tree *container.Tree, holder *volume.Holder) *Collector {
	return &Collector{
		tree:   tree,
		holder: holder,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection on its own goroutine, independent
// of the request-handling event loop — sampling gauges is not on the
// single-threaded request path spec.md §5 describes.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectContainers()
	c.collectVolumes()
}

func (c *Collector) collectContainers() {
	counts := make(map[string]int)
	for _, ct := range c.tree.List() {
		counts[ct.State()]++
	}
	for _, state := range []string{"Stopped", "Starting", "Running", "Paused", "Dead", "Meta"} {
		ContainersTotal.WithLabelValues(state).Set(float64(counts[state]))
	}
}

func (c *Collector) collectVolumes() {
	if c.holder == nil {
		return
	}
	counts := make(map[string]int)
	for _, v := range c.holder.List() {
		counts[v.Backend()]++
	}
	for _, backend := range []string{"plain", "native", "overlay", "loop"} {
		VolumesTotal.WithLabelValues(backend).Set(float64(counts[backend]))
	}
}
