package mesh

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/clockwork-mesh/clockwork/pkg/filter"
)

// FactGatherer lazily runs the gatherer scripts under Path on first use
// and caches the result for the lifetime of the run. A
// singleflight.Group collapses concurrent first-access callers onto one
// actual gather.
type FactGatherer struct {
	Path string

	sf    singleflight.Group
	mu    sync.Mutex
	facts filter.Facts
	done  bool
}

// Facts returns the gathered fact set, running the gatherer scripts on
// the very first call.
func (g *FactGatherer) Facts() (filter.Facts, error) {
	v, err, _ := g.sf.Do("gather", func() (any, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.done {
			return g.facts, nil
		}
		facts, err := g.run()
		if err != nil {
			return nil, err
		}
		g.facts = facts
		g.done = true
		return facts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(filter.Facts), nil
}

// run executes every regular file in Path and folds its "key=value"
// stdout lines into the fact set. A missing gatherer directory yields an
// empty (not an error) fact set.
func (g *FactGatherer) run() (filter.Facts, error) {
	facts := filter.Facts{}
	entries, err := os.ReadDir(g.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return facts, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out, err := exec.Command(filepath.Join(g.Path, e.Name())).Output()
		if err != nil {
			continue // one bad gatherer does not fail the whole run
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			facts[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return facts, nil
}
