package health

import (
	"context"
	"io/fs"
	"time"
)

type fileStamp struct {
	size    int64
	modTime time.Time
}

// poller is the fallback change source: it rescans the monitored paths every
// poll interval and diffs size and modification time.
type poller struct {
	m    *Monitor
	seen map[string]fileStamp
}

func newPoller(m *Monitor) *poller {
	p := &poller{m: m, seen: make(map[string]fileStamp)}
	p.scan(false)
	return p
}

func (p *poller) Mode() string { return "polling" }

func (p *poller) Run(ctx context.Context) error {
	ticker := p.m.cfg.Clock.NewTicker(p.m.cfg.PollInterval)
	defer ticker.Stop()
	p.m.log.Info("polling scanner started", "root", p.m.cfg.Root, "interval", p.m.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			p.scan(true)
		}
	}
}

// scan walks the monitored paths once. With emit set, new and changed
// files are submitted and vanished files are forgotten.
func (p *poller) scan(emit bool) {
	current := make(map[string]fileStamp, len(p.seen))
	p.m.walkFiles(p.m.cfg.Root, func(abs, rel string, info fs.FileInfo) {
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
		current[abs] = stamp
		if !emit {
			return
		}
		prev, ok := p.seen[abs]
		switch {
		case !ok:
			p.m.Submit(Change{Kind: ChangeCreated, Path: abs})
		case prev.size != stamp.size || !prev.modTime.Equal(stamp.modTime):
			p.m.Submit(Change{Kind: ChangeModified, Path: abs})
		}
	})
	if emit {
		for abs := range p.seen {
			if _, ok := current[abs]; !ok {
				if rel, ok := p.m.relPath(abs); ok {
					p.m.registry.Forget(rel)
				}
			}
		}
	}
	p.seen = current
}
