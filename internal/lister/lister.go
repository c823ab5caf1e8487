// Package lister enumerates the objects of one storage node through the
// paginated listing protocol and produces a deduplicated container path list.
package lister

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nodesync/nodesync/internal/metrics"
	"github.com/nodesync/nodesync/internal/node"
)

// PageSource fetches listing pages from one node.
type PageSource interface {
	Name() string
	ListPage(ctx context.Context, resource string, kind node.Kind, batch int, marker string) (*node.Page, error)
}

// Config configures a Lister.
type Config struct {
	Namespace     string
	ObjectSuffix  string
	BatchSize     int
	FolderWorkers int
	Metrics       *metrics.Metrics // Optional
	Logger        zerolog.Logger
}

// Lister enumerates one node.
type Lister struct {
	src           PageSource
	namespace     string
	suffix        string
	batch         int
	folderWorkers int
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// Result holds the outcome of one node enumeration.
type Result struct {
	Node    string
	Paths   []string // Sorted, deduplicated container paths (namespace/folder/object)
	Partial bool     // True when at least one resource enumeration was truncated
}

// New creates a Lister over the given page source.
func New(src PageSource, cfg Config) *Lister {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FolderWorkers <= 0 {
		cfg.FolderWorkers = 4
	}
	return &Lister{
		src:           src,
		namespace:     cfg.Namespace,
		suffix:        cfg.ObjectSuffix,
		batch:         cfg.BatchSize,
		folderWorkers: cfg.FolderWorkers,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With().Str("component", "lister").Str("node", src.Name()).Logger(),
	}
}

// ListNode enumerates folders and their objects and returns the deduplicated
// union of all successfully listed paths. A failure on one resource truncates
// only that resource; the result is then marked partial.
func (l *Lister) ListNode(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Node: l.src.Name()}

	folders, folderErr := l.listResource(ctx, l.namespace, node.KindDirectory)
	if folderErr != nil {
		l.logger.Warn().Err(folderErr).Msg("Folder listing truncated")
		res.Partial = true
	}

	var (
		mu    sync.Mutex
		paths = make(map[string]struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.folderWorkers)

	for _, folder := range folders {
		folder := folder
		g.Go(func() error {
			objects, err := l.listResource(gctx, l.namespace+"/"+folder, node.KindObject)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.logger.Warn().Err(err).Str("folder", folder).Msg("Object listing truncated")
				mu.Lock()
				res.Partial = true
				mu.Unlock()
			}
			mu.Lock()
			for _, obj := range objects {
				if strings.HasSuffix(obj, l.suffix) {
					paths[l.namespace+"/"+folder+"/"+obj] = struct{}{}
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Paths = make([]string, 0, len(paths))
	for p := range paths {
		res.Paths = append(res.Paths, p)
	}
	sort.Strings(res.Paths)

	if l.metrics != nil {
		l.metrics.PathsListed.WithLabelValues(res.Node).Add(float64(len(res.Paths)))
	}

	l.logger.Info().
		Int("folders", len(folders)).
		Int("paths", len(res.Paths)).
		Bool("partial", res.Partial).
		Msg("Node enumeration complete")

	return res, nil
}

// listResource walks one pagination sequence to completion and returns the
// entry names collected so far. On a page failure the names of all prior
// pages are returned together with the error.
//
// Termination: a page with zero entries ends the sequence; a page that
// carries no explicit cursor and is short of the batch size ends it too.
// A full page without an explicit cursor continues with the last entry name
// as marker (continuation is exclusive of the marker value).
func (l *Lister) listResource(ctx context.Context, resource string, kind node.Kind) ([]string, error) {
	var names []string
	marker := ""

	for {
		page, err := l.src.ListPage(ctx, resource, kind, l.batch, marker)
		if err != nil {
			if l.metrics != nil {
				l.metrics.ListErrors.WithLabelValues(l.src.Name()).Inc()
			}
			return names, err
		}
		if l.metrics != nil {
			l.metrics.ListPages.WithLabelValues(l.src.Name()).Inc()
		}
		if len(page.Entries) == 0 {
			return names, nil
		}

		for _, e := range page.Entries {
			if e.Kind == kind {
				names = append(names, e.Name)
			}
		}

		switch {
		case page.NextMarker != "":
			marker = page.NextMarker
		case len(page.Entries) < l.batch:
			return names, nil
		default:
			marker = page.Entries[len(page.Entries)-1].Name
		}
	}
}
