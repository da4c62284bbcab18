// Package debuglog is the optional diagnostic sink: when enabled, every
// pipeline turn is written out as a timestamped, sequence-numbered markdown
// file under a configured directory. It is a pure sink, never read back by
// the core pipeline, and is consumed only through the narrow interface the
// orchestrator declares for itself.
package debuglog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/looplj/m365gateway/internal/log"
)

// Writer writes one markdown file per turn to dir. The zero value with an
// empty dir is a no-op sink.
type Writer struct {
	dir string
	seq atomic.Uint64
}

func New(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteTurn implements m365.DebugSink. Failures are logged, never returned:
// a broken debug sink must never fail a request.
func (w *Writer) WriteTurn(ctx context.Context, label string, payload []byte) {
	if w == nil || w.dir == "" {
		return
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		log.Warn(ctx, "debuglog: create directory failed", log.Cause(err))

		return
	}

	n := w.seq.Add(1)
	name := fmt.Sprintf("%s-%04d-%s.md", time.Now().UTC().Format("20060102T150405Z"), n, label)
	path := filepath.Join(w.dir, name)

	content := fmt.Sprintf("# %s\n\n```\n%s\n```\n", label, string(payload))

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		log.Warn(ctx, "debuglog: write file failed", log.Cause(err), log.String("path", path))
	}
}
