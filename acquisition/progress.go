package acquisition

import (
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// StderrIsTerminal reports whether a progress bar can be drawn.
func StderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// tracker reports task completion either as a bar or as log lines.
type tracker struct {
	total    int
	every    int
	logger   *log.Entry
	progress *mpb.Progress
	bar      *mpb.Bar

	mutex     sync.Mutex
	completed int
}

func newTracker(total int, showBar bool, every int, logger *log.Entry) *tracker {
	t := &tracker{total: total, every: every, logger: logger}
	if showBar && total > 0 {
		t.progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		t.bar = t.progress.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name("Acquiring: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.AverageETA(decor.ET_STYLE_GO),
			),
		)
	}
	return t
}

func (t *tracker) done() {
	if t.bar != nil {
		t.bar.Increment()
		return
	}
	t.mutex.Lock()
	t.completed++
	n := t.completed
	t.mutex.Unlock()
	if n%t.every == 0 || n == t.total {
		t.logger.Infof("acquired %d/%d songs", n, t.total)
	}
}

func (t *tracker) wait() {
	if t.progress != nil {
		t.progress.Wait()
	}
}
