package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrEmptySource is returned when a run is dispatched with no SRS text.
var ErrEmptySource = errors.New("source text is empty")

// Dispatcher fans the four section roles out to the model concurrently and
// joins their results. A failed section never cancels its siblings; the
// dispatcher always returns one result per role.
type Dispatcher struct {
	Worker *Worker
	Events EventSink

	// Stagger delays each worker's start by its index times this duration,
	// spreading request bursts against the provider. Zero disables it.
	Stagger time.Duration
}

// Dispatch runs all roles against source and returns their results indexed
// by role. The returned error reports only pre-dispatch problems; per-role
// failures are carried inside the results.
func (d *Dispatcher) Dispatch(ctx context.Context, source string) ([NumRoles]SectionResult, error) {
	var results [NumRoles]SectionResult
	if strings.TrimSpace(source) == "" {
		return results, ErrEmptySource
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(NumRoles)

	for i, role := range Roles() {
		i, role := i, role
		g.Go(func() error {
			if d.Stagger > 0 && i > 0 {
				select {
				case <-time.After(time.Duration(i) * d.Stagger):
				case <-gctx.Done():
					results[i] = SectionResult{Role: role, Status: SectionFailed, Err: gctx.Err()}
					d.publishTerminal(role, results[i], int(done.Add(1)))
					return nil
				}
			}

			d.publish(Event{
				Stage:   role.Key(),
				Status:  EventStarted,
				Message: fmt.Sprintf("%s started", role.Label()),
				Percent: percent(int(done.Load())),
			})

			results[i] = d.Worker.Run(gctx, role, source)
			d.publishTerminal(role, results[i], int(done.Add(1)))
			return nil
		})
	}

	// Workers never return errors, so this only propagates a canceled ctx.
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (d *Dispatcher) publishTerminal(role Role, res SectionResult, terminal int) {
	ev := Event{
		Stage:   role.Key(),
		Percent: percent(terminal),
	}
	if res.Failed() {
		ev.Status = EventFailed
		ev.Message = fmt.Sprintf("%s failed", role.Label())
		if res.Err != nil {
			ev.Message = fmt.Sprintf("%s failed: %v", role.Label(), res.Err)
		}
	} else {
		ev.Status = EventCompleted
		ev.Message = fmt.Sprintf("%s completed", role.Label())
	}
	d.publish(ev)
}

func (d *Dispatcher) publish(ev Event) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(ev)
}

// percent maps a count of terminal workers onto the 0-100 progress scale.
func percent(terminal int) int {
	if terminal > NumRoles {
		terminal = NumRoles
	}
	return terminal * 100 / NumRoles
}
