package agent

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/forkops/forkd"
)

// Loop triggers the agent periodically, and sooner when asked. Runs
// are strictly sequential; a trigger arriving during a run is
// coalesced into at most one pending run.
type Loop struct {
	Agent    *Agent
	Interval time.Duration
	Logger   log.Logger

	initOnce sync.Once
	runSoon  chan forkd.Trigger
}

func (l *Loop) ensureInit() {
	l.initOnce.Do(func() {
		l.runSoon = make(chan forkd.Trigger, 1)
	})
}

func (l *Loop) Run(stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	l.ensureInit()

	timer := time.NewTimer(l.Interval)
	defer timer.Stop()

	// Check straight away on startup.
	l.AskForRun(forkd.Trigger{Cause: "startup"})

	for {
		select {
		case <-stop:
			l.Logger.Log("stopping", "true")
			return
		case trigger := <-l.runSoon:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if _, err := l.Agent.Run(context.Background(), trigger); err != nil && err != forkd.ErrConcurrentExecution {
				l.Logger.Log("err", err)
			}
			timer.Reset(l.Interval)
		case <-timer.C:
			l.AskForRun(forkd.Trigger{Cause: "schedule"})
			timer.Reset(l.Interval)
		}
	}
}

// AskForRun requests a run as soon as possible. Reports whether the
// request was accepted; false means a run is already pending.
func (l *Loop) AskForRun(trigger forkd.Trigger) bool {
	l.ensureInit()
	select {
	case l.runSoon <- trigger:
		return true
	default:
		return false
	}
}
