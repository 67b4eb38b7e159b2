package supervisor

import (
	"context"
	"time"
)

func (s *Supervisor) SetSleep(f func(ctx context.Context, d time.Duration) error) {
	s.sleep = f
}

func (s *Supervisor) SetIDGenerator(f func() string) {
	s.newID = f
}

var SleepCtx = sleepCtx
