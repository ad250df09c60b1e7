package pagecache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Invalidator revalidates a group of tags with flood protection.
type Invalidator struct {
	sync.Mutex

	// SkipInterval defines minimal duration between two invalidations, default 15s.
	SkipInterval time.Duration

	// Tags are revalidated on Invalidate.
	Tags []string

	// Target revalidates tags, usually *CacheHandler.
	Target TagRevalidator

	lastRun time.Time
}

// Invalidate revalidates tags in target.
func (i *Invalidator) Invalidate(ctx context.Context) error {
	if len(i.Tags) == 0 || i.Target == nil {
		return ErrNothingToInvalidate
	}

	i.Lock()
	defer i.Unlock()

	if i.SkipInterval == 0 {
		i.SkipInterval = 15 * time.Second
	}

	if time.Since(i.lastRun) < i.SkipInterval {
		return fmt.Errorf("%w at %s, %s did not pass",
			ErrAlreadyInvalidated, i.lastRun.String(), i.SkipInterval.String())
	}

	i.lastRun = time.Now()

	return i.Target.RevalidateTag(ctx, i.Tags...)
}
