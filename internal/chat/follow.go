package chat

import (
	"context"
	"log"
)

// Follow reloads state whenever changes reports a document another process
// wrote. A change that arrives during a send is applied once the send
// finishes. Follow returns when ctx ends or changes is closed.
func (c *Controller) Follow(ctx context.Context, changes <-chan string) {
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	pending := false
	reload := func() {
		if c.Loading() {
			pending = true
			return
		}
		pending = false
		if err := c.Reload(ctx); err != nil {
			log.Printf("reload after external change failed: %v", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-changes:
			if !ok {
				return
			}
			log.Printf("store document %q changed elsewhere", key)
			reload()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == EventIdle && pending {
				reload()
			}
		}
	}
}
