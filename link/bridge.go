package link

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/prismmesh/core"
)

// Bridge forwards every pulse received on a to b and every pulse received on
// b to a, until either side closes or ctx ends. Malformed pulses are logged
// and dropped. Bridge becomes the receiving owner of both links and closes
// both before it returns.
//
// The returned error is nil when a link closed normally.
func Bridge(ctx context.Context, a, b *Link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	pump := func(from, to *Link) {
		defer wg.Done()
		defer cancel()
		for {
			p, err := from.ReceiveContext(ctx)
			if err != nil {
				if errors.Is(err, core.ErrProtocol) {
					from.logger.Warn("Dropping malformed pulse", "error", err)
					continue
				}
				if !isNormalStop(err) {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
				return
			}
			if err := to.Send(p); err != nil {
				if !isNormalStop(err) {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
				return
			}
		}
	}

	wg.Add(2)
	go pump(a, b)
	go pump(b, a)
	wg.Wait()

	_ = a.Close()
	_ = b.Close()

	return firstErr
}

func isNormalStop(err error) bool {
	return errors.Is(err, core.ErrConnectionClosed) || errors.Is(err, context.Canceled)
}
