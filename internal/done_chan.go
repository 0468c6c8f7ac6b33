package internal

import "sync"

// DoneChan closes once the work it represents has finished. It is the
// return type every component's Stop hands back to Lifecycle.TryStop so
// the two-phase drain (spec §4.3/§5) has something to wait on.
type DoneChan chan struct{}

// DoneFunc starts a stop and returns the DoneChan that signals when it
// completes, matching the shape Lifecycle.TryStop expects.
type DoneFunc func() DoneChan

func wrapWaitGroup(wg *sync.WaitGroup) DoneChan {
	ret := make(DoneChan)
	go func() {
		wg.Wait()
		close(ret)
	}()
	return ret
}

// Combine returns a DoneChan that closes once both first and second
// have closed, for components that must drain more than one
// sub-component before reporting themselves stopped.
func Combine(first DoneChan, second DoneChan) DoneChan {
	ret := make(DoneChan)
	go func() {
		<-first
		<-second
		close(ret)
	}()
	return ret
}
