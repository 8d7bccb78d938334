package dwc

import "context"

// Discoverable is implemented by component types that embed *Component.
// The method set is sealed: embedding is the only way to satisfy it.
//
//	type Broker struct {
//	    *dwc.Component
//	}
type Discoverable interface {
	base() *Component
}

// Caller identifies who initiates a gateway call. Every Discoverable is a
// Caller; DevTools is the only other one.
type Caller interface {
	base() *Component
}

type devToolsCaller struct{}

func (devToolsCaller) base() *Component { return nil }

// DevTools is the privileged caller used by developer tooling. Calls made
// with it skip the registration check and are traced with DevToolsSourceID.
var DevTools Caller = devToolsCaller{}

// Mounter is implemented by components that need to run code once they are
// registered. Returning an error unmounts the component again.
//
//	func (b *Broker) OnMount(ctx context.Context) error {
//	    b.Set("list", []string{})
//	    return nil
//	}
type Mounter interface {
	OnMount(ctx context.Context) error
}

// Unmounter is implemented by components that need to release resources
// after they are deregistered.
type Unmounter interface {
	OnUnmount(ctx context.Context)
}
