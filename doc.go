// Package dwc lets independently written components find each other at
// run time, expose part of their state and behavior to each other, and
// mirror each other's properties.
//
// # Core Concepts
//
// A component type embeds *Component and declares its class once with
// Declare. The class names the component, lists the properties and methods
// other components may use, binds properties to other components, and
// designates the render method:
//
//	type List struct {
//	    *dwc.Component
//	}
//
//	var listClass = dwc.Declare[*List](dwc.ClassInfo{Name: "List"}).
//	    Bind("items", dwc.Binding{SourceComponentName: "Broker", SourceProperty: "list"}).
//	    Renderer("View")
//
//	func (l *List) View(ctx context.Context) templ.Component {
//	    return listView(dwc.Prop[[]string](l, "items"))
//	}
//
// Mount registers an instance in the store's registry under a fresh
// identifier and resolves its bindings. Unmount deregisters it and drops
// every subscription it holds.
//
// # Bindings
//
// A binding mirrors a property of another component into a property of
// this one. The source is named either by class name (the earliest
// registered instance wins) or by exact identifier (see
// Component.BindInstance). Bindings are resolved:
//
//   - once, synchronously, during Mount
//   - on every registry update while mounted
//   - after a source property change, debounced (DefaultDebounce)
//
// A source that goes away clears the target property. Slices, maps and
// struct pointers are shallow-copied into the target. The component
// renders once per pass that changed anything.
//
// # Gateway
//
// Registry.SetProperty and Registry.InvokeMethod let one mounted component
// set an exposed property or call an exposed method of another. Callers
// that are not registered get ErrUnauthorizedAccess; developer tooling uses
// the DevTools caller. Targets that are missing are ignored, since mount
// order between components is not coordinated.
//
// Every successful gateway call produces a TraceLogEntry on TopicTraceLog,
// but only while the trace log has subscribers.
//
// # Store
//
// Everything hangs off a Store: the registry, the event bus, the logger and
// the metrics. Instance returns the process-wide store; NewStore creates an
// isolated one for injection and tests.
//
//	store := dwc.Instance()
//	list := NewList(store)
//	if err := list.Mount(ctx); err != nil { ... }
//	defer list.Unmount(ctx)
package dwc
