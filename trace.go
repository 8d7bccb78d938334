package dwc

import (
	"context"
	"time"

	"github.com/pthm/dwc/lib/eventbus"
)

// TraceType is the kind of activity a trace entry records.
type TraceType string

const (
	TraceMethodCall     TraceType = "METHOD_CALL"
	TracePropertyChange TraceType = "PROPERTY_CHANGE"
)

// DevToolsSourceID is the SourceID recorded for calls made by DevTools.
const DevToolsSourceID = "dwc:devtools"

// TraceLogEntry describes one property change or method call made through
// the registry gateway. Entries are only built while someone is subscribed
// to the trace log.
//
// SourceID and TargetID are component identifiers. Resolve display names
// with Registry.Lookup when presenting an entry; the source may be gone by
// then.
type TraceLogEntry struct {
	Date     time.Time `json:"date" msgpack:"date"`
	Type     TraceType `json:"type" msgpack:"type"`
	SourceID string    `json:"sourceId" msgpack:"sourceId"`
	TargetID string    `json:"targetId" msgpack:"targetId"`
	// Payload is a PropertyPayload or a MethodPayload, matching Type.
	Payload any `json:"payload" msgpack:"payload"`
}

// PropertyPayload is the payload of a PROPERTY_CHANGE entry.
type PropertyPayload struct {
	Property string `json:"property" msgpack:"property"`
	Value    any    `json:"value" msgpack:"value"`
}

// MethodPayload is the payload of a METHOD_CALL entry.
type MethodPayload struct {
	MethodName string `json:"methodName" msgpack:"methodName"`
	Args       []any  `json:"args" msgpack:"args"`
	Result     any    `json:"result" msgpack:"result"`
}

// Property returns the payload of a PROPERTY_CHANGE entry.
func (e TraceLogEntry) Property() (PropertyPayload, bool) {
	p, ok := e.Payload.(PropertyPayload)
	return p, ok
}

// Method returns the payload of a METHOD_CALL entry.
func (e TraceLogEntry) Method() (MethodPayload, bool) {
	p, ok := e.Payload.(MethodPayload)
	return p, ok
}

func newPropertyTrace(sourceID, targetID, property string, value any) TraceLogEntry {
	return TraceLogEntry{
		Date:     time.Now(),
		Type:     TracePropertyChange,
		SourceID: sourceID,
		TargetID: targetID,
		Payload:  PropertyPayload{Property: property, Value: value},
	}
}

func newMethodTrace(sourceID, targetID, method string, args []any, result any) TraceLogEntry {
	return TraceLogEntry{
		Date:     time.Now(),
		Type:     TraceMethodCall,
		SourceID: sourceID,
		TargetID: targetID,
		Payload:  MethodPayload{MethodName: method, Args: args, Result: result},
	}
}

// TraceReceiver adapts fn into a receiver for SubscribeTraceLog.
//
//	r := dwc.TraceReceiver("audit", func(ctx context.Context, e dwc.TraceLogEntry) {
//	    log.Printf("%s %s -> %s", e.Type, e.SourceID, e.TargetID)
//	})
//	store.Registry().SubscribeTraceLog(r)
func TraceReceiver(name string, fn func(ctx context.Context, entry TraceLogEntry)) *eventbus.Receiver {
	return eventbus.NewReceiver(name, func(ctx context.Context, args ...any) error {
		if len(args) == 0 {
			return nil
		}
		if entry, ok := args[0].(TraceLogEntry); ok {
			fn(ctx, entry)
		}
		return nil
	})
}
