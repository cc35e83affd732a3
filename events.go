package modctx

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent types emitted while a context bootstraps.
const (
	EventTypeModuleBootstrapping = "com.modctx.module.bootstrapping"
	EventTypeModuleBootstrapped  = "com.modctx.module.bootstrapped"
	EventTypeContextBootstrapped = "com.modctx.context.bootstrapped"
)

// Observer is notified of bootstrap events. Beans implementing Observer in
// any scope of the context are notified as well as observers registered on
// the context. An error returned by an observer fails the bootstrap.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID identifies the observer; an observer reachable both as a
	// bean and through registration is notified once.
	ObserverID() string
}

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer calling handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string { return f.id }

// ModuleEventData is the payload of the module events.
type ModuleEventData struct {
	ContextID string      `json:"contextId"`
	Module    *ModuleInfo `json:"module"`
}

// newEvent builds a CloudEvent with a time-ordered id.
func newEvent(eventType, source string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// generateEventID returns a UUIDv7, falling back to v4.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// moduleEvent builds a before or after module bootstrap event.
func moduleEvent(eventType, contextID string, info *ModuleInfo) cloudevents.Event {
	event := newEvent(eventType, "modctx/"+contextID, ModuleEventData{ContextID: contextID, Module: info})
	event.SetSubject(info.Name)
	event.SetExtension("moduleindex", info.Index)
	return event
}

// contextEvent builds the context bootstrapped event.
func contextEvent(info *ContextInfo) cloudevents.Event {
	return newEvent(EventTypeContextBootstrapped, "modctx/"+info.ID, info)
}

// notify delivers event to every observer, stopping at the first error.
func notify(ctx context.Context, observers []Observer, event cloudevents.Event) error {
	for _, o := range observers {
		if err := o.OnEvent(ctx, event); err != nil {
			return fmt.Errorf("observer %s failed on %s: %w", o.ObserverID(), event.Type(), err)
		}
	}
	return nil
}
