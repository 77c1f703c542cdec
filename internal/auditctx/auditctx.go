// Package auditctx carries request actor metadata through contexts and defines the
// best-effort sink used to record security decisions.
package auditctx

import "context"

// Actor captures contextual information about the caller that initiated a request.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Entry is a single audit event.
type Entry struct {
	UserID    string
	Action    string
	Resource  string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// FillFromActor copies actor fields from ctx into empty fields of the entry.
func (e Entry) FillFromActor(ctx context.Context) Entry {
	actor, ok := FromContext(ctx)
	if !ok {
		return e
	}
	if e.UserID == "" {
		e.UserID = actor.UserID
	}
	if e.IPAddress == "" {
		e.IPAddress = actor.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = actor.UserAgent
	}
	return e
}

// Sink records audit entries without blocking the caller. Failures are the sink's
// concern and never reach the caller.
type Sink interface {
	RecordAsync(ctx context.Context, entry Entry)
}
