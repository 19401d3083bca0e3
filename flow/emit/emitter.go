package emit

// Emitter receives execution events from the engine.
//
// Implementations must be safe for concurrent use: a run dispatches nodes in
// parallel and every dispatched node may emit. Emit must not block on slow
// sinks; buffer or drop instead, because the scheduling loop calls it
// inline.
//
// Provided implementations:
//   - LogEmitter: text or JSON lines to an io.Writer
//   - NullEmitter: discards everything
//   - BufferedEmitter: in-memory history with filtering, for tests and UIs
//   - OTelEmitter: one OpenTelemetry span per event
type Emitter interface {
	Emit(event Event)
}
