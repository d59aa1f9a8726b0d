// Package conversation relays chat events to live viewers.
//
// # Events
//
// Event is a closed union of HelloEvent, MessageEvent, DeleteEvent and
// ClearEvent. Encode and Decode convert them to and from the JSON carried
// in SSE data lines:
//
//	{"type":"hello","roomId":42,"now":1700000000000}
//	{"type":"message","msg":{...}}
//	{"type":"delete","id":17}
//	{"type":"clear"}
//
// # Hub
//
// Hub is an in-memory publish/subscribe registry keyed by room id:
//
//	sub := hub.Subscribe(room, func(ev conversation.Event) { ... })
//	defer sub.Unsubscribe()
//	hub.Publish(room, conversation.MessageEvent{Message: msg})
//
// Publish delivers synchronously to the handlers registered at the time of
// the call. Every subscriber of a room sees publishes in the same order.
// Nothing is buffered or replayed; a viewer that was not subscribed when an
// event was published will only see its effect through history.
package conversation
