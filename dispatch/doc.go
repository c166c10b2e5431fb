// Package dispatch correlates broker deliveries with asynchronous task
// execution.
//
// The Adapter runs on the transport goroutine. For each decoded message it
// routes the subject to a channel, copies the message into an owned Task and
// posts it to the worker pool. When the pool is full the delivery is rejected
// at once, which is the only backpressure signal the broker sees.
//
// The Handler runs on pool workers. Every task gets a Settlement guard that
// lets exactly one of ack or reject reach the broker; a deferred Finish
// rejects anything the handler did not settle itself.
//
// # Channels
//
//	Ping          {"message":"Ping"}                  -> {"message":"Pong"}, ack
//	GetAppInfo    any payload                         -> capability snapshot, ack
//	ProcessImage  {"modelId":0,"imageId":"..."}       -> progress*, Done|Fail
//
// ProcessImage emits zero or more progress frames
//
//	{"message":"42.00%:1830.50ms","status":"Progress"}
//
// followed by one terminal frame, {"message":"Done","status":"Done"} or
// {"message":"Fail","status":"Fail"}. Every frame carries the request's
// Correlation-Id header and goes to its Reply-To subject. Done is followed by
// an ack; Fail is settled according to the FailurePolicy. Undecodable
// requests are rejected without any response.
package dispatch
