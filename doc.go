// Package herald consumes events from a message broker and runs the handlers
// an application registered for each event type.
//
// Events travel as a JSON envelope {"id", "type", "payload"}. The topic of an
// event is the first dot-separated segment of its type, so "user.created"
// belongs to "user". A worker consumes one topic (or every topic with "*" or
// "#"), acknowledges each message once, and then dispatches it.
//
// Handlers come in three shapes:
//   - Class: a name defined with Herald.Define; embedding Queued makes the
//     class deferred, so executions are handed to the task facility
//   - Instance: a pre-built Handler value, always run inline
//   - Func: a closure, always run inline
//
// A deferred Instance cannot be serialised and is rejected at dispatch time
// with a RegistrationError while the remaining handlers still run. Messages
// without handlers fall back to the static topic mapping in Config.Topics and
// are announced on the EventBus as EventDispatched.
//
// # Transports
//
// Herald ships the following drivers, registered on import of this package:
//   - rabbitmq: topic or fanout exchange with a durable queue
//   - redis: stream with a consumer group
//   - nats-jetstream: JetStream stream with a durable pull consumer
//   - kafka, nats, aws (SNS/SQS), http, channel: Watermill-backed
//   - fake: records published messages for tests
//
// # Deferred execution
//
// With Config.TemporalAddress set, deferred handlers start a Temporal
// workflow per execution; run RegisterTemporalWorker in the worker process.
// Without it they are kept in an in-process MemoryQueue.
//
// # Testing
//
// Herald.Fake swaps every connection for an in-memory recorder;
// AssertPublished, AssertPublishedTimes and AssertNothingPublished check it
// using testify.
package herald
