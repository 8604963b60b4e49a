// Package command implements the deferred command scheduler.
//
// A Command is a unit of recovery work identified by a comparable Key and
// carrying a growable list of payload fragments. The Scheduler keeps a
// pending set of commands, each due at some point in the future, and a
// single worker goroutine executes due commands one at a time.
//
// Scheduling a command whose Key equals a pending command's Key is resolved
// by a Policy:
//
//   - PolicyMerge appends the new payload to the pending command and resets
//     its due time, so a burst collapses into one execution after the burst
//     goes quiet.
//   - PolicySkip keeps the pending command untouched and drops the new one.
//   - PolicyEnqueueSeparately always inserts an independent task.
//
// A task is removed from the pending set before its command runs, so a
// command may schedule an equal command from inside its own body.
//
// Basic usage:
//
//	s := command.NewScheduler(command.WithLogger(logger))
//	go s.Run(ctx)
//	defer s.Shutdown()
//
//	cmd := command.New(command.Key{Scope: "app", Name: "reinit", Target: "pkg.svc"},
//	    "pkg.svc.Foo", func(ctx context.Context, key command.Key, payloads []any) error {
//	        return reinitialize(ctx, payloads)
//	    })
//	_ = s.Schedule(cmd, 100*time.Millisecond, command.PolicyMerge)
package command
