// Package engine wires all relayq subsystems into a running instance.
//
// # Usage
//
//	d, err := relayq.New(relayq.WithStore(s))
//	if err != nil { ... }
//
//	eng, err := engine.Build(d,
//	    engine.WithKV(kvredis.New(client)),
//	    engine.WithExtension(audit.New(sink)),
//	)
//	if err != nil { ... }
//
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	j, err := engine.Enqueue(ctx, eng, "send-email", payload,
//	    job.WithQueue("critical"),
//	    job.WithIdempotencyKey("order-123:sendConfirmation"),
//	)
package engine
