// Package natsclient is the gateway's NATS connection layer. Every listener
// and publisher talks to the robot's bus through one Client, which adds the
// reliability pieces the bare NATS client leaves to the caller.
//
// # What the Client adds
//
// Circuit breaker: after a run of dial failures (default 5) the circuit
// opens and Connect fails fast with ErrCircuitOpen instead of hammering an
// unreachable server. Each open round doubles the retry window, capped at
// one minute, and the circuit half-opens once the window elapses.
//
// Liveness watchdog: a ticker probes the server round-trip while connected.
// A TCP session that is up but no longer answering degrades the status to
// reconnecting, so health reporting does not lie about a half-dead link. An
// optional disconnect callback lets callers observe drops as they happen.
//
// Subject inventory: NATS cannot enumerate active subjects, so StartInventory
// runs a wildcard tap that records every distinct subject seen under a
// namespace root. KnownSubjects returns a sorted snapshot; the sensor
// discovery manager polls it to find announcement channels.
//
// One-shot subscriptions: SubscribeOnce arms a subscription the server tears
// down after exactly one delivery. Announcement messages are consumed
// at-most-once without any client-side bookkeeping.
//
// Handlers run with a per-message context that expires after 30 seconds, so
// a stuck handler cannot wedge the subscription.
//
// # Usage
//
// A typical gateway startup:
//
//	bus, err := natsclient.NewClient(url,
//	    natsclient.WithName("xbot-monitoring"),
//	    natsclient.WithCircuitBreakerThreshold(10),
//	    natsclient.WithDisconnectCallback(func(err error) {
//	        slog.Warn("bus connection dropped", "error", err)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := bus.Connect(ctx); err != nil {
//	    return err
//	}
//	defer bus.Close(ctx)
//
//	err = bus.Subscribe(ctx, "xbot.sensors.*.data", onSensorData)
//
// Discovery polls the inventory instead of subscribing blind:
//
//	if err := bus.StartInventory("xbot.>"); err != nil {
//	    return err
//	}
//	for _, subject := range bus.KnownSubjects() {
//	    // match subject against the announcement pattern
//	}
//
//	// Consume exactly one announcement, then the subscription is gone:
//	sub, err := bus.SubscribeOnce(ctx, "xbot.sensors.battery_v.info", onInfo)
//
// # Concurrency
//
// All exported methods are safe for concurrent use. Connection state uses
// atomics; the subscription list and inventory are mutex-guarded.
package natsclient
