// Package app hosts the pub/sub transport of one process.
//
// An App owns a single [pubsub.Factory], so every namespace the process
// serves shares one subscription on the topic. Namespaces are opened with
// [App.Namespace], which returns once the subscription exists.
//
// # Basic Usage
//
//	app, err := app.Run(app.Config{
//	    Topic: natsTopic,
//	},
//	    app.Namespace{Name: "/", Handler: rootHandler},
//	    app.Namespace{Name: "/admin", Handler: adminHandler},
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	root, _ := app.Adapter("/")
//	_, err = root.Publish(ctx, cluster.Message{Type: cluster.MsgBroadcast, Data: payload})
//
//	// Graceful shutdown deletes the subscription
//	app.Shutdown(ctx)
//
// # Restarts
//
// Every App creates a fresh subscription. A restarted process therefore
// starts at the head of the topic and never replays frames published while it
// was down.
package app
