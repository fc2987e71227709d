// Package manager wires the job execution subsystems together (the
// process catalog, handler registry, extension registry, middleware
// chain, worker pool, and optional retention sweeper) and exposes the
// job lifecycle operations: Submit, Status, Result, Dismiss, Delete,
// and List.
//
// The manager package exists to break an import cycle: the root geoapi
// package defines Entity (imported by job and the stores) and therefore
// cannot import those packages back. Manager sits above all subsystem
// packages and below the application layer.
//
// # Building a Manager
//
//	handlers := process.NewRegistry()
//	process.Register(handlers, process.NewGreeter())
//
//	mgr, err := manager.New(cat.Processes(), handlers, store,
//	    manager.WithConfig(cfg),
//	    manager.WithArtifacts(artifacts),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop(context.Background())
//
// # Submitting Jobs
//
//	// Asynchronous: returns as soon as the job is accepted.
//	j, err := mgr.Submit(ctx, "hello-world", params)
//
//	// Synchronous: blocks until the job is terminal or the timeout
//	// elapses, in which case the job keeps running in the background.
//	j, err := mgr.Submit(ctx, "hello-world", params, manager.Sync())
package manager
