// Package app wires the fontlens agent together and manages its lifecycle.
//
// # Initialization Flow
//
// NewApplication builds every component from a loaded config.Config:
//
//	1. Ensure the data and log directories exist
//	2. Initialize OpenTelemetry and runtime gauges
//	3. Open the kv store selected by storage.driver
//	4. Create the device identity, license client and license manager
//	5. Create the settings store, result cache and provider selector
//	6. Build the chi router and http.Server
//
// An unconfigured license service is not an error. The manager then reports
// NOT_CONFIGURED and gated routes stay locked.
//
// # Running
//
//	a, err := app.NewApplication(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer a.Close(context.WithoutCancel(ctx))
//	return a.Run(ctx)
//
// Run finishes the startup license check before the listener accepts
// connections, so the first request already sees a settled verdict.
//
// # Graceful Shutdown
//
// Cancelling the context passed to Run shuts the server down within
// server.shutdown_timeout. Close then releases the kv store and flushes
// telemetry. The package never calls os.Exit.
package app
