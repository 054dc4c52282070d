// Package telemetry configures OpenTelemetry tracing and metrics export for
// corpora.
//
// Instrumented packages obtain tracers and meters from the otel globals at
// init time; New installs the SDK providers behind those globals when
// telemetry is enabled, so no package needs a handle to Telemetry.
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures never stop the process: the instance reports itself
// degraded and spans fall back to the no-op provider.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
