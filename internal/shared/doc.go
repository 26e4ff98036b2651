// Package shared holds helpers used across the fontlens packages that belong
// to no single domain.
//
// The testutil subpackage provides a buffered slog handler for asserting on
// log output and a manual clock for time-dependent tests:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    clock := testutil.NewClock(time.Now())
//	    ...
//	    testutil.AssertLogContains(t, logs, slog.LevelWarn, "offline grace")
//	}
//
// Nothing here may import a domain package.
package shared
