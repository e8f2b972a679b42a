// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
)

func fmtPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// TerminateRedis stops the shared Redis container, if one was started.
// Call it from TestMain after m.Run.
func TerminateRedis() {
	if redisContainer != nil {
		_ = redisContainer.Terminate(context.Background())
	}
}
