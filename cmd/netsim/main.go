// Command netsim runs a topology described in a YAML scenario file
// through the discrete-event simulator and writes its event log (spec.md
// §6) to disk.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"

	"github.com/datawire/netsim/internal/runner"
)

func main() {
	logrusLogger := logrus.New()
	logrusLogger.SetLevel(logrus.InfoLevel)
	ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logrusLogger))

	if err := runner.Command().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
