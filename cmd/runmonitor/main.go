package main

import (
	"os"

	"github.com/youssefjedidi/airport-operations-pipeline/internal/app"
)

// runmonitor executes the flight monitor job exactly once. It takes no
// arguments: interpreter, script and log locations all derive from where this
// binary is installed, so cron can invoke it from any working directory.
func main() {
	os.Exit(app.RunOnce("monitor"))
}
