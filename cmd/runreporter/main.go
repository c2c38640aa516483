package main

import (
	"os"

	"github.com/youssefjedidi/airport-operations-pipeline/internal/app"
)

// runreporter executes the daily reporter job exactly once; see runmonitor
// for the invocation contract.
func main() {
	os.Exit(app.RunOnce("reporter"))
}
