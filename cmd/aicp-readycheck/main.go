// Command aicp-readycheck runs the startup readiness probe standalone,
// for use as a container healthcheck or pre-deploy gate.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agenthub/aicp/internal/config"
	"github.com/agenthub/aicp/internal/diagnostics"
)

func main() {
	cfg := config.Load()
	dataPaths := []string{
		cfg.GetString("identity.db_path"),
		cfg.GetString("delegation.db_path"),
		cfg.GetString("idempotency.db_path"),
		cfg.GetString("lease.db_path"),
		cfg.GetString("quota.db_path"),
	}

	report := diagnostics.Evaluate(diagnostics.FromProcess(), dataPaths)

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "aicp-readycheck: failed to encode report: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(encoded))

	if !report.StartupReady {
		os.Exit(2)
	}
}
