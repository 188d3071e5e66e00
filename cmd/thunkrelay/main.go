// Command thunkrelay keeps a store fed by actions relayed over NATS
// JetStream and serves its state, recent actions and metrics over HTTP.
package main

import (
	"embed"

	"github.com/zircuit-labs/zkr-go-thunk/runner"
)

//go:embed settings.toml
var settings embed.FS

func main() {
	runner.Run("thunkrelay", settings, run)
}
