package relay

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

var (
	ErrNotRunning = errors.New("embedded nats server is not running")
	ErrNotReady   = errors.New("embedded nats server is not ready for connections")
)

type embeddedConfig struct {
	ServerName    string `koanf:"servername"`
	ListenPort    int    `koanf:"listenport"` // 0 keeps the server in-process only
	StoreDir      string `koanf:"storedir"`
	EnableLogging bool   `koanf:"enablelogging"`
}

// EmbeddedServer runs a JetStream enabled NATS server inside the process,
// for tests and single binary deployments.
type EmbeddedServer struct {
	ns        *server.Server
	inProcess bool
}

// NewEmbeddedServer starts a server from the settings at cfgPath and waits
// until it accepts connections.
func NewEmbeddedServer(cfg *config.Configuration, cfgPath string) (*EmbeddedServer, error) {
	settings, err := config.Load(cfg, cfgPath, embeddedConfig{})
	if err != nil {
		return nil, err
	}

	serverOpts := &server.Options{
		ServerName: settings.ServerName,
		DontListen: settings.ListenPort == 0,
		Port:       settings.ListenPort,
		JetStream:  true,
		StoreDir:   settings.StoreDir,
	}

	ns, err := server.NewServer(serverOpts)
	if err != nil {
		return nil, stacktrace.Wrap(err)
	}
	if settings.EnableLogging {
		ns.ConfigureLogger()
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, stacktrace.Wrap(ErrNotReady)
	}

	return &EmbeddedServer{
		ns:        ns,
		inProcess: serverOpts.DontListen,
	}, nil
}

// Name returns the name of this task for the purposes of logging.
func (s *EmbeddedServer) Name() string {
	return "embedded_nats_server_" + s.ns.Name()
}

// Run blocks until ctx is done or the server stops, then shuts it down.
func (s *EmbeddedServer) Run(ctx context.Context) error {
	defer s.Close()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.ns.Running() {
				return stacktrace.Wrap(ErrNotRunning)
			}
		}
	}
}

// NewConnection opens a connection to the server. The caller must close it.
func (s *EmbeddedServer) NewConnection() (*nats.Conn, error) {
	var opts []nats.Option
	if s.inProcess {
		opts = append(opts, nats.InProcessServer(s.ns))
	}
	nc, err := nats.Connect(s.ns.ClientURL(), opts...)
	if err != nil {
		return nil, stacktrace.Wrap(err)
	}
	return nc, nil
}

// Close shuts the server down.
func (s *EmbeddedServer) Close() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
