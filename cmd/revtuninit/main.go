// Command revtuninit is the initiator daemon: it dials a configured
// acceptor, performs the reverse-tunnel handshake, and keeps the underlying
// socket alive for the acceptor to reuse as an upstream, dialing again every
// redial interval.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/yaml.v2"

	"github.com/relaymesh/revtun/internal/address"
	"github.com/relaymesh/revtun/internal/initiator"
	"github.com/relaymesh/revtun/internal/revlog"
	"github.com/relaymesh/revtun/internal/wire"
)

// Config is the on-disk initiator daemon configuration.
type Config struct {
	AcceptorAddr string `yaml:"acceptor_addr"`
	NodeUUID     string `yaml:"node_uuid"`
	ClusterUUID  string `yaml:"cluster_uuid"`
	TenantUUID   string `yaml:"tenant_uuid"`

	RedialIntervalSeconds int  `yaml:"redial_interval_seconds"`
	LogSyslog             bool `yaml:"log_syslog"`
}

func (c *Config) redialInterval() time.Duration {
	if c.RedialIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RedialIntervalSeconds) * time.Second
}

func loadConfig(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("revtuninit: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("revtuninit: parse config %s: %w", path, err)
	}
	if cfg.NodeUUID == "" {
		return nil, fmt.Errorf("revtuninit: config missing required node_uuid")
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "/etc/revtuninit/config.yaml", "path to revtuninit config file")
	flag.Parse()

	log := revlog.SetupLogging("revtuninit", logging.INFO, os.Getenv("REVTUNINIT_LOG_SYSLOG") == "true")

	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)

	done := make(chan struct{})
	go runLoop(cfg, log, done)

	sig, ok := <-stopSignal
	close(done)
	if ok {
		log.Notice("revtuninit stopping with signal", sig)
	}
}

// runLoop dials and handshakes once per redial interval, after a success as
// well as after a failure, so each successful round leaves one more socket
// parked acceptor-side. It does not watch a parked socket for the peer going
// away. Each successful handshake hands the kernel FD to the acceptor for
// reuse; this daemon's own ClientConnection never releases it voluntarily.
func runLoop(cfg *Config, log *logging.Logger, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := dialAndHandshakeOnce(cfg, log); err != nil {
			log.Warningf("revtuninit: %v, redialing in %s", err, cfg.redialInterval())
		}

		select {
		case <-done:
			return
		case <-time.After(cfg.redialInterval()):
		}
	}
}

func dialAndHandshakeOnce(cfg *Config, log *logging.Logger) error {
	addr, err := address.ResolveSocketAddress(cfg.AcceptorAddr)
	if err != nil {
		return fmt.Errorf("resolve acceptor address: %w", err)
	}

	conn, err := initiator.Dial(addr, log)
	if err != nil {
		return fmt.Errorf("dial acceptor %s: %w", addr, err)
	}

	resp, err := conn.Handshake(&wire.Request{
		NodeUUID:    cfg.NodeUUID,
		ClusterUUID: cfg.ClusterUUID,
		TenantUUID:  cfg.TenantUUID,
	})
	if err != nil {
		conn.Release()
		return fmt.Errorf("handshake: %w", err)
	}
	if resp.Status != wire.StatusAccepted {
		conn.Release()
		return fmt.Errorf("handshake rejected: %s", resp.Text)
	}

	log.Noticef("revtuninit: handshake accepted for node=%s cluster=%s, socket parked acceptor-side", cfg.NodeUUID, cfg.ClusterUUID)
	conn.Close() // marks for closure only; the FD stays alive for the acceptor
	return nil
}
