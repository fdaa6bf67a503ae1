package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/atomlink"
	"github.com/danmuck/atomlink/internal/config"
	"github.com/danmuck/atomlink/internal/logging"
	"github.com/danmuck/atomlink/internal/observability"
	"github.com/danmuck/atomlink/internal/transport/serialport"
	"github.com/rs/zerolog/log"
)

type options struct {
	configPath string
	port       string
	baud       int
	metrics    string
	level      string
	list       bool
}

// command is one parsed atomctl invocation.
type command struct {
	name    string
	channel string
	data    []byte
	maxLen  int
	quick   bool
}

func main() {
	opts := parseFlags()
	if opts.list {
		ports, err := serialport.List()
		if err != nil {
			fatalf("%v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	cmd, err := parseCommand(flag.Args())
	if err != nil {
		fatalf("%v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		fatalf("%v", err)
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	observability.InitLogger("atomctl", level)

	if cfg.MetricsAddr != "" {
		srv := observability.ServeMetrics(cfg.MetricsAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	client, err := atomlink.Dial(cfg)
	if err != nil {
		fatalf("%v", err)
	}
	runErr := run(client, cmd)
	if err := client.Close(); err != nil {
		log.Warn().Msgf("atomctl.Close err=%v", err)
	}
	if runErr != nil {
		fatalf("%s: %v (kind=%s)", cmd.name, runErr, atomlink.KindOf(runErr))
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to atomctl TOML config")
	flag.StringVar(&opts.port, "port", "", "serial port (overrides config)")
	flag.IntVar(&opts.baud, "baud", 0, "baud rate (overrides config)")
	flag.StringVar(&opts.metrics, "metrics", "", "serve prometheus metrics on addr (overrides config)")
	flag.StringVar(&opts.level, "log", "", "log level (overrides config)")
	flag.BoolVar(&opts.list, "list", false, "list serial ports and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: atomctl [flags] info | connect [quick] | connected | sleep | send <channel> <data> | poll <channel> [max]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opts
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist) && opts.port != "":
			// -port alone is enough to run; a bad file is not.
			log.Warn().Msgf("atomctl.loadConfig path=%s missing, using defaults", opts.configPath)
		default:
			return config.Config{}, err
		}
	}
	if opts.port != "" {
		cfg.Serial.Port = opts.port
	}
	if opts.baud != 0 {
		cfg.Serial.Baud = serialport.Baud(opts.baud)
	}
	if opts.metrics != "" {
		cfg.MetricsAddr = opts.metrics
	}
	if opts.level != "" {
		cfg.LogLevel = opts.level
	}
	return cfg, config.Validate(cfg)
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("missing command")
	}
	cmd := command{name: strings.ToLower(args[0])}
	rest := args[1:]
	switch cmd.name {
	case "info", "connected", "sleep":
		if len(rest) != 0 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.name)
		}
	case "connect":
		if len(rest) > 1 || (len(rest) == 1 && rest[0] != "quick") {
			return command{}, errors.New("usage: connect [quick]")
		}
		cmd.quick = len(rest) == 1
	case "send":
		if len(rest) != 2 {
			return command{}, errors.New("usage: send <channel> <data>")
		}
		cmd.channel = rest[0]
		cmd.data = []byte(rest[1])
	case "poll":
		if len(rest) < 1 || len(rest) > 2 {
			return command{}, errors.New("usage: poll <channel> [max]")
		}
		cmd.channel = rest[0]
		if len(rest) == 2 {
			n, err := strconv.Atoi(rest[1])
			if err != nil || n <= 0 || n > atomlink.MaxPayload {
				return command{}, fmt.Errorf("max must be 1..%d", atomlink.MaxPayload)
			}
			cmd.maxLen = n
		}
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

func run(c *atomlink.Client, cmd command) error {
	switch cmd.name {
	case "info":
		info, err := c.Info()
		if err != nil {
			return err
		}
		fmt.Printf("firmware:  %s\n", info.FirmwareVersion)
		fmt.Printf("mac:       %016x\n", info.HardwareID)
		fmt.Printf("uptime:    %s\n", info.Uptime)
		fmt.Printf("time:      %s\n", info.Time.Format(time.RFC3339))
		fmt.Printf("radios:    %d\n", info.RadioCount)
		return nil
	case "connect":
		if err := c.Connect(cmd.quick, atomlink.PollRetries5s); err != nil {
			return err
		}
		fmt.Println("connected")
		return nil
	case "connected":
		ok, err := c.Connected()
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	case "sleep":
		return c.Sleep()
	case "send", "poll":
		return runChannel(c, cmd)
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func runChannel(c *atomlink.Client, cmd command) error {
	if err := c.Connect(true, atomlink.PollRetries5s); err != nil {
		return err
	}
	ch, err := c.OpenChannel(cmd.channel)
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			log.Warn().Msgf("atomctl.Channel close name=%s err=%v", cmd.channel, err)
		}
	}()
	if cmd.name == "send" {
		return ch.Send(cmd.data)
	}
	data, err := ch.Receive(cmd.maxLen)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		fmt.Println("(empty)")
		return nil
	}
	os.Stdout.Write(data)
	fmt.Println()
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "atomctl: "+format+"\n", args...)
	os.Exit(1)
}
