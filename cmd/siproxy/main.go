package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/okasova/siproxy/config"
	"github.com/okasova/siproxy/proxy"
	"github.com/okasova/siproxy/registry"
	"github.com/okasova/siproxy/sip"
	"github.com/okasova/siproxy/transport"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file")
	debflag := flag.Bool("debug", false, "")
	ipFlag := flag.String("ip", "", "Advertised IP, overrides autodetection")
	portFlag := flag.Int("port", 0, "SIP listening port, overrides config")
	metricsFlag := flag.String("metrics", "", "Metrics HTTP address, overrides config")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	// The positional argument is the fallback IP, consulted only when the
	// host itself resolves to loopback.
	if flag.NArg() > 0 {
		cfg.FallbackIP = flag.Arg(0)
	}
	if *portFlag != 0 {
		cfg.Port = *portFlag
	}
	if *metricsFlag != "" {
		cfg.MetricsAddr = *metricsFlag
	}
	if *debflag {
		cfg.LogLevel = "debug"
	}

	stdin := bufio.NewScanner(os.Stdin)
	if !promptStart(stdin) {
		os.Exit(0)
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()

	logger.Info().Msg(time.Now().Format("Mon, 02 Jan 2006 15:04:05"))
	logger.Info().Str("instance", uuid.NewString()).Int("cpus", runtime.NumCPU()).Msg("Runtime")

	ipaddr := advertisedIP(cfg, *ipFlag, logger)
	fmt.Println("Address of SIP proxy: " + ipaddr)

	reg := registry.New(logger)
	promReg := prometheus.NewRegistry()
	metrics := proxy.NewMetrics(promReg)

	p := proxy.New(proxy.Options{
		IP:       ipaddr,
		Port:     cfg.Port,
		Registry: reg,
		Diary:    proxy.NewDiary(cfg.DiaryFile),
		Metrics:  metrics,
		Logger:   logger,
	})

	udp, err := transport.Listen(fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Fail to start sip proxy")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		go httpServer(cfg.MetricsAddr, promReg, logger)
	}

	go func() {
		if err := udp.Serve(p.HandlePacket); err != nil {
			logger.Error().Err(err).Msg("listener stopped")
		}
	}()
	fmt.Println("SIP proxy is running.")

	promptStop(stdin)
	fmt.Println("Shutdown of SIP proxy")
	udp.Close()
	os.Exit(0)
}

func setupLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file %s: %w", cfg.LogFile, err)
	}

	level := zerolog.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        f,
		TimeFormat: "15:04:05",
		NoColor:    true,
	}).With().Timestamp().Logger().Level(level)
	return logger, func() { f.Close() }, nil
}

// advertisedIP picks the address baked into Via and Record-Route: the -ip
// flag wins, then a non-loopback interface, then the configured fallback.
func advertisedIP(cfg *config.Config, override string, logger zerolog.Logger) string {
	if override != "" {
		return override
	}

	hostname, _ := os.Hostname()
	logger.Info().Msg(hostname)

	ip, err := sip.ResolveInterfacesIP("ip4")
	if err != nil {
		if cfg.FallbackIP == "" {
			fmt.Fprintln(os.Stderr, "host resolves to loopback only, pass a fallback IP")
			os.Exit(1)
		}
		logger.Info().Msg(cfg.FallbackIP)
		return cfg.FallbackIP
	}
	logger.Info().Msg(ip.String())
	return ip.String()
}

func promptStart(in *bufio.Scanner) bool {
	for {
		fmt.Print("Press Y if you want to start SIP proxy or N if you want to stop the execution. ")
		if !in.Scan() {
			return false
		}
		switch strings.ToUpper(strings.TrimSpace(in.Text())) {
		case "Y":
			return true
		case "N":
			return false
		}
	}
}

func promptStop(in *bufio.Scanner) {
	for {
		fmt.Print("Press Y if you want to stop SIP proxy. ")
		if !in.Scan() {
			return
		}
		if strings.ToUpper(strings.TrimSpace(in.Text())) == "Y" {
			return
		}
	}
}

func httpServer(address string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("Alive"))
	})
	mux.HandleFunc("/mem", func(w http.ResponseWriter, r *http.Request) {
		runtime.GC()
		stats := &runtime.MemStats{}
		runtime.ReadMemStats(stats)
		data, _ := json.MarshalIndent(stats, "", "  ")
		w.WriteHeader(200)
		w.Write(data)
	})

	logger.Info().Msgf("Http server started address=%s", address)
	http.ListenAndServe(address, mux)
}
