package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "msqserver.yml"
	k              = koanf.New(".")
)

// envKey maps MSQ_ADDR and MSQ_MOCK onto the top level keys; the node list
// can only be set from the file
func envKey(s string) string {
	switch strings.TrimPrefix(s, "MSQ_") {
	case "ADDR":
		return "Addr"
	case "MOCK":
		return "Mock"
	}
	return ""
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:  ":8000",
		Nodes: []ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider("MSQ_", ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func root() {
	str := `msqserver exposes a linear stage, a beam profiler and an M² fitter over HTTP.
Clients can fit caustics they measured themselves, or have the server step the
profiler through the focus and fit the result.

Usage:
	msqserver <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `msqserver is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

The Addr and Mock keys may also be set with the MSQ_ADDR and MSQ_MOCK
environment variables, which take precedence over the file.

No two endpoints can have the same URL.

URLs may look like any variation between "bench/stage" or "/bench/stage/*", the leading
and trailing slashes, as well as the *, are added by the server if missing.

Hardware and matching "type" fields, case insensitive:
- OptoSigma
	> GSC-01 single axis controller "gsc01", "gsc-01", "optosigma"
	> GSC-01 with an SGSP26-200 stage "sgsp26-200"
- Ophir
	> NanoScan scanning slit profiler "nanoscan", "beamprofiler" (simulated)
- M² fitting and caustic scans "msq"

Nodes that refer to others must come after them in the list.

Example:
Addr: ":8000"
Mock: true
Nodes:
  - Type: gsc01
    Endpoint: bench/stage
    Addr: /dev/ttyUSB0
    Serial: true
    Args:
      UmPerPulse: 2
      Limits:
        "1":
          Min: 0
          Max: 200
  - Type: nanoscan
    Endpoint: bench/nanoscan
    Args:
      Stage: bench/stage
      Wavelength: 1064
      W0: 50
      Z0: 100
      MSquare: 1.2
      Noise: 0.005
  - Type: msq
    Endpoint: bench/msq
    Args:
      Stage: bench/stage
      Profiler: bench/nanoscan
      CacheTTL: 5m`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("msqserver version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if len(c.Nodes) == 0 {
		log.Fatal("no nodes are configured, see msqserver help")
	}
	mux, err := BuildMux(c, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
