package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/msquared/caustic"
	"github.com/nasa-jpl/msquared/fitting"
	"github.com/nasa-jpl/msquared/stage"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "msqscan.yml"
	k              = koanf.New(".")
)

// DefaultConfig is used for any key missing from the file and environment
func DefaultConfig() Config {
	return Config{
		Stage:       "http://localhost:8000/bench/stage",
		Profiler:    "http://localhost:8000/bench/nanoscan",
		Axis:        stage.Axis,
		Start:       90,
		Stop:        110,
		Step:        1,
		Samples:     caustic.DefaultSamples,
		Settle:      200 * time.Millisecond,
		PositionErr: 0.001,
		Backend:     "odr",
		Mode:        "msq",
		Wavelength:  1064,
		RelErr:      0.01,
		Output:      "caustic",
		Gzip:        true,
	}
}

// envKey maps MSQSCAN_STAGE, MSQSCAN_PROFILER and MSQSCAN_OUTPUT onto their keys
func envKey(s string) string {
	switch strings.TrimPrefix(s, "MSQSCAN_") {
	case "STAGE":
		return "Stage"
	case "PROFILER":
		return "Profiler"
	case "OUTPUT":
		return "Output"
	}
	return ""
}

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider("MSQSCAN_", ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func loadConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `msqscan measures and fits the M² of a laser beam.

Usage:
	msqscan <command>

Commands:
	scan        step a remote profiler through the focus and fit the caustic
	fit <csv>   fit a caustic from a file of z, w[, werr[, zerr]] rows
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `msqscan is configured with msqscan.yml in the working directory.  Stage and
Profiler are the URLs of nodes served by msqserver.  The STAGE, PROFILER and
OUTPUT keys may be overridden by MSQSCAN_STAGE, MSQSCAN_PROFILER and
MSQSCAN_OUTPUT.

Positions are in mm, widths in µm and the wavelength in nm.  Mode is one of
msq, msq-lambda or iso and Backend one of odr or curvefit.

scan writes <Output>.fits(.gz) holding the caustic and the fit results, and
<Output>-x.png and <Output>-y.png for every axis that fit.

fit reads CSV, the first row may be a header.  Without a werr column the
widths are taken to have the relative uncertainty RelErr.`
	fmt.Println(str)
}

func mkconf() {
	c := loadConfig()
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
	c := loadConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("msqscan version %v\n", Version)
}

func scan() {
	c := loadConfig()
	fc, err := c.FitConfig()
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	sc, err := Measure(ctx, c)
	if err != nil {
		if sc == nil || len(sc.Points) == 0 {
			log.Fatal(err)
		}
		// keep what was measured
		log.Printf("scan stopped after %d points: %v", len(sc.Points), err)
		paths, werr := WriteOutputs(c, sc, nil)
		if werr != nil {
			log.Println(werr)
		}
		log.Printf("wrote %s", strings.Join(paths, ", "))
		os.Exit(1)
	}
	an, err := caustic.Analyze(sc, fc, true)
	for _, res := range []caustic.AxisResult{an.X, an.Y} {
		if !res.OK() {
			log.Printf("%s: %v", res.Axis, res.Err)
			continue
		}
		fmt.Printf("--- %s ---\n", res.Axis)
		if rerr := res.Fitter.Report(os.Stdout); rerr != nil {
			log.Println(rerr)
		}
	}
	paths, werr := WriteOutputs(c, sc, &an)
	if werr != nil {
		log.Fatal(werr)
	}
	log.Printf("wrote %s", strings.Join(paths, ", "))
	if err != nil {
		os.Exit(1)
	}
}

func fit(args []string) {
	if len(args) != 1 {
		log.Fatal("usage: msqscan fit <file.csv>")
	}
	c := loadConfig()
	m, err := FitFile(args[0], c, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	p, err := fitting.PlotFit(m.Fitter(), 200)
	if err != nil {
		log.Fatal(err)
	}
	png := strings.TrimSuffix(args[0], ".csv") + ".png"
	if err = fitting.SavePlot(p, png); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", png)
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
	case "scan":
		scan()
		return
	case "fit":
		fit(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
