package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cast"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/generichttp"
	"github.com/nasa-jpl/msquared/generichttp/ascii"
	"github.com/nasa-jpl/msquared/generichttp/beam"
	"github.com/nasa-jpl/msquared/generichttp/motion"
	"github.com/nasa-jpl/msquared/generichttp/msq"
	"github.com/nasa-jpl/msquared/server/middleware/locker"
	"github.com/nasa-jpl/msquared/stage"
	"github.com/nasa-jpl/msquared/util"
)

// ObjSetup holds the typical triplet of args for a New<device> call.
// Serial is not always used, and need not be populated in the config file
// if not used.
type ObjSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Endpoint is the full path the routes from this device will be served on
	// ex. Endpoint="/bench/stage" will produce routes of /bench/stage/axis/1/pos, etc.
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Type is the "type" of the object, e.g. GSC01
	Type string `koanf:"Type" yaml:"Type"`

	// Args holds any arguments to pass into the constructor for the object
	Args map[string]interface{} `koanf:"Args" yaml:"Args"`
}

// Config is a struct that holds the initialization parameters for the
// HTTP adapted devices
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock replaces every device with its simulation
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Nodes is the list of nodes to set up
	Nodes []ObjSetup `koanf:"Nodes" yaml:"Nodes"`
}

// node is a device that has been set up, kept so later nodes can refer to it
type node struct {
	obj  interface{}
	lock *locker.Locker
}

/* parseLimits reads limits encoded as:
Args:
	Limits:
		"1":
			Min: 0
			Max: 1
		...

loosely typed, as YAML and the environment produce them
*/
func parseLimits(args map[string]interface{}) map[string]util.Limiter {
	out := map[string]util.Limiter{}
	if args == nil || args["Limits"] == nil {
		return out
	}
	for k, v := range cast.ToStringMap(args["Limits"]) {
		raw := cast.ToStringMap(v)
		out[k] = util.Limiter{Min: cast.ToFloat64(raw["Min"]), Max: cast.ToFloat64(raw["Max"])}
	}
	return out
}

func stageConfig(typ string, args map[string]interface{}) stage.Config {
	cfg := stage.DefaultConfig()
	if typ == "sgsp26-200" {
		cfg = stage.SGSP26200()
	}
	if v, ok := args["UmPerPulse"]; ok {
		cfg.UmPerPulse = cast.ToFloat64(v)
	}
	if v, ok := args["RequireHome"]; ok {
		cfg.RequireHome = cast.ToBool(v)
	}
	if v, ok := args["MoveTimeout"]; ok {
		cfg.MoveTimeout = cast.ToDuration(v)
	}
	if lim, ok := parseLimits(args)[stage.Axis]; ok {
		cfg.Limits = lim
	}
	return cfg
}

func lookup(nodes map[string]node, args map[string]interface{}, key string) (node, error) {
	ep := cast.ToString(args[key])
	if ep == "" {
		return node{}, nil
	}
	n, ok := nodes[generichttp.SubMuxSanitize(ep)]
	if !ok {
		return n, fmt.Errorf("%s %q is not configured above this node", key, ep)
	}
	return n, nil
}

// BuildMux constructs a chi router with a sub router for every node.
// The mux serves /endpoints, which returns every node's routes as JSON, and
// /metrics for prometheus
func BuildMux(c Config, reg prometheus.Registerer) (chi.Router, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	nodes := map[string]node{}

	for _, setup := range c.Nodes {
		var (
			httper generichttp.HTTPer
			obj    interface{}
			mw     []func(http.Handler) http.Handler
		)
		args := setup.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		mock := c.Mock || cast.ToBool(args["Mock"])
		typ := strings.ToLower(setup.Type)
		switch typ {
		case "gsc01", "gsc-01", "optosigma", "sgsp26-200":
			cfg := stageConfig(typ, args)
			var stg *stage.GSC01
			if mock {
				stg = stage.NewMock(cfg)
			} else {
				stg = stage.NewGSC01(setup.Addr, setup.Serial, cfg)
			}
			limiter := motion.LimitMiddleware{Limits: parseLimits(args), Mov: stg}
			httper = motion.NewHTTPMotionController(stg)
			mw = append(mw, limiter.Check)
			limiter.Inject(httper)
			ascii.InjectRawComm(httper, stg)
			obj = stg

		case "nanoscan", "beamprofiler":
			if !mock {
				return nil, fmt.Errorf("%s: only the simulated profiler is built in, set Mock", setup.Endpoint)
			}
			pos, err := lookup(nodes, args, "Stage")
			if err != nil {
				return nil, err
			}
			caus := beamprofiler.Caustic{
				W0:      cast.ToFloat64(args["W0"]),
				Z0:      cast.ToFloat64(args["Z0"]),
				MSquare: cast.ToFloat64(args["MSquare"]),
			}
			if caus.W0 == 0 {
				caus = beamprofiler.Caustic{W0: 50, Z0: 100, MSquare: 1}
			}
			wl := cast.ToFloat64(args["Wavelength"])
			if wl == 0 {
				wl = 1064
			}
			var positioner beamprofiler.Positioner
			if p, ok := pos.obj.(beamprofiler.Positioner); ok {
				positioner = p
			}
			sim := beamprofiler.NewSimulated(positioner, stage.Axis, wl, caus, cast.ToInt64(args["Seed"]))
			sim.Noise = cast.ToFloat64(args["Noise"])
			ns, err := beamprofiler.New(sim)
			if err != nil {
				return nil, err
			}
			httper = beam.NewHTTPProfiler(ns)
			obj = ns

		case "msq":
			o := msq.Options{Registerer: reg}
			if v, ok := args["CacheTTL"]; ok {
				o.CacheTTL = cast.ToDuration(v)
			}
			stg, err := lookup(nodes, args, "Stage")
			if err != nil {
				return nil, err
			}
			prof, err := lookup(nodes, args, "Profiler")
			if err != nil {
				return nil, err
			}
			if m, ok := stg.obj.(motion.Mover); ok {
				o.Stage, o.StageLock = m, stg.lock
			}
			if _, ok := stg.obj.(*stage.GSC01); ok {
				o.StageAxis = stage.Axis
			}
			if m, ok := prof.obj.(beamprofiler.WidthMeter); ok {
				o.Profiler, o.ProfilerLock = m, prof.lock
			}
			h, err := msq.NewHTTPMsq(o)
			if err != nil {
				return nil, err
			}
			httper = h
			obj = h

		default:
			return nil, fmt.Errorf("type %q not understood", typ)
		}

		// prepare the URL, "bench/stage" => "/bench/stage"
		hndlS := generichttp.SubMuxSanitize(setup.Endpoint)
		if _, dup := nodes[hndlS]; dup {
			return nil, fmt.Errorf("endpoint %s is used twice", hndlS)
		}

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)
		nodes[hndlS] = node{obj: obj, lock: lock}

		// add the endpoints to the graph after the lock routes exist
		supergraph[hndlS] = httper.RT().Endpoints()

		// bind to the mux
		r := chi.NewRouter()
		r.Use(mw...)
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	if g, ok := reg.(prometheus.Gatherer); ok {
		root.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return root, nil
}
