package stage

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	moveRE  = regexp.MustCompile(`^([AM]):1([+-])P(\d+)$`)
	speedRE = regexp.MustCompile(`^D:1S(\d+)F(\d+)R(\d+)$`)
)

// simController answers the GSC-01 command set over one end of a pipe.
// Moves complete after BusyPolls ready queries
type simController struct {
	mu sync.Mutex

	pos       int64
	pending   *int64
	jog       int64
	busyPolls int
	busyLeft  int
	limitStop bool
	cmdErr    bool

	// travel is the range of the mechanical limit sensors, pulses
	travelMin, travelMax int64

	// log holds every line received
	log []string
}

func (s *simController) serve(conn net.Conn) {
	defer conn.Close()
	rdr := bufio.NewReader(conn)
	for {
		line, err := rdr.ReadString('\n')
		if err != nil {
			return
		}
		resp := s.handle(strings.TrimRight(line, "\r\n"))
		if _, err = conn.Write([]byte(resp + "\r\n")); err != nil {
			return
		}
	}
}

func (s *simController) handle(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, cmd)
	ok := func(b bool) string {
		s.cmdErr = !b
		if b {
			return "OK"
		}
		return "NG"
	}
	switch {
	case cmd == "Q:":
		sign := "+"
		p := s.pos
		if p < 0 {
			sign, p = "-", -p
		}
		flags := []string{"K", "K", "R"}
		if s.cmdErr {
			flags[0] = "X"
		}
		if s.limitStop {
			flags[1] = "L"
		}
		if s.busyLeft > 0 {
			flags[2] = "B"
		}
		return fmt.Sprintf("%s%9d,%s", sign, p, strings.Join(flags, ","))
	case cmd == "!:":
		if s.busyLeft > 0 {
			s.busyLeft--
			return "B"
		}
		return "R"
	case cmd == "H:1":
		s.pos, s.pending, s.limitStop = 0, nil, false
		s.busyLeft = s.busyPolls
		return ok(true)
	case cmd == "R:1":
		s.pos = 0
		return ok(true)
	case cmd == "G:":
		switch {
		case s.pending != nil:
			target := *s.pending
			s.pending = nil
			s.limitStop = false
			if target > s.travelMax {
				target, s.limitStop = s.travelMax, true
			} else if target < s.travelMin {
				target, s.limitStop = s.travelMin, true
			}
			s.pos = target
		case s.jog != 0:
			// a jog runs until stopped; model it as one step per G:
			s.pos += s.jog
			s.jog = 0
		default:
			return ok(false)
		}
		s.busyLeft = s.busyPolls
		return ok(true)
	case cmd == "L:1", cmd == "L:E":
		s.busyLeft, s.pending, s.jog = 0, nil, 0
		return ok(true)
	case cmd == "J:1+", cmd == "J:1-":
		s.jog = 1
		if strings.HasSuffix(cmd, "-") {
			s.jog = -1
		}
		return ok(true)
	case cmd == "C:11", cmd == "C:10":
		return ok(true)
	}
	if m := moveRE.FindStringSubmatch(cmd); m != nil {
		n, _ := strconv.ParseInt(m[3], 10, 64)
		if m[2] == "-" {
			n = -n
		}
		if m[1] == "M" {
			n += s.pos
		}
		s.pending = &n
		return ok(true)
	}
	if m := speedRE.FindStringSubmatch(cmd); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		return ok(lo >= MinSpeed && hi <= MaxSpeed && lo <= hi)
	}
	return ok(false)
}

func (s *simController) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// NewMock returns a GSC01 wired to an in-memory controller instead of a
// port.  The simulated stage has limit sensors one pulse outside the
// software limits and reports busy twice after each move starts
func NewMock(cfg Config) *GSC01 {
	g, _ := newMock(cfg)
	return g
}

func newMock(cfg Config) (*GSC01, *simController) {
	cfg.fillDefaults()
	if cfg.PollInterval > time.Millisecond {
		cfg.PollInterval = time.Millisecond
	}
	g := NewGSC01("mock", false, cfg)
	sim := &simController{
		busyPolls: 2,
		travelMin: g.MMToPulses(cfg.Limits.Min) - 1,
		travelMax: g.MMToPulses(cfg.Limits.Max) + 1,
	}
	client, server := net.Pipe()
	go sim.serve(server)
	g.Attach(client)
	// there is nothing to time out on in memory
	g.Timeout = 0
	return g, sim
}
