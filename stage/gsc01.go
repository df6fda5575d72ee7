/*Package stage drives OptoSigma GSC-01 single axis stepper controllers and
the SGSP26-200 linear stage they are usually paired with.

The controller speaks CRLF terminated ASCII at 9600 8N1.  Every command is
answered with OK or NG, except the two status queries.  Moves are staged
by one command and started by G:, for example

	A:1+P1000  stage an absolute move to +1000 pulses
	G:         drive

Positions at this package's interface are in mm; the controller works in
pulses and the conversion is set by Config.UmPerPulse.
*/
package stage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/msquared/comm"
	"github.com/nasa-jpl/msquared/mathx"
	"github.com/nasa-jpl/msquared/util"
)

const (
	// Axis is the only axis of a GSC-01
	Axis = "1"

	// MaxSpeed is the fastest drive speed of the GSC-01, pulses/s
	MaxSpeed = 20000

	// MinSpeed is the slowest drive speed of the GSC-01, pulses/s
	MinSpeed = 1
)

var (
	// ErrPositionOutOfBounds is generated when a move would leave the software limits
	ErrPositionOutOfBounds = errors.New("position out of bounds")

	// ErrPositionDirty is generated when the position can no longer be
	// trusted (after an emergency stop or a limit stop, or before homing when
	// homing is required) and a move is requested.  Home to clear it
	ErrPositionDirty = errors.New("position is dirty, home the stage first")

	// ErrBadAxis is generated when an axis other than "1" is addressed
	ErrBadAxis = errors.New("GSC-01 has a single axis, \"1\"")

	// ErrLimitStop is generated when a move ends on a limit sensor
	ErrLimitStop = errors.New("stage stopped on a limit sensor")

	// ErrSpeedOutOfRange is generated when a velocity maps outside the
	// controller's pulse rate range
	ErrSpeedOutOfRange = errors.New("speed out of range")
)

// ControllerError is generated when the controller answers NG
type ControllerError struct {
	Cmd  string
	Resp string
}

func (e ControllerError) Error() string {
	return fmt.Sprintf("GSC-01 rejected %q with %q", e.Cmd, e.Resp)
}

// Config holds the mechanical and safety parameters of a stage
type Config struct {
	// UmPerPulse is the travel of one pulse
	UmPerPulse float64 `yaml:"UmPerPulse"`

	// Limits are the software limits, in mm
	Limits util.Limiter `yaml:"Limits"`

	// RequireHome refuses moves until Home has been called once
	RequireHome bool `yaml:"RequireHome"`

	// PollInterval paces busy polling while waiting for a move
	PollInterval time.Duration `yaml:"PollInterval"`

	// MoveTimeout bounds the wait for a move to finish
	MoveTimeout time.Duration `yaml:"MoveTimeout"`

	// AccelTime is the acceleration and deceleration time set with the speed, ms
	AccelTime int `yaml:"AccelTime"`
}

// DefaultConfig is a 1 um/pulse stage with 200 mm of travel
func DefaultConfig() Config {
	return Config{
		UmPerPulse:   1,
		Limits:       util.Limiter{Min: 0, Max: 200},
		PollInterval: 50 * time.Millisecond,
		MoveTimeout:  2 * time.Minute,
		AccelTime:    200,
	}
}

// SGSP26200 is the configuration of an SGSP26-200 stage at the GSC-01's
// default half step division
func SGSP26200() Config {
	c := DefaultConfig()
	c.UmPerPulse = 2
	c.RequireHome = true
	return c
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.UmPerPulse <= 0 {
		c.UmPerPulse = d.UmPerPulse
	}
	if c.Limits == (util.Limiter{}) {
		c.Limits = d.Limits
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MoveTimeout <= 0 {
		c.MoveTimeout = d.MoveTimeout
	}
	if c.AccelTime <= 0 {
		c.AccelTime = d.AccelTime
	}
}

// Status is the reply to the Q: query
type Status struct {
	// Pulses is the current position
	Pulses int64

	// CommandError is true when the last command was rejected
	CommandError bool

	// LimitStop is true when the last move ended on a limit sensor
	LimitStop bool

	// Busy is true while the stage moves
	Busy bool
}

// ParseStatus parses a Q: reply such as "-     1000,K,K,R"
func ParseStatus(resp string) (Status, error) {
	parts := strings.Split(resp, ",")
	if len(parts) != 4 {
		return Status{}, fmt.Errorf("malformed status %q", resp)
	}
	p, err := strconv.ParseInt(strings.ReplaceAll(parts[0], " ", ""), 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("malformed position in status %q: %w", resp, err)
	}
	return Status{
		Pulses:       p,
		CommandError: parts[1] == "X",
		LimitStop:    parts[2] == "L",
		Busy:         parts[3] == "B",
	}, nil
}

// GSC01 is a GSC-01 controller
type GSC01 struct {
	*comm.RemoteDevice

	cfg     Config
	poll    *rate.Limiter
	mu      sync.Mutex
	homed   bool
	dirty   bool
	excited bool
	pps     int
}

// NewGSC01 returns a new GSC01 at addr, a serial port when serial is true
// and a host:port (e.g. a terminal server) otherwise
func NewGSC01(addr string, serialConn bool, cfg Config) *GSC01 {
	cfg.fillDefaults()
	term := &comm.Terminators{Tx: []byte("\r\n"), Rx: []byte("\r\n")}
	conf := &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second,
	}
	return &GSC01{
		RemoteDevice: comm.NewRemoteDevice(addr, serialConn, term, conf),
		cfg:          cfg,
		poll:         rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		excited:      true,
		pps:          5000,
	}
}

// Config returns the stage configuration
func (g *GSC01) Config() Config {
	return g.cfg
}

func (g *GSC01) query(cmd string) (string, error) {
	resp, err := g.OpenSendRecv([]byte(cmd))
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	return strings.TrimSpace(string(resp)), nil
}

// Raw sends a command verbatim and returns the controller's reply, e.g.
// Raw("?:V") for the firmware version.  Drive commands sent this way bypass
// the travel limits
func (g *GSC01) Raw(cmd string) (string, error) {
	return g.query(cmd)
}

// command sends cmd and expects OK
func (g *GSC01) command(cmd string) error {
	resp, err := g.query(cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return ControllerError{Cmd: cmd, Resp: resp}
	}
	return nil
}

func checkAxis(axis string) error {
	if axis != Axis {
		return fmt.Errorf("%w, got %q", ErrBadAxis, axis)
	}
	return nil
}

// MMToPulses converts a distance to the nearest whole number of pulses
func (g *GSC01) MMToPulses(mm float64) int64 {
	return mathx.RoundInt(mm*1e3, g.cfg.UmPerPulse)
}

// PulsesToMM converts pulses to a distance
func (g *GSC01) PulsesToMM(p int64) float64 {
	return float64(p) * g.cfg.UmPerPulse / 1e3
}

func pulseArg(p int64) string {
	if p < 0 {
		return "-P" + strconv.FormatInt(-p, 10)
	}
	return "+P" + strconv.FormatInt(p, 10)
}

func (g *GSC01) checkTarget(mm float64) error {
	if g.dirty || (g.cfg.RequireHome && !g.homed) {
		return ErrPositionDirty
	}
	if !g.cfg.Limits.Check(mm) {
		return fmt.Errorf("%w: %g mm not in [%g, %g]", ErrPositionOutOfBounds, mm, g.cfg.Limits.Min, g.cfg.Limits.Max)
	}
	return nil
}

// drive stages cmd, issues G: and waits for the move to end
func (g *GSC01) drive(cmd string) error {
	if err := g.command(cmd); err != nil {
		return err
	}
	if err := g.command("G:"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.MoveTimeout)
	defer cancel()
	if err := g.WaitClear(ctx); err != nil {
		return err
	}
	st, err := g.Status()
	if err != nil {
		return err
	}
	if st.LimitStop {
		g.dirty = true
		return ErrLimitStop
	}
	return nil
}

// Status queries the controller status
func (g *GSC01) Status() (Status, error) {
	resp, err := g.query("Q:")
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(resp)
}

// Ready returns true when the stage is not moving
func (g *GSC01) Ready() (bool, error) {
	resp, err := g.query("!:")
	if err != nil {
		return false, err
	}
	switch resp {
	case "R":
		return true, nil
	case "B":
		return false, nil
	}
	return false, fmt.Errorf("malformed ready state %q", resp)
}

// WaitClear blocks until the stage is ready or ctx is done
func (g *GSC01) WaitClear(ctx context.Context) error {
	for {
		if err := g.poll.Wait(ctx); err != nil {
			return err
		}
		ready, err := g.Ready()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
	}
}

// GetPos satisfies motion.Mover
func (g *GSC01) GetPos(axis string) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	st, err := g.Status()
	if err != nil {
		return 0, err
	}
	return g.PulsesToMM(st.Pulses), nil
}

// MoveAbs satisfies motion.Mover.  It returns when the move is complete
func (g *GSC01) MoveAbs(axis string, mm float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkTarget(mm); err != nil {
		return err
	}
	return g.drive("A:1" + pulseArg(g.MMToPulses(mm)))
}

// MoveRel satisfies motion.Mover.  It returns when the move is complete
func (g *GSC01) MoveRel(axis string, mm float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st, err := g.Status()
	if err != nil {
		return err
	}
	if err = g.checkTarget(g.PulsesToMM(st.Pulses) + mm); err != nil {
		return err
	}
	return g.drive("M:1" + pulseArg(g.MMToPulses(mm)))
}

// Home satisfies motion.Mover, returning to the mechanical origin.  It
// clears a dirty position
func (g *GSC01) Home(axis string) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.command("H:1"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.MoveTimeout)
	defer cancel()
	if err := g.WaitClear(ctx); err != nil {
		return err
	}
	g.homed = true
	g.dirty = false
	return nil
}

// SetLogicalOrigin makes the current position zero
func (g *GSC01) SetLogicalOrigin() error {
	return g.command("R:1")
}

// Jog starts a continuous move in the positive or negative direction.
// Stop it with Stop.  The position is not limit checked while jogging
func (g *GSC01) Jog(positive bool) error {
	dir := "-"
	if positive {
		dir = "+"
	}
	if err := g.command("J:1" + dir); err != nil {
		return err
	}
	return g.command("G:")
}

// Stop satisfies motion.Stopper with a decelerating stop
func (g *GSC01) Stop(axis string) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return g.command("L:1")
}

// EmergencyStop stops immediately.  The position is dirty afterwards
func (g *GSC01) EmergencyStop() error {
	err := g.command("L:E")
	g.mu.Lock()
	g.dirty = true
	g.mu.Unlock()
	return err
}

// SetVelocity satisfies motion.Speeder.  v is in mm/s and sets the
// maximum drive speed; the start speed is the lesser of v and 500 pulses/s
func (g *GSC01) SetVelocity(axis string, v float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	pps := int(mathx.RoundInt(v*1e3, g.cfg.UmPerPulse))
	if pps < MinSpeed || pps > MaxSpeed {
		return fmt.Errorf("%w: %g mm/s is %d pulses/s, outside [%d, %d]", ErrSpeedOutOfRange, v, pps, MinSpeed, MaxSpeed)
	}
	start := 500
	if pps < start {
		start = pps
	}
	cmd := fmt.Sprintf("D:1S%dF%dR%d", start, pps, g.cfg.AccelTime)
	if err := g.command(cmd); err != nil {
		return err
	}
	g.mu.Lock()
	g.pps = pps
	g.mu.Unlock()
	return nil
}

// GetVelocity satisfies motion.Speeder.  The controller cannot report its
// speed, so this is the last value set (5000 pulses/s at power on)
func (g *GSC01) GetVelocity(axis string) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.PulsesToMM(int64(g.pps)), nil
}

// Enable satisfies motion.Enabler by exciting the motor
func (g *GSC01) Enable(axis string) error {
	return g.excite(axis, true)
}

// Disable satisfies motion.Enabler by releasing the motor
func (g *GSC01) Disable(axis string) error {
	return g.excite(axis, false)
}

func (g *GSC01) excite(axis string, on bool) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	cmd := "C:10"
	if on {
		cmd = "C:11"
	}
	if err := g.command(cmd); err != nil {
		return err
	}
	g.mu.Lock()
	g.excited = on
	g.mu.Unlock()
	return nil
}

// GetEnabled satisfies motion.Enabler
func (g *GSC01) GetEnabled(axis string) (bool, error) {
	if err := checkAxis(axis); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.excited, nil
}

// GetInPosition satisfies motion.InPositionQueryer
func (g *GSC01) GetInPosition(axis string) (bool, error) {
	if err := checkAxis(axis); err != nil {
		return false, err
	}
	return g.Ready()
}
