package motion

import (
	"fmt"
	"net/url"

	"github.com/nasa-jpl/msquared/generichttp"
)

// Client is a Controller on the far side of an HTTPMotionController
type Client struct {
	*generichttp.Client
}

// NewClient returns a Client for the controller served at base
func NewClient(base string) *Client {
	return &Client{Client: generichttp.NewClient(base)}
}

func axisPath(axis, leaf string) string {
	return fmt.Sprintf("/axis/%s/%s", url.PathEscape(axis), leaf)
}

// GetPos satisfies Mover
func (c *Client) GetPos(axis string) (float64, error) {
	return c.GetFloat(axisPath(axis, "pos"))
}

// MoveAbs satisfies Mover
func (c *Client) MoveAbs(axis string, pos float64) error {
	return c.SetFloat(axisPath(axis, "pos"), pos)
}

// MoveRel satisfies Mover
func (c *Client) MoveRel(axis string, delta float64) error {
	return c.SetFloat(axisPath(axis, "pos")+"?relative=true", delta)
}

// Home satisfies Mover
func (c *Client) Home(axis string) error {
	return c.Post(axisPath(axis, "home"), nil, nil)
}

// Stop satisfies Stopper
func (c *Client) Stop(axis string) error {
	return c.Post(axisPath(axis, "stop"), nil, nil)
}

// GetVelocity satisfies Speeder
func (c *Client) GetVelocity(axis string) (float64, error) {
	return c.GetFloat(axisPath(axis, "velocity"))
}

// SetVelocity satisfies Speeder
func (c *Client) SetVelocity(axis string, v float64) error {
	return c.SetFloat(axisPath(axis, "velocity"), v)
}

// GetInPosition satisfies InPositionQueryer
func (c *Client) GetInPosition(axis string) (bool, error) {
	return c.GetBool(axisPath(axis, "inposition"))
}

// Enable satisfies Enabler
func (c *Client) Enable(axis string) error {
	return c.SetBool(axisPath(axis, "enabled"), true)
}

// Disable satisfies Enabler
func (c *Client) Disable(axis string) error {
	return c.SetBool(axisPath(axis, "enabled"), false)
}

// GetEnabled satisfies Enabler
func (c *Client) GetEnabled(axis string) (bool, error) {
	return c.GetBool(axisPath(axis, "enabled"))
}
