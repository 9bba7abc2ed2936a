package main

import (
	"github.com/spf13/cobra"

	"github.com/ajsharma/brop-bridge/internal/bropclient"
)

// controlClient is an alias kept separate from bropclient.Client so the
// command bodies in main.go read as uses of "the thing control talks through"
// rather than naming the transport package directly.
type controlClient = bropclient.Client

// withClient dials controlAddr once per invocation and closes it on return,
// mirroring the teacher's control commands (each built its own Controller,
// deferred Close, then ran a single action).
func withClient(fn func(c *controlClient, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := bropclient.Dial(controlAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		c.SetTimeout(controlTimeout)

		return fn(c, cmd, args)
	}
}
