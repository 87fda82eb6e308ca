// pattern: Imperative Shell

// Package docker wraps the Docker Engine API for the two things the tmux
// façade and terminal proxy need from a container source: listing running
// containers, and running tmux commands inside one — non-interactively for
// the façade's run(argv) primitive, interactively (with a resizable TTY)
// for the terminal proxy's docker upstream.
package docker

import (
	"context"

	"github.com/docker/docker/client"
)

// Client wraps the Docker SDK client with the operations TmuxDeck needs.
type Client struct {
	cli *client.Client
}

// NewClient creates a Docker client using environment defaults
// (DOCKER_HOST, DOCKER_CERT_PATH, ...) and API version negotiation.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// NewClientWithHost creates a Docker client against an explicit socket/host
// (the config's docker_socket override), falling back to env defaults when
// host is empty.
func NewClientWithHost(host string) (*Client, error) {
	if host == "" {
		return NewClient()
	}
	cli, err := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// Ping checks connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// Close releases the Docker client's resources.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Raw returns the underlying Docker SDK client for advanced operations.
func (c *Client) Raw() *client.Client {
	if c == nil {
		return nil
	}
	return c.cli
}
