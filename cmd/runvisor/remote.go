package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/loykin/runvisor/pkg/client"
)

func (c *command) apiClient(f APIFlags) (*client.Client, error) {
	password := f.Password
	if password == "" {
		password = os.Getenv("RUNVISOR_API_PASSWORD")
	}
	return client.New(client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
		Username: f.Username,
		Password: password,
	})
}

func (c *command) RemoteStatus(ctx context.Context, f APIFlags) error {
	api, err := c.apiClient(f)
	if err != nil {
		return err
	}
	st, err := api.Status(ctx)
	if err != nil {
		return fmt.Errorf("agent at %s: %w", f.APIUrl, err)
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) RemoteHealth(ctx context.Context, f APIFlags) error {
	api, err := c.apiClient(f)
	if err != nil {
		return err
	}
	h, err := api.Health(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, h)
	if !h.Healthy() {
		return fmt.Errorf("runtime unhealthy: %s", h.Description)
	}
	return nil
}

func (c *command) RemoteMemory(ctx context.Context, f APIFlags) error {
	api, err := c.apiClient(f)
	if err != nil {
		return err
	}
	m, err := api.Memory(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, m)
	return nil
}

func (c *command) RemoteLogLevel(ctx context.Context, f APIFlags, args []string) error {
	api, err := c.apiClient(f)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		settings, err := api.LogSettings(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, settings)
		return nil
	}
	if len(args) < 2 {
		return errors.New("usage: log-level <subscriber> node=LEVEL...")
	}
	nodes, err := parseNodeLevels(args[1:])
	if err != nil {
		return err
	}
	if err := api.SetLogLevel(ctx, client.LogLevelRequest{Subscriber: args[0], Nodes: nodes}); err != nil {
		return err
	}
	c.printf("ok\n")
	return nil
}
