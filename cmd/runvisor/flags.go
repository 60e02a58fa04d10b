package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type RunFlags struct {
	Listen  string
	Watch   bool
	Metrics bool
}

type StopFlags struct {
	Timeout time.Duration
}

type PingFlags struct {
	Timeout time.Duration
	Echo    bool
}

// APIFlags select a running agent's status API instead of the local pidfile.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Username   string
	Password   string
	Insecure   bool
}

func (f APIFlags) remote() bool { return f.APIUrl != "" }
