package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cordum/gridstore/core/admin"
	"github.com/cordum/gridstore/core/infra/buildinfo"
	"github.com/cordum/gridstore/core/infra/bus"
	"github.com/google/uuid"
)

const (
	defaultNATS    = "nats://localhost:4222"
	defaultTimeout = 2 * time.Minute
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "fix-inventory":
		runAdminCmd(cmd, bus.SubjectFixInventory, args)
	case "create-inventory":
		runAdminCmd(cmd, bus.SubjectCreateInventory, args)
	case "version":
		fmt.Println(buildinfo.Current())
	default:
		usage()
		os.Exit(1)
	}
}

func runAdminCmd(name, subject string, args []string) {
	fs := newFlagSet(name)
	agent := fs.String("agent", "", "agent id (instead of first/last name)")
	fs.ParseArgs(args)
	req, err := buildRequest(*agent, fs.Args())
	if err != nil {
		fail(err.Error())
	}

	natsBus, err := bus.NewNatsBus(*fs.natsURL)
	check(err)
	defer natsBus.Close()

	resp, err := send(natsBus, subject, req, *fs.timeout)
	check(err)
	printJSON(resp)
	if !resp.OK {
		natsBus.Close()
		os.Exit(1)
	}
}

func buildRequest(agent string, rest []string) (admin.Request, error) {
	if agent = strings.TrimSpace(agent); agent != "" {
		id, err := uuid.Parse(agent)
		if err != nil {
			return admin.Request{}, fmt.Errorf("invalid agent id: %w", err)
		}
		return admin.Request{AgentID: id}, nil
	}
	if len(rest) != 2 {
		return admin.Request{}, fmt.Errorf("expected <first> <last> or --agent")
	}
	return admin.Request{First: rest[0], Last: rest[1]}, nil
}

func send(b bus.Bus, subject string, req admin.Request, timeout time.Duration) (admin.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var resp admin.Response
	if err := b.Request(ctx, subject, req, &resp); err != nil {
		return admin.Response{}, err
	}
	return resp, nil
}

type flagSet struct {
	*flag.FlagSet
	natsURL *string
	timeout *time.Duration
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	natsURL := fs.String("nats", envOr("NATS_URL", defaultNATS), "nats url")
	timeout := fs.Duration("timeout", defaultTimeout, "request timeout")
	return &flagSet{FlagSet: fs, natsURL: natsURL, timeout: timeout}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`gridstorectl - gridstore operator CLI

Usage:
  gridstorectl fix-inventory <first> <last> | --agent <id>
  gridstorectl create-inventory <first> <last> | --agent <id>
  gridstorectl version

Global flags:
  --nats      NATS URL (default from NATS_URL)
  --timeout   Request timeout (default 2m)
`)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
