// Command revtunctl is the operator CLI for a running revtund's admin
// control plane: status, listing parked nodes, and pinging or evicting one
// by id.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli"

	"github.com/relaymesh/revtun/internal/termcolor"
)

func adminBaseURL(c *cli.Context) string {
	addr := c.GlobalString("admin-addr")
	if addr == "" {
		addr = "127.0.0.1:9444"
	}
	return "http://" + addr
}

type statusResponse struct {
	ParkedNodeCount int `json:"parked_node_count"`
	SyntheticHosts  int `json:"synthetic_hosts"`
}

func statusCommand(c *cli.Context) error {
	resp, err := http.Get(adminBaseURL(c) + "/status")
	if err != nil {
		return cli.NewExitError(termcolor.Red("failed to reach revtund admin server: "+err.Error()), 1)
	}
	defer resp.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return cli.NewExitError(termcolor.Red("failed to parse status: "+err.Error()), 1)
	}
	fmt.Printf("%s %d node(s), %s %d synthetic host(s)\n",
		termcolor.Cyan("parked:"), status.ParkedNodeCount,
		termcolor.Cyan("hosts:"), status.SyntheticHosts)
	return nil
}

func nodesCommand(c *cli.Context) error {
	resp, err := http.Get(adminBaseURL(c) + "/nodes")
	if err != nil {
		return cli.NewExitError(termcolor.Red("failed to reach revtund admin server: "+err.Error()), 1)
	}
	defer resp.Body.Close()

	var nodes map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return cli.NewExitError(termcolor.Red("failed to parse node list: "+err.Error()), 1)
	}
	if len(nodes) == 0 {
		fmt.Println(termcolor.Yellow("no parked nodes"))
		return nil
	}
	for id, count := range nodes {
		fmt.Printf("%s  %s %d\n", termcolor.Green(id), termcolor.Cyan("sockets:"), count)
	}
	return nil
}

func nodeActionCommand(c *cli.Context, path string) error {
	nodeID := c.Args().First()
	if nodeID == "" {
		return cli.NewExitError(termcolor.Red("usage: revtunctl "+c.Command.Name+" <node-id>"), 1)
	}
	body, err := json.Marshal(map[string]string{"node_id": nodeID})
	if err != nil {
		return cli.NewExitError(termcolor.Red(err.Error()), 1)
	}
	resp, err := http.Post(adminBaseURL(c)+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return cli.NewExitError(termcolor.Red("failed to reach revtund admin server: "+err.Error()), 1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cli.NewExitError(termcolor.Red(fmt.Sprintf("revtund rejected the request: %d", resp.StatusCode)), 1)
	}
	fmt.Println(termcolor.Green(nodeID + ": ok"))
	return nil
}

func pingCommand(c *cli.Context) error {
	return nodeActionCommand(c, "/nodes/ping")
}

func evictCommand(c *cli.Context) error {
	return nodeActionCommand(c, "/nodes/evict")
}

func main() {
	app := cli.NewApp()
	app.Name = "revtunctl"
	app.Usage = "inspect and control a running revtund"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "admin-addr",
			Value: "127.0.0.1:9444",
			Usage: "revtund admin control plane address",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "print aggregate parked-node and synthetic-host counts",
			Action: statusCommand,
		},
		{
			Name:   "nodes",
			Usage:  "list parked node ids and their socket counts",
			Action: nodesCommand,
		},
		{
			Name:      "ping",
			Usage:     "ping a node's parked sockets, evicting any that fail",
			ArgsUsage: "<node-id>",
			Action:    pingCommand,
		},
		{
			Name:      "evict",
			Usage:     "evict all of a node's parked sockets",
			ArgsUsage: "<node-id>",
			Action:    evictCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, termcolor.Red(err.Error()))
		os.Exit(1)
	}
}
