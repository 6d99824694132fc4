// Command chainctl inspects a running consortium node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/VanDung-dev/Consortium-Ledger/api"
	"github.com/VanDung-dev/Consortium-Ledger/arrow"
	"github.com/VanDung-dev/Consortium-Ledger/ledger"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
	"github.com/VanDung-dev/Consortium-Ledger/network"
	"github.com/VanDung-dev/Consortium-Ledger/node"
	"github.com/VanDung-dev/Consortium-Ledger/notify"
)

const usage = `Usage: chainctl [-addr URL] [-token TOKEN] <command> [flags]

Commands:
  chain    [-arrow] [-zstd]   Show committed blocks
  members  [-status S]        List members (approved, pending, rejected)
  pending                     Show open block proposals
  verify                      Verify chain integrity
  status                      Show node status
  watch    [-zmq ENDPOINT]    Stream voting notices
`

func main() {
	addr := flag.String("addr", envOr("CONSORTIUM_ADDR", "http://localhost:5000"), "Node HTTP API base URL")
	token := flag.String("token", os.Getenv("CONSORTIUM_AUTH_TOKEN"), "Auth token")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := newClient(*addr, *token)
	cmd, args := flag.Arg(0), flag.Args()[1:]

	var err error
	switch cmd {
	case "chain":
		err = chainCmd(c, args)
	case "members":
		err = membersCmd(c, args)
	case "pending":
		err = pendingCmd(c)
	case "verify":
		err = verifyCmd(c)
	case "status":
		err = statusCmd(c)
	case "watch":
		err = watchCmd(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func chainCmd(c *client, args []string) error {
	fs := flag.NewFlagSet("chain", flag.ExitOnError)
	useArrow := fs.Bool("arrow", false, "Fetch the Arrow IPC export instead of JSON")
	useZstd := fs.Bool("zstd", false, "Request zstd compression with -arrow")
	_ = fs.Parse(args)

	var blocks []ledger.Block
	if *useArrow {
		comp := arrow.CompressNone
		if *useZstd {
			comp = arrow.CompressZstd
		}
		data, err := c.getRaw("/chain/arrow?compress=" + string(comp))
		if err != nil {
			return err
		}
		if blocks, err = arrow.NewExporter().Import(data, comp); err != nil {
			return err
		}
		pterm.Info.Printfln("Decoded %d blocks from %d bytes of Arrow IPC", len(blocks), len(data))
	} else if err := c.getJSON("/chain", &blocks); err != nil {
		return err
	}
	return renderBlocks(blocks)
}

func membersCmd(c *client, args []string) error {
	fs := flag.NewFlagSet("members", flag.ExitOnError)
	status := fs.String("status", "approved", "approved, pending or rejected")
	_ = fs.Parse(args)

	var entries []membership.Entry
	if err := c.getJSON("/membership/members?status="+*status, &entries); err != nil {
		return err
	}
	return renderMembers(entries)
}

func pendingCmd(c *client) error {
	var blocks []ledger.Block
	if err := c.getJSON("/blocks/pending", &blocks); err != nil {
		return err
	}
	if len(blocks) == 0 {
		pterm.Info.Println("No open proposals")
		return nil
	}
	for _, b := range blocks {
		renderProposal(b)
	}
	return nil
}

func verifyCmd(c *client) error {
	spinner, _ := pterm.DefaultSpinner.Start("Verifying chain ...")
	var res api.VerifyResult
	if err := c.getJSON("/chain/verify", &res); err != nil {
		spinner.Fail("Chain verification failed")
		return err
	}
	spinner.Success("Chain is valid: " + strconv.Itoa(res.Length) + " blocks")
	return nil
}

func statusCmd(c *client) error {
	var st node.Status
	if err := c.getJSON("/status", &st); err != nil {
		return err
	}
	renderStatus(st)
	return nil
}

func watchCmd(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	endpoint := fs.String("zmq", envOr("CONSORTIUM_ZMQ", "tcp://localhost:7601"), "Notice publisher endpoint")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var kinds []notify.Kind
	for _, k := range fs.Args() {
		kinds = append(kinds, notify.Kind(k))
	}
	sub, err := network.Subscribe(ctx, *endpoint, kinds...)
	if err != nil {
		return err
	}
	defer sub.Close()

	pterm.Info.Printfln("Watching %s (Ctrl+C to stop)", *endpoint)
	for {
		n, err := sub.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		renderNotice(n)
	}
}
