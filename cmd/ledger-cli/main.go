// ledger-cli is a command-line client for interacting with a ledgerd node.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"golang.org/x/term"
)

// mineTimeout covers a node sealing a block on our behalf.
const mineTimeout = 2 * time.Minute

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := ""
	network := "mainnet"
	asJSON := !term.IsTerminal(int(os.Stdout.Fd()))

	// Scan for global flags before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--json":
			asJSON = true
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	if rpcURL == "" {
		rpcURL = defaultRPC(network)
	}

	client := rpcclient.New(rpcURL)
	out := printer{json: asJSON}
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client, out)
	case "block":
		cmdBlock(client, cmdArgs, out)
	case "blocks":
		cmdBlocks(client, cmdArgs, out)
	case "validate":
		cmdValidate(client, cmdArgs, out)
	case "compare":
		cmdCompare(client, cmdArgs, out)
	case "submit":
		cmdSubmit(client, cmdArgs, out)
	case "mine":
		cmdMine(rpcURL, cmdArgs, out)
	case "peers":
		cmdPeers(client, out)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledger-cli [global flags] <command> [args]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8555, testnet 8655)
  --network <net>     mainnet (default) or testnet
  --json              Print raw JSON results (default when not a terminal)

Commands:
  status                          Show chain status
  block <id>                      Show a block
  blocks [--from N] [--count N]   List blocks
  validate [--block <file.json>]  Validate the node's chain, or a block
                                  against the current tip
  compare <chain.json>            Run fork choice against a chain file
  submit <block.json>             Submit a sealed block
  mine [data]                     Ask the node to mine a block
  peers                           Show node identity and connected peers
`)
}

func defaultRPC(network string) string {
	if network == "testnet" {
		return "http://127.0.0.1:8655"
	}
	return "http://127.0.0.1:8555"
}

// ── Output ──────────────────────────────────────────────────────────────

type printer struct {
	json bool
}

// raw prints v as indented JSON and reports whether it did.
func (p printer) raw(v interface{}) bool {
	if !p.json {
		return false
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(data))
	return true
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client, out printer) {
	info, err := client.ChainInfo()
	if err != nil {
		fatal("chain_getInfo: %v", err)
	}
	if out.raw(info) {
		return
	}

	fmt.Printf("Chain:       %s (%s)\n", info.ChainName, info.ChainID)
	fmt.Printf("Length:      %d\n", info.Length)
	fmt.Printf("Height:      %d\n", info.Height)
	fmt.Printf("Genesis:     %s\n", info.GenesisHash)
	fmt.Printf("Tip:         %s\n", info.TipHash)
	fmt.Printf("Tip time:    %s\n", formatTime(info.TipTimestamp))
	fmt.Printf("Difficulty:  %s\n", info.DifficultyPrefix)

	if peers, err := client.Peers(); err == nil {
		fmt.Printf("Peers:       %d\n", peers.Count)
	}
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(client *rpcclient.Client, args []string, out printer) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli block <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fatal("invalid block id %q", args[0])
	}

	blk, err := client.Block(id)
	if err != nil {
		fatal("chain_getBlock: %v", err)
	}
	if out.raw(blk) {
		return
	}
	printBlock(blk)
}

func printBlock(blk *block.Block) {
	fmt.Printf("ID:         %d\n", blk.ID)
	fmt.Printf("Timestamp:  %s\n", formatTime(blk.Timestamp))
	if blk.IsGenesis() {
		fmt.Printf("Previous:   (genesis)\n")
	} else {
		fmt.Printf("Previous:   %s\n", blk.PrevHash())
	}
	fmt.Printf("Nonce:      %d\n", blk.Nonce)
	fmt.Printf("Hash:       %s\n", blk.Hash)
	fmt.Printf("Data:       %q\n", blk.Data)
}

// ── blocks ──────────────────────────────────────────────────────────────

func cmdBlocks(client *rpcclient.Client, args []string, out printer) {
	fs := flag.NewFlagSet("blocks", flag.ExitOnError)
	from := fs.Uint64("from", 0, "First block id")
	count := fs.Uint64("count", 0, "Number of blocks (0 = server default)")
	fs.Parse(args)

	var res rpc.BlocksResult
	if err := client.Call("chain_getBlocks", rpc.RangeParam{From: *from, Count: *count}, &res); err != nil {
		fatal("chain_getBlocks: %v", err)
	}
	if out.raw(res) {
		return
	}

	fmt.Printf("Showing %d of %d blocks\n", len(res.Blocks), res.Total)
	for _, b := range res.Blocks {
		fmt.Printf("  %6d  %s  %s  %q\n", b.ID, b.Hash, formatTime(b.Timestamp), b.Data)
	}
}

// ── validate ────────────────────────────────────────────────────────────

func cmdValidate(client *rpcclient.Client, args []string, out printer) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	blockFile := fs.String("block", "", "Block JSON file to validate against the tip")
	fs.Parse(args)

	var res *rpc.ValidateResult
	if *blockFile != "" {
		var blk block.Block
		readJSONFile(*blockFile, &blk)
		res = &rpc.ValidateResult{}
		if err := client.Call("block_validate", rpc.BlockParam{Block: &blk}, res); err != nil {
			fatal("block_validate: %v", err)
		}
	} else {
		var err error
		if res, err = client.Validate(); err != nil {
			fatal("chain_validate: %v", err)
		}
	}
	if out.raw(res) {
		return
	}

	if res.Valid {
		fmt.Println("Valid")
		return
	}
	fmt.Printf("Invalid (%s): %s\n", res.Kind, res.Error)
	os.Exit(2)
}

// ── compare ─────────────────────────────────────────────────────────────

func cmdCompare(client *rpcclient.Client, args []string, out printer) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli compare <chain.json>")
	}
	var blocks []*block.Block
	readJSONFile(args[0], &blocks)

	var res rpc.CompareResult
	if err := client.Call("chain_compare", rpc.ChainParam{Blocks: blocks}, &res); err != nil {
		fatal("chain_compare: %v", err)
	}
	if out.raw(res) {
		return
	}

	fmt.Printf("Winner:  %s\n", res.Winner)
	fmt.Printf("Local:   %d blocks\n", res.LocalLength)
	fmt.Printf("Remote:  %d blocks\n", res.RemoteLength)
}

// ── submit ──────────────────────────────────────────────────────────────

func cmdSubmit(client *rpcclient.Client, args []string, out printer) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli submit <block.json>")
	}
	var blk block.Block
	readJSONFile(args[0], &blk)

	res, err := client.SubmitBlock(&blk)
	if err != nil {
		fatal("block_submit: %v", describe(err))
	}
	if out.raw(res) {
		return
	}
	fmt.Printf("Accepted block %d (%s)\n", res.ID, res.Hash)
}

// ── mine ────────────────────────────────────────────────────────────────

func cmdMine(rpcURL string, args []string, out printer) {
	client := rpcclient.NewWithTimeout(rpcURL, mineTimeout)
	data := strings.Join(args, " ")

	res, err := client.Mine(data)
	if err != nil {
		fatal("mining_mine: %v", describe(err))
	}
	if out.raw(res) {
		return
	}
	fmt.Printf("Mined block %d (%s)\n", res.ID, res.Hash)
}

// ── peers ───────────────────────────────────────────────────────────────

func cmdPeers(client *rpcclient.Client, out printer) {
	node, err := client.NodeInfo()
	if err != nil {
		fatal("net_getNodeInfo: %v", err)
	}
	peers, err := client.Peers()
	if err != nil {
		fatal("net_getPeerInfo: %v", err)
	}
	if out.raw(struct {
		Node  *rpc.NodeInfoResult `json:"node"`
		Peers *rpc.PeerInfoResult `json:"peers"`
	}{node, peers}) {
		return
	}

	fmt.Printf("Node ID: %s\n", node.ID)
	for _, a := range node.Addrs {
		fmt.Printf("  Listen: %s\n", a)
	}
	fmt.Printf("Peers:   %d\n", peers.Count)
	for _, p := range peers.Peers {
		line := fmt.Sprintf("  %s  since %s", p.ID, p.ConnectedAt)
		if p.Source != "" {
			line += "  via " + p.Source
		}
		if p.ChainLength > 0 {
			line += fmt.Sprintf("  length %d", p.ChainLength)
		}
		fmt.Println(line)
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

func readJSONFile(path string, v interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal("read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		fatal("parse %s: %v", path, err)
	}
}

// describe appends the rejection kind to RPC errors that carry one.
func describe(err error) string {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Kind != "" {
		return fmt.Sprintf("%s [%s]", rpcErr.Message, rpcErr.Kind)
	}
	return err.Error()
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
