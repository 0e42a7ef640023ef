package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Mindburn-Labs/transmuter/pkg/config"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/transmuter"
)

// runReceiptsCmd implements `transmuter receipts`, listing the receipts of
// the configured store.
func runReceiptsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipts", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var q transmuter.ReceiptQuery
	var root, mutation, taker string
	var jsonOutput bool
	cmd.StringVar(&root, "transmuter", "", "Only receipts under this root")
	cmd.StringVar(&mutation, "mutation", "", "Only receipts of this mutation")
	cmd.StringVar(&taker, "taker", "", "Only receipts of this taker")
	cmd.StringVar(&q.Where, "where", "", `CEL filter, e.g. receipt.state == "Pending"`)
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	q.Transmuter = contracts.Address(root)
	q.Mutation = contracts.Address(mutation)
	q.Taker = contracts.Address(taker)

	cfg, err := config.LoadWithFile()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx := context.Background()
	n, err := newNode(ctx, cfg, newLogger(cfg, stderr))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = n.Close(ctx) }()

	receipts, err := n.svc.FindAllReceipts(ctx, q)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		if _, ok := contracts.CodeOf(err); ok {
			return 2
		}
		return 1
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(receipts); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MUTATION\tTAKER\tSTATE\tCOMPLETE_TS\tEXECUTIONS")
	for _, rc := range receipts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", rc.Mutation.Short(), rc.Taker.Short(), rc.State, rc.MutationCompleteTs, rc.Executions)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(stdout, "%d receipt(s)\n", len(receipts))
	return 0
}
