package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/urfave/cli"
)

// diagnostics mirrors the JSON body woofbot-watcher's debug HTTP
// endpoint serves.
type diagnostics struct {
	Chain            string `json:"chain"`
	MempoolWeight    int64  `json:"mempool_weight"`
	MempoolClear     *bool  `json:"mempool_clear"`
	PendingTaskCount int    `json:"pending_task_count"`
}

// actionDecorator wraps a command's action so a returned error is
// printed the same way for every command, following the teacher's
// lncli convention.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if err := f(c); err != nil {
			return fmt.Errorf("[woofbot-watcherctl] %v", err)
		}
		return nil
	}
}

func fetchDiagnostics(ctx *cli.Context) (*diagnostics, error) {
	rpcServer := ctx.GlobalString("rpcserver")
	url := fmt.Sprintf("http://%s/diagnostics", rpcServer)

	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("reach woofbot-watcher at %s: %w", rpcServer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("woofbot-watcher returned %s", resp.Status)
	}

	var d diagnostics
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode diagnostics response: %w", err)
	}
	return &d, nil
}

var getInfoCommand = cli.Command{
	Name:   "getinfo",
	Usage:  "Returns the watcher's full diagnostics snapshot.",
	Action: actionDecorator(getInfo),
}

func getInfo(ctx *cli.Context) error {
	d, err := fetchDiagnostics(ctx)
	if err != nil {
		return err
	}
	printJSON(d)
	return nil
}

var countTasksCommand = cli.Command{
	Name:  "counttasks",
	Usage: "Returns the number of tasks currently pending on the watcher's scheduler.",
	Action: actionDecorator(func(ctx *cli.Context) error {
		d, err := fetchDiagnostics(ctx)
		if err != nil {
			return err
		}
		fmt.Println(d.PendingTaskCount)
		return nil
	}),
}

var mempoolStatusCommand = cli.Command{
	Name:  "mempoolstatus",
	Usage: "Returns the watcher's view of the mempool's weight and clear status.",
	Action: actionDecorator(func(ctx *cli.Context) error {
		d, err := fetchDiagnostics(ctx)
		if err != nil {
			return err
		}
		clear := "unknown"
		if d.MempoolClear != nil {
			clear = fmt.Sprintf("%v", *d.MempoolClear)
		}
		fmt.Printf("weight=%d clear=%s\n", d.MempoolWeight, clear)
		return nil
	}),
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}
	fmt.Println(string(b))
}
