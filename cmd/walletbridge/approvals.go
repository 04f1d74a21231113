package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/walletbridge/internal/cliconfig"
	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// approvalsClient talks to the approval API of a running bridge.
type approvalsClient struct {
	base   string
	token  string
	client *http.Client
}

func (c *approvalsClient) do(method, path string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.base, "/")+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return data, nil
}

func newApprovalsCmd() *cobra.Command {
	c := &approvalsClient{client: &http.Client{Timeout: 10 * time.Second}}

	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and decide prompts waiting on a running bridge",
	}
	cmd.PersistentFlags().StringVar(&c.base, "api", "http://"+cliconfig.DefaultListenAddr+bridge.DefaultApprovalsPath, "approval API of the bridge")
	cmd.PersistentFlags().StringVar(&c.token, "token", os.Getenv("WALLETBRIDGE_APPROVAL_TOKEN"), "approval API token")

	list := &cobra.Command{
		Use:   "list",
		Short: "Show open prompts, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.do(http.MethodGet, "/", nil)
			if err != nil {
				return err
			}
			var prompts []bridge.ApprovalPrompt
			if err := json.Unmarshal(data, &prompts); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tORIGIN\tMETHOD\tAGE\tDESCRIPTION")
			for _, p := range prompts {
				age := time.Since(p.CreatedAt).Truncate(time.Second)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.RequestID, p.Origin, p.Method, age, p.Description)
			}
			return w.Flush()
		},
	}

	approve := &cobra.Command{
		Use:   "approve <id> [result-json]",
		Short: "Approve a prompt, e.g. with the accounts to expose",
		Example: strings.TrimSpace(`
  walletbridge approvals approve 01J... '["0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"]'
`),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]json.RawMessage{}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("result must be JSON")
				}
				body["result"] = json.RawMessage(args[1])
			}
			_, err := c.do(http.MethodPost, "/"+args[0]+"/resolve", body)
			return err
		},
	}

	var message string
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if message != "" {
				body["code"] = protocol.CodeUserRejected
				body["message"] = message
			}
			_, err := c.do(http.MethodPost, "/"+args[0]+"/reject", body)
			return err
		},
	}
	reject.Flags().StringVar(&message, "message", "", "message shown to the page")

	cmd.AddCommand(list, approve, reject)
	return cmd
}
