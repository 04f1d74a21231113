package bridge_test

import (
	"context"
	"fmt"

	"github.com/bft-labs/walletbridge/pkg/bridge"
)

// ExampleNew demonstrates how to embed the bridge in an application.
func ExampleNew() {
	cfg := bridge.Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"https://app.example"},
		ChainID:        "0x1",
	}

	b, err := bridge.New(cfg)
	if err != nil {
		fmt.Printf("failed to create bridge: %v\n", err)
		return
	}

	if err := b.Start(context.Background()); err != nil {
		fmt.Printf("failed to start: %v\n", err)
		return
	}
	fmt.Println("Status:", b.Status())
	fmt.Println("Origins:", b.Origins())

	_ = b.Stop()
	fmt.Println("Status:", b.Status())

	// Output:
	// Status: Running
	// Origins: [https://app.example]
	// Status: Stopped
}

// Example_eventHandler demonstrates how to be told about approval prompts.
func Example_eventHandler() {
	b, err := bridge.New(bridge.Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"https://app.example"},
	}, bridge.WithEventHandler(&promptPrinter{}))
	if err != nil {
		fmt.Printf("failed to create bridge: %v\n", err)
		return
	}

	_ = b // Start the bridge and approve prompts as they arrive...
}

// promptPrinter implements bridge.EventHandler.
type promptPrinter struct {
	bridge.BaseEventHandler // Embed for no-op defaults
}

func (p *promptPrinter) OnApprovalOpened(event bridge.ApprovalEvent) {
	fmt.Printf("%s wants %s: %s\n", event.Prompt.Origin, event.Prompt.Method, event.Prompt.Description)
}
