package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tutu-network/modelcore/internal/daemon"
	"github.com/tutu-network/modelcore/internal/domain"
	"github.com/tutu-network/modelcore/internal/infra/engine"
	"github.com/tutu-network/modelcore/internal/poolcore"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run MODEL [PROMPT]",
	Short: "Run a model and start an interactive chat",
	Long:  `Run a model locally. If the model isn't downloaded yet, it will be pulled first.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	modelName := args[0]

	var prompt string
	if len(args) > 1 {
		prompt = args[1]
	}

	d, err := daemon.New()
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}
	defer d.Close()

	exists, err := d.Models.HasLocal(registry_ParseRef(modelName))
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintf(os.Stderr, "pulling %s...\n", modelName)
		pb := newProgressBar()
		if err := d.Models.Pull(modelName, pb.callback); err != nil {
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("pull model: %w", err)
		}
		fmt.Fprintln(os.Stderr)
	}

	if prompt != "" {
		return generateAndPrint(cmd.Context(), d, modelName, prompt)
	}

	return interactiveChat(cmd.Context(), d, modelName)
}

func generateAndPrint(ctx context.Context, d *daemon.Daemon, modelName, prompt string) error {
	messages := []engine.ChatMessage{
		{Role: "system", Content: "You are a helpful AI assistant."},
		{Role: "user", Content: prompt},
	}
	resp, err := d.Submit(ctx, modelName, daemon.GenerateRequest{
		Messages: messages,
		Params: engine.GenerateParams{
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   2048,
		},
	}, poolcore.Normal)
	if err != nil {
		return err
	}

	tokenCh, ok := resp.Value.(<-chan domain.Token)
	if !ok {
		return fmt.Errorf("unexpected response type from model")
	}
	for tok := range tokenCh {
		fmt.Print(tok.Text)
	}
	fmt.Println()
	return nil
}

func interactiveChat(ctx context.Context, d *daemon.Daemon, modelName string) error {
	fmt.Printf(">>> Chatting with %s (type /bye to exit)\n", modelName)

	messages := []engine.ChatMessage{
		{Role: "system", Content: "You are a helpful AI assistant."},
	}

	scanner := newLineScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()

		if input == "/bye" || input == "/exit" || input == "/quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if input == "" {
			continue
		}

		messages = append(messages, engine.ChatMessage{Role: "user", Content: input})

		resp, err := d.Submit(ctx, modelName, daemon.GenerateRequest{
			Messages: messages,
			Params: engine.GenerateParams{
				Temperature: 0.7,
				TopP:        0.9,
				MaxTokens:   2048,
			},
		}, poolcore.Normal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		tokenCh, ok := resp.Value.(<-chan domain.Token)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unexpected response type from model\n")
			continue
		}

		var response strings.Builder
		for tok := range tokenCh {
			fmt.Print(tok.Text)
			response.WriteString(tok.Text)
		}
		fmt.Println()
		fmt.Println()

		messages = append(messages, engine.ChatMessage{Role: "assistant", Content: response.String()})
	}

	return nil
}
