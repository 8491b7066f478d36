package worker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

const (
	defaultAPIKeyEnv = "ANTHROPIC_API_KEY"
	defaultMaxTokens = 4096
)

// AnthropicWorker asks a model to complete the task through the Messages API
// and returns the concatenated text blocks.
type AnthropicWorker struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicWorker creates a worker for spec. The API key is read from the
// environment variable named by spec.APIKeyEnv.
func NewAnthropicWorker(spec ProviderSpec, opts ...option.RequestOption) (*AnthropicWorker, error) {
	if spec.Model == "" {
		return nil, domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("provider %s: model is empty", spec.Name))
	}
	keyEnv := spec.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultAPIKeyEnv
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("provider %s: %s is not set", spec.Name, keyEnv))
	}
	maxTokens := int64(spec.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicWorker{
		client:    anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(key)}, opts...)...),
		model:     spec.Model,
		maxTokens: maxTokens,
	}, nil
}

// Execute implements domain.WorkerPort.
func (w *AnthropicWorker) Execute(ctx context.Context, task domain.Task) (domain.CandidateOutput, error) {
	msg, err := w.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(w.model),
		MaxTokens: w.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt(task))),
		},
	})
	if err != nil {
		return domain.CandidateOutput{}, domain.WrapEngineError(domain.ErrProviderFailed.Code, "anthropic messages", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return domain.CandidateOutput{Raw: b.String()}, nil
}

func prompt(task domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n\n%s\n", task.ID, task.Description)
	if len(task.DependsOn) > 0 {
		fmt.Fprintf(&b, "\nCompleted prerequisites: %s\n", strings.Join(task.DependsOn, ", "))
	}
	b.WriteString("\nRespond with the result only.")
	return b.String()
}
