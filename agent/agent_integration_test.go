//go:build integration

package agent

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/dockermodelrunner"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// model will be pulled in setupModel. see https://docs.docker.com/ai/model-runner/#pull-a-model
	modelName                       = "ai/smollm2"
	dockerModelRunnerOpenAIEndpoint = "http://localhost:12434/engines/v1"
)

var llm *openai.LLM

func TestMain(m *testing.M) {
	ctx := context.Background()

	dmrContainer, err := setupModel(ctx, modelName)
	if err != nil {
		fmt.Printf("Failed to set up model on Docker Model Runner: %v\n", err)
		os.Exit(1)
	}

	llm, err = openai.New(
		openai.WithBaseURL(dockerModelRunnerOpenAIEndpoint),
		openai.WithModel(modelName),
		openai.WithToken("dummy_value"),
	)
	if err != nil {
		fmt.Printf("Failed to initialize LLM: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if dmrContainer != nil {
		_ = dmrContainer.Terminate(ctx)
	}

	os.Exit(code)
}

func setupModel(ctx context.Context, name string) (testcontainers.Container, error) {
	dmrCtr, err := dockermodelrunner.Run(ctx)
	if err != nil {
		return nil, err
	}

	// Pull the model (this might take some time)
	if err := dmrCtr.PullModel(ctx, name); err != nil {
		return nil, err
	}

	return dmrCtr, nil
}

func TestAnswerWithLocalModel(t *testing.T) {
	a := New(llm, &staticStore{docs: tsawDocs}, WithRetryInterval(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	answer, err := a.Answer(ctx, "What services does TSAW offer?", PlainText)
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
}

func TestDeclineWithoutKnowledge(t *testing.T) {
	a := New(llm, &staticStore{})

	answer, err := a.Answer(context.Background(), "What is the capital of Peru?", PlainText)
	require.NoError(t, err)
	assert.Equal(t, DeclineMessage, answer)
}
