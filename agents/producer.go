package agents

import (
	"context"

	"github.com/deepnoodle-ai/codeflow"
)

const producerSystem = `You are a software engineer implementing a planned change.
Follow the instruction exactly and stay within its scope.
Respond with a precise description of the changes you made: every file touched
and what changed in it. Do not describe work you did not do.`

// Producer implements codeflow.Producer with an LLM. The session token
// continues the same conversation across review iterations of one task, so
// rejection feedback lands in a context that has seen the prior attempt.
type Producer struct {
	client *Client
}

func NewProducer(client *Client) *Producer {
	return &Producer{client: client}
}

func (p *Producer) Produce(ctx context.Context, instruction, sessionToken string) (*codeflow.ProduceResult, error) {
	text, token, err := p.client.send(ctx, producerSystem, instruction, sessionToken)
	if err != nil {
		return nil, err
	}
	return &codeflow.ProduceResult{
		ChangeDescription: text,
		SessionToken:      token,
	}, nil
}
