package sendemail

import (
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/protocol"
)

// Factory creates send_email executors bound to one Sender.
type Factory struct {
	sender Sender
}

func NewFactory(sender Sender) *Factory {
	return &Factory{sender: sender}
}

func (f *Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	return NewExecutor(config, f.sender)
}

func (f *Factory) Type() models.StepType {
	return models.StepTypeSendEmail
}
