// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"os"

	"github.com/conveyorhq/conveyor/pkg/registry"
	"github.com/conveyorhq/conveyor/pkg/steps/delay"
	"github.com/conveyorhq/conveyor/pkg/steps/httprequest"
	"github.com/conveyorhq/conveyor/pkg/steps/sendemail"
	"github.com/conveyorhq/conveyor/pkg/steps/transform"
)

func registerNativeSteps(reg *registry.Registry) {
	reg.RegisterStep(httprequest.NewFactory())
	reg.RegisterStep(transform.NewFactory())
	reg.RegisterStep(delay.NewFactory())
	reg.RegisterStep(sendemail.NewFactory(sendemail.NewSendGridSender(os.Getenv("SENDGRID_API_KEY"))))
}

func NewRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeSteps(reg)

	return reg
}
