package modules

import (
	"github.com/workmesh/assign-sdk/modules/assignment"
	"github.com/workmesh/assign-sdk/pkg/application"
)

var BuiltInModules = []application.Module{
	assignment.NewModule(nil),
}

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
