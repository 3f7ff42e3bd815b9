// Package main is a module which serves the plate-redactor vision service.
package main

import (
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"

	"github.com/viam-modules/plate-redaction/redactor"
)

func main() {
	module.ModularMain(resource.APIModel{API: vision.API, Model: redactor.Model})
}
