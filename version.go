package erpcore

// Version is the module version, overridable at link time:
//
//	go build -ldflags "-X github.com/erp-fd/erp-processing-context.Version=1.2.3"
var Version = "0.9.0-dev"
