package web

import (
	_ "embed"
)

// OpenAPISpec is the API description served under /api/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
