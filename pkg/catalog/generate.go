package catalog

import (
	_ "go.uber.org/mock/gomock"
)

//go:generate mockgen -package mocks -destination mocks/mock_client.go github.com/kasuboski/amnis/pkg/catalog Client
