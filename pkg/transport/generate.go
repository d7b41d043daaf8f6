package transport

import (
	_ "go.uber.org/mock/gomock"
)

//go:generate mockgen -package mocks -destination mocks/mock_transport.go github.com/kasuboski/amnis/pkg/transport Transport
