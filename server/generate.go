package server

import (
	_ "go.uber.org/mock/gomock"
)

//go:generate mockgen -package mocks -destination mocks/mock_manager.go github.com/kasuboski/amnis/server Manager
