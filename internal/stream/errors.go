// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"

	"github.com/ckt1031/simple-chat/internal/model"
)

// Configuration errors, detected before any request.
var (
	ErrNoProvider = errors.New("no provider is enabled; enable one in settings")
	ErrNoModel    = errors.New("no model selected")
)

// Error codes attached to messages.
const (
	CodeNoProvider = "no_provider"
	CodeNoModel    = "no_model"
	CodeTimeout    = "timeout"
)

// Coded is implemented by backend errors that carry a status or category.
type Coded interface {
	error
	Code() string
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoProvider) || errors.Is(err, ErrNoModel)
}

// ToMessageError converts err into the structured form stored on messages.
func ToMessageError(err error) *model.MessageError {
	if err == nil {
		return nil
	}

	var me *model.MessageError
	if errors.As(err, &me) {
		c := *me
		return &c
	}

	out := &model.MessageError{Message: err.Error()}
	var coded Coded
	switch {
	case errors.Is(err, ErrNoProvider):
		out.Code = CodeNoProvider
	case errors.Is(err, ErrNoModel):
		out.Code = CodeNoModel
	case errors.Is(err, context.DeadlineExceeded):
		out.Code = CodeTimeout
	case errors.As(err, &coded):
		out.Code = coded.Code()
	}
	return out
}
