// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit codes for all commands.
//
// Commands always return errors; Execute decides how to display them.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ckt1031/simple-chat/internal/app"
	"github.com/ckt1031/simple-chat/internal/assets"
	"github.com/ckt1031/simple-chat/internal/cloud"
	"github.com/ckt1031/simple-chat/internal/config"
	"github.com/ckt1031/simple-chat/internal/conversation"
	"github.com/ckt1031/simple-chat/internal/export"
	"github.com/ckt1031/simple-chat/internal/ollama"
	"github.com/ckt1031/simple-chat/internal/reconcile"
	"github.com/ckt1031/simple-chat/internal/remote"
	"github.com/ckt1031/simple-chat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitBusyError     = 9
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// NotFoundError reports a missing chat, folder or asset.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// UsageError reports invalid arguments.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(NewJSONErrorResponse(err))
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		for _, v := range verrs {
			fmt.Fprintf(w, "  %s %s\n", WarningStyle.Render(v.Field), v.Message)
		}
	}
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var notFound *NotFoundError
	var verrs config.ValidateErrors
	var reqErr *remote.RequestError
	var apiErr *cloud.APIError
	var ollamaErr *ollama.ClientError

	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &verrs), errors.Is(err, app.ErrSyncDisabled):
		return ExitConfigError
	case errors.As(err, &notFound),
		errors.Is(err, conversation.ErrUnknownConversation),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrFolderNotFound),
		errors.Is(err, assets.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, reconcile.ErrSyncInProgress), errors.Is(err, export.ErrBusy):
		return ExitBusyError
	case errors.As(err, &reqErr), errors.As(err, &apiErr), errors.As(err, &ollamaErr):
		return ExitNetworkError
	}
	return ExitGeneralError
}
