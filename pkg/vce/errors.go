// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import "errors"

// Cycle errors
var (
	ErrNaNInjection           = errors.New("attempted NaN injection")
	ErrInvalidMsgTypeSequence = errors.New("invalid msg_type sequence")
	ErrUnboundMsgType         = errors.New("msg_type is not bound to a VCE parameter")
	ErrUnboundSymbol          = errors.New("symbol is not bound to a VCE parameter")
)

// Configuration and expression errors
var (
	ErrInvalidConfig   = errors.New("invalid VCE config")
	ErrSyntax          = errors.New("syntax error")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrUnknownFunction = errors.New("unknown function")
)

// Auxiliary function errors
var (
	ErrInsufficientArguments = errors.New("insufficient arguments")
	ErrEvaluation            = errors.New("evaluation failed")
	ErrScriptRead            = errors.New("failed to read script")
	ErrScriptExec            = errors.New("failed to execute script")
)
