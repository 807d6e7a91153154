// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package governance

import "errors"

var (
	ErrUnknownRound       = errors.New("unknown round")
	ErrVotingClosed       = errors.New("voting period has ended")
	ErrZeroPower          = errors.New("vote power must be positive")
	ErrInvalidChoice      = errors.New("invalid vote choice")
	ErrNotShareholder     = errors.New("account holds no subject shares")
	ErrRoundOngoing       = errors.New("round already open for subject")
	ErrChallengeOngoing   = errors.New("challenge already ongoing")
	ErrSaleOngoing        = errors.New("subject already has a pending sale")
	ErrAuctionOngoing     = errors.New("subject already has an open auction")
	ErrZeroVotingPeriod   = errors.New("voting period must be positive")
	ErrMissingBeneficiary = errors.New("maintenance proposal needs a beneficiary")
)
