// Copyright 2024 Mediatheque Authors
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

package common

import "errors"

// Structural errors: caller mistakes, reported as-is and never retried.
var (
	ErrCycle         = errors.New("move would make node its own ancestor")
	ErrNameCollision = errors.New("a sibling with this name already exists")
	ErrNotFound      = errors.New("not found")
	ErrExists        = errors.New("already exists")
	ErrNotFolder     = errors.New("not a folder")
	ErrInvalidName   = errors.New("invalid name")
)

// Integrity errors: the operation aborts with no side effects and is safe
// to retry once the caller fixes the condition.
var (
	ErrEmptyUpload    = errors.New("empty upload payload")
	ErrIntegrity      = errors.New("content hash mismatch")
	ErrQuotaExceeded  = errors.New("upload would exceed storage quota")
	ErrClassification = errors.New("content type not permitted")
)

// Conflict errors: optimistic concurrency lost a race; retrying the whole
// operation is sound.
var (
	ErrConflict  = errors.New("node changed concurrently")
	ErrCancelled = errors.New("operation cancelled before commit")
)

// ErrPhysical wraps failures from the underlying filesystem. The engine
// aborts cleanly; the transport layer may retry transient cases.
var ErrPhysical = errors.New("physical storage failure")
