// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"net/http"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
)

// # Operations

// Canonical operation names shared by the CRUD surface, descriptors'
// permission maps, and the script executor.
const (
	OpFind           = "find"
	OpFindOne        = "findOne"
	OpInsertOne      = "insertOne"
	OpInsertMany     = "insertMany"
	OpUpdateOne      = "updateOne"
	OpUpdateMany     = "updateMany"
	OpReplaceOne     = "replaceOne"
	OpDeleteOne      = "deleteOne"
	OpDeleteMany     = "deleteMany"
	OpAggregate      = "aggregate"
	OpCountDocuments = "countDocuments"
	OpDistinct       = "distinct"
	OpExplain        = "explain"
)

// methodOperations is the strict-mode allowlist: which operations each HTTP
// method may carry.
var methodOperations = map[string]map[string]bool{
	http.MethodGet: {
		OpFind: true, OpFindOne: true, OpCountDocuments: true,
		OpDistinct: true, OpAggregate: true, OpExplain: true,
	},
	http.MethodPost: {
		OpInsertOne: true, OpInsertMany: true, OpAggregate: true,
	},
	// PUT means full replacement; partial-update intent on PUT is the
	// canonical strict-mode rejection, pointed at PATCH.
	http.MethodPut: {
		OpReplaceOne: true,
	},
	http.MethodPatch: {
		OpUpdateOne: true, OpUpdateMany: true,
	},
	http.MethodDelete: {
		OpDeleteOne: true, OpDeleteMany: true,
	},
}

// suggestedMethod is the hint attached to a strict-mode rejection: the
// method that would have carried the operation.
var suggestedMethod = map[string]string{
	OpFind:           http.MethodGet,
	OpFindOne:        http.MethodGet,
	OpCountDocuments: http.MethodGet,
	OpDistinct:       http.MethodGet,
	OpExplain:        http.MethodGet,
	OpAggregate:      http.MethodPost,
	OpInsertOne:      http.MethodPost,
	OpInsertMany:     http.MethodPost,
	OpReplaceOne:     http.MethodPut,
	OpUpdateOne:      http.MethodPatch,
	OpUpdateMany:     http.MethodPatch,
	OpDeleteOne:      http.MethodDelete,
	OpDeleteMany:     http.MethodDelete,
}

// isWriteOperation separates the operations that mutate documents from the
// read surface; writes invalidate the result cache and need editor rights.
func isWriteOperation(operation string) bool {
	switch operation {
	case OpInsertOne, OpInsertMany, OpUpdateOne, OpUpdateMany,
		OpReplaceOne, OpDeleteOne, OpDeleteMany:
		return true
	}
	return false
}

// CheckMethod enforces the method ↔ operation table. Outside strict mode
// every combination passes; in strict mode a mismatch is rejected with the
// method that would have been accepted.
func CheckMethod(strict bool, method, operation string) error {
	if !strict {
		return nil
	}
	if methodOperations[method][operation] {
		return nil
	}
	return apperr.MethodMismatch(operation, method, suggestedMethod[operation])
}
