// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package entities

import "github.com/fieldops/go-fieldsync/fieldsync"

// All returns every entity config in dependency order. Parents sync before
// the records that reference them, so a fresh pull never sees a dangling
// foreign key.
func All() []fieldsync.Entity {
	return []fieldsync.Entity{
		WorkOrders(),
		ChecklistInstances(),
		ChecklistAnswers(),
		Quotes(),
		Invoices(),
		Expenses(),
		ExecutionSessions(),
		Attachments(),
	}
}
