// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// sqlgate is the SQL query lifecycle control plane: it plans, policies, and
// audits natural-language-derived SQL before it reaches the database.
package main

import (
	"fmt"
	"os"

	"axonflow/sqlgate/gate"
)

func main() {
	if err := gate.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sqlgate: %v\n", err)
		os.Exit(1)
	}
}
